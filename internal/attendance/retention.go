package attendance

import (
	"context"

	"rollcall/internal/metrics"
)

// SweepResult reports what a retention sweep removed.
type SweepResult struct {
	ActiveDate  string `json:"activeDate"`
	LogsDeleted int64  `json:"logsDeleted"`
	DaysDeleted int64  `json:"daysDeleted"`
}

// Sweep prunes log entries and day records older than the retention horizon.
// The active day and the history archive are never touched. A stale day is
// rolled over (and therefore archived) before anything is pruned.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	cur, err := s.ensureDay(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{ActiveDate: cur.Date}
	cutoff := now.Add(-s.retention)

	if res.LogsDeleted, err = s.store.DeleteLogs(ctx, cur.Date, cutoff); err != nil {
		return res, storageErr("delete logs", err)
	}
	metrics.SweepDeleted.WithLabelValues("logs").Add(float64(res.LogsDeleted))

	if res.DaysDeleted, err = s.store.DeleteDayRecords(ctx, cur.Date, cutoff); err != nil {
		return res, storageErr("delete day records", err)
	}
	metrics.SweepDeleted.WithLabelValues("days").Add(float64(res.DaysDeleted))
	return res, nil
}

package attendance

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/metrics"
)

// Rollover reasons recorded in log details and metrics.
const (
	ReasonDateChange = "date change"
	ReasonRefresh    = "automatic refresh"
)

// EnsureDay returns today's record, archiving the most recent stale record
// and starting a fresh one first when the calendar date has moved on.
// It is safe to call at the top of every operation.
func (s *Service) EnsureDay(ctx context.Context) (DayRecord, error) {
	return s.ensureDay(ctx, s.now())
}

func (s *Service) ensureDay(ctx context.Context, now time.Time) (DayRecord, error) {
	today := s.DateKey(now)
	rec, err := s.store.DayRecord(ctx, today)
	if err != nil {
		return DayRecord{}, storageErr("load day record", err)
	}
	if rec != nil {
		return *rec, nil
	}

	prev, err := s.store.LatestDayRecord(ctx)
	if err != nil {
		return DayRecord{}, storageErr("load latest day record", err)
	}
	if prev != nil && prev.Date != today {
		if _, _, err := s.archive(ctx, *prev, now); err != nil {
			return DayRecord{}, err
		}
	}

	fresh, err := s.freshRecord(ctx, today, now)
	if err != nil {
		return DayRecord{}, err
	}
	created, err := s.store.CreateDayRecord(ctx, fresh)
	if err != nil {
		return DayRecord{}, storageErr("create day record", err)
	}
	if !created {
		rec, err := s.store.DayRecord(ctx, today)
		if err != nil {
			return DayRecord{}, storageErr("load day record", err)
		}
		if rec != nil {
			return *rec, nil
		}
		return fresh, nil
	}
	if prev == nil {
		return fresh, nil
	}
	if err := s.logRollover(ctx, today, ReasonDateChange, now); err != nil {
		return DayRecord{}, err
	}
	metrics.Rollovers.WithLabelValues(ReasonDateChange).Inc()
	metrics.ObserveSummary(0, 0, fresh.Summary.Total)
	return fresh, nil
}

// Refresh archives today's record and replaces it with an all-Unmarked one,
// whether or not the date has changed. It backs the fixed-interval timer.
func (s *Service) Refresh(ctx context.Context) (DayRecord, error) {
	now := s.now()
	today := s.DateKey(now)

	cur, err := s.store.DayRecord(ctx, today)
	if err != nil {
		return DayRecord{}, storageErr("load day record", err)
	}
	if cur == nil {
		if cur, err = s.store.LatestDayRecord(ctx); err != nil {
			return DayRecord{}, storageErr("load latest day record", err)
		}
	}
	if cur != nil {
		if _, _, err := s.archive(ctx, *cur, now); err != nil {
			return DayRecord{}, err
		}
	}

	fresh, err := s.freshRecord(ctx, today, now)
	if err != nil {
		return DayRecord{}, err
	}
	if err := s.store.SaveDayRecord(ctx, fresh); err != nil {
		return DayRecord{}, storageErr("save day record", err)
	}
	if err := s.logRollover(ctx, today, ReasonRefresh, now); err != nil {
		return DayRecord{}, err
	}
	metrics.Rollovers.WithLabelValues(ReasonRefresh).Inc()
	metrics.ObserveSummary(0, 0, fresh.Summary.Total)
	return fresh, nil
}

// Archive snapshots the record for date into history. Archiving a date that
// already has a historical record returns the existing one with created=false.
func (s *Service) Archive(ctx context.Context, date string) (HistoricalRecord, bool, error) {
	if date == "" {
		return HistoricalRecord{}, false, fmt.Errorf("%w: date is required", ErrInvalidArgument)
	}
	rec, err := s.store.DayRecord(ctx, date)
	if err != nil {
		return HistoricalRecord{}, false, storageErr("load day record", err)
	}
	if rec == nil {
		return HistoricalRecord{}, false, fmt.Errorf("%w: no attendance data found for %s", ErrNotFound, date)
	}
	return s.archive(ctx, *rec, s.now())
}

func (s *Service) archive(ctx context.Context, rec DayRecord, now time.Time) (HistoricalRecord, bool, error) {
	existing, err := s.store.HistoricalRecord(ctx, rec.Date)
	if err != nil {
		return HistoricalRecord{}, false, storageErr("load historical record", err)
	}
	if existing != nil {
		return *existing, false, nil
	}
	snap := HistoricalRecord{
		Date:       rec.Date,
		Attendance: cloneAttendance(rec.Attendance),
		Summary:    Summarize(rec.Attendance),
		ArchivedAt: now.UTC(),
	}
	created, err := s.store.CreateHistoricalRecord(ctx, snap)
	if err != nil {
		return HistoricalRecord{}, false, storageErr("create historical record", err)
	}
	if !created {
		existing, err := s.store.HistoricalRecord(ctx, rec.Date)
		if err != nil {
			return HistoricalRecord{}, false, storageErr("load historical record", err)
		}
		if existing != nil {
			return *existing, false, nil
		}
		return snap, false, nil
	}
	metrics.Archives.Inc()
	return snap, true, nil
}

func (s *Service) logRollover(ctx context.Context, date, reason string, now time.Time) error {
	return s.appendLog(ctx, LogEntry{
		Date:           date,
		StudentName:    SystemActor,
		Action:         ActionSystem,
		PreviousStatus: Various(),
		CurrentStatus:  Logged(Unmarked),
		Detail:         reason,
	}, now)
}

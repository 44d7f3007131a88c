package attendance

import (
	"context"
	"time"

	"rollcall/internal/roster"
)

// Actor names used on log entries that do not refer to a real student.
const (
	SystemActor = "SYSTEM"
	BulkActor   = "BULK_OPERATION"
)

// Summary is derived from a day's attendance map and never stored as authority.
type Summary struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Total   int `json:"total"`
	Marked  int `json:"marked"`
}

// Summarize counts a full attendance map.
func Summarize(attendance map[string]Status) Summary {
	var s Summary
	for _, st := range attendance {
		switch st {
		case Present:
			s.Present++
		case Absent:
			s.Absent++
		}
	}
	s.Total = len(attendance)
	s.Marked = s.Present + s.Absent
	return s
}

// DayRecord is the authoritative attendance state for one calendar date.
type DayRecord struct {
	Date        string            `json:"date"`
	Attendance  map[string]Status `json:"attendance"`
	Summary     Summary           `json:"summary"`
	LastUpdated time.Time         `json:"lastUpdated"`
}

// Clone returns a deep copy of r.
func (r DayRecord) Clone() DayRecord {
	r.Attendance = cloneAttendance(r.Attendance)
	return r
}

// HistoricalRecord is an immutable snapshot of a past DayRecord.
type HistoricalRecord struct {
	Date       string            `json:"date"`
	Attendance map[string]Status `json:"attendance"`
	Summary    Summary           `json:"summary"`
	ArchivedAt time.Time         `json:"archivedAt"`
}

// Clone returns a deep copy of h.
func (h HistoricalRecord) Clone() HistoricalRecord {
	h.Attendance = cloneAttendance(h.Attendance)
	return h
}

// LogEntry is one append-only line of a day's action history.
type LogEntry struct {
	ID             string    `json:"id"`
	Date           string    `json:"date"`
	StudentName    string    `json:"studentName"`
	Action         Action    `json:"action"`
	PreviousStatus LogStatus `json:"previousStatus"`
	CurrentStatus  LogStatus `json:"currentStatus"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Store is the persistence surface the attendance core depends on.
// Lookups return a nil pointer and nil error when the record is absent.
type Store interface {
	ActiveStudents(ctx context.Context) ([]roster.Student, error)

	DayRecord(ctx context.Context, date string) (*DayRecord, error)
	LatestDayRecord(ctx context.Context) (*DayRecord, error)
	// CreateDayRecord stores rec only if no record exists for rec.Date.
	CreateDayRecord(ctx context.Context, rec DayRecord) (bool, error)
	// SaveDayRecord inserts or overwrites the record for rec.Date.
	SaveDayRecord(ctx context.Context, rec DayRecord) error
	// DeleteDayRecords removes records other than keepDate last updated before cutoff.
	DeleteDayRecords(ctx context.Context, keepDate string, cutoff time.Time) (int64, error)

	AppendLog(ctx context.Context, entry LogEntry) error
	// Logs returns up to limit entries for date, newest first.
	Logs(ctx context.Context, date string, limit int) ([]LogEntry, error)
	// DeleteLogs removes entries not dated keepDate with a timestamp before cutoff.
	DeleteLogs(ctx context.Context, keepDate string, cutoff time.Time) (int64, error)

	HistoricalRecord(ctx context.Context, date string) (*HistoricalRecord, error)
	// CreateHistoricalRecord stores rec only if no record exists for rec.Date.
	CreateHistoricalRecord(ctx context.Context, rec HistoricalRecord) (bool, error)
	// ListHistory returns records ordered by date descending and the total count.
	ListHistory(ctx context.Context, offset, limit int) ([]HistoricalRecord, int, error)

	// ClearAttendance deletes day records, logs and history. The roster is kept.
	ClearAttendance(ctx context.Context) error
}

func cloneAttendance(m map[string]Status) map[string]Status {
	out := make(map[string]Status, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/metrics"
	"rollcall/internal/roster"
)

// DateLayout is the calendar-day key used for DayRecord and HistoricalRecord.
const DateLayout = "2006-01-02"

const (
	defaultRetention = 12 * time.Hour
	defaultLogLimit  = 50
	maxLogLimit      = 500
)

// Options configures a Service. Zero values select defaults.
type Options struct {
	// Location decides where calendar days start. Defaults to time.Local.
	Location *time.Location
	// Retention is the age after which logs and stale day records are pruned.
	Retention time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

// Service applies attendance transitions, rollover and retention on top of a Store.
type Service struct {
	store     Store
	loc       *time.Location
	retention time.Duration
	now       func() time.Time
}

// NewService creates a service backed by store.
func NewService(store Store, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, loc: opts.Location, retention: opts.Retention, now: opts.Now}
}

// DateKey returns the calendar-day key of t in the service's location.
func (s *Service) DateKey(t time.Time) string {
	return t.In(s.loc).Format(DateLayout)
}

// Change describes the outcome of a single-student mutation.
type Change struct {
	Student        string    `json:"student"`
	PreviousStatus Status    `json:"previousStatus"`
	CurrentStatus  Status    `json:"currentStatus"`
	Summary        Summary   `json:"summary"`
	Timestamp      time.Time `json:"timestamp"`
}

// SetStatus overwrites the status of one active student on date.
func (s *Service) SetStatus(ctx context.Context, date, name string, status Status) (Change, error) {
	if !status.Valid() {
		return Change{}, fmt.Errorf("%w: unknown status %d", ErrInvalidArgument, int8(status))
	}
	student, err := s.activeStudent(ctx, name)
	if err != nil {
		return Change{}, err
	}
	rec, err := s.dayRecord(ctx, date)
	if err != nil {
		return Change{}, err
	}
	return s.apply(ctx, rec, student.Name, status)
}

// Mark is the interactive variant of SetStatus. Marking a student with the
// status they already hold clears it back to Unmarked.
func (s *Service) Mark(ctx context.Context, date, name string, intent Status) (Change, error) {
	if intent != Present && intent != Absent {
		return Change{}, fmt.Errorf("%w: mark intent must be present or absent", ErrInvalidArgument)
	}
	student, err := s.activeStudent(ctx, name)
	if err != nil {
		return Change{}, err
	}
	rec, err := s.dayRecord(ctx, date)
	if err != nil {
		return Change{}, err
	}
	next := intent
	if rec.Attendance[student.Name] == intent {
		next = Unmarked
	}
	return s.apply(ctx, rec, student.Name, next)
}

func (s *Service) apply(ctx context.Context, rec DayRecord, name string, next Status) (Change, error) {
	now := s.now()
	prev := rec.Attendance[name]
	rec.Attendance[name] = next
	rec.Summary = Summarize(rec.Attendance)
	rec.LastUpdated = now.UTC()
	if err := s.store.SaveDayRecord(ctx, rec); err != nil {
		return Change{}, storageErr("save day record", err)
	}
	action := ActionFor(next)
	if err := s.appendLog(ctx, LogEntry{
		Date:           rec.Date,
		StudentName:    name,
		Action:         action,
		PreviousStatus: Logged(prev),
		CurrentStatus:  Logged(next),
	}, now); err != nil {
		return Change{}, err
	}
	metrics.StatusChanges.WithLabelValues(string(action)).Inc()
	metrics.ObserveSummary(rec.Summary.Present, rec.Summary.Absent, rec.Summary.Total)
	return Change{
		Student:        name,
		PreviousStatus: prev,
		CurrentStatus:  next,
		Summary:        rec.Summary,
		Timestamp:      now.UTC(),
	}, nil
}

// BulkResult is the outcome of BulkSetStatus.
type BulkResult struct {
	Updated int     `json:"updated"`
	Total   int     `json:"total"`
	Status  Status  `json:"status"`
	Summary Summary `json:"summary"`
}

// BulkSetStatus marks every active student Present or Absent on date.
// Updated counts only entries whose stored value changed.
func (s *Service) BulkSetStatus(ctx context.Context, date string, status Status) (BulkResult, error) {
	if status != Present && status != Absent {
		return BulkResult{}, fmt.Errorf("%w: bulk status must be present or absent", ErrInvalidArgument)
	}
	students, err := s.store.ActiveStudents(ctx)
	if err != nil {
		return BulkResult{}, storageErr("load roster", err)
	}
	if len(students) == 0 {
		return BulkResult{}, ErrEmptyRoster
	}
	rec, err := s.dayRecordFor(ctx, date, students)
	if err != nil {
		return BulkResult{}, err
	}
	updated := 0
	for _, st := range students {
		if cur, ok := rec.Attendance[st.Name]; !ok || cur != status {
			rec.Attendance[st.Name] = status
			updated++
		}
	}
	now := s.now()
	rec.Summary = Summarize(rec.Attendance)
	rec.LastUpdated = now.UTC()
	if err := s.store.SaveDayRecord(ctx, rec); err != nil {
		return BulkResult{}, storageErr("save day record", err)
	}
	if err := s.appendLog(ctx, LogEntry{
		Date:           rec.Date,
		StudentName:    BulkActor,
		Action:         ActionSystem,
		PreviousStatus: Various(),
		CurrentStatus:  Logged(status),
		Detail:         fmt.Sprintf("bulk marked %d students %s", updated, status),
	}, now); err != nil {
		return BulkResult{}, err
	}
	metrics.BulkOperations.WithLabelValues(status.String()).Inc()
	metrics.ObserveSummary(rec.Summary.Present, rec.Summary.Absent, rec.Summary.Total)
	return BulkResult{Updated: updated, Total: len(students), Status: status, Summary: rec.Summary}, nil
}

// Reset clears every active student back to Unmarked on date.
func (s *Service) Reset(ctx context.Context, date string) (Summary, error) {
	now := s.now()
	rec, err := s.freshRecord(ctx, date, now)
	if err != nil {
		return Summary{}, err
	}
	if err := s.store.SaveDayRecord(ctx, rec); err != nil {
		return Summary{}, storageErr("save day record", err)
	}
	if err := s.appendLog(ctx, LogEntry{
		Date:           rec.Date,
		StudentName:    SystemActor,
		Action:         ActionReset,
		PreviousStatus: Various(),
		CurrentStatus:  Logged(Unmarked),
		Detail:         "reset all attendance",
	}, now); err != nil {
		return Summary{}, err
	}
	metrics.Resets.Inc()
	metrics.ObserveSummary(rec.Summary.Present, rec.Summary.Absent, rec.Summary.Total)
	return rec.Summary, nil
}

func (s *Service) activeStudent(ctx context.Context, name string) (roster.Student, error) {
	key := roster.Key(name)
	if key == "" {
		return roster.Student{}, fmt.Errorf("%w: student name is required", ErrInvalidArgument)
	}
	students, err := s.store.ActiveStudents(ctx)
	if err != nil {
		return roster.Student{}, storageErr("load roster", err)
	}
	for _, st := range students {
		if roster.Key(st.Name) == key {
			return st, nil
		}
	}
	return roster.Student{}, fmt.Errorf("%w: student %q not found or inactive", ErrNotFound, strings.TrimSpace(name))
}

// dayRecord loads the record for date, creating it from the active roster
// when it does not exist yet.
func (s *Service) dayRecord(ctx context.Context, date string) (DayRecord, error) {
	return s.dayRecordFor(ctx, date, nil)
}

func (s *Service) dayRecordFor(ctx context.Context, date string, students []roster.Student) (DayRecord, error) {
	if date == "" {
		return DayRecord{}, fmt.Errorf("%w: date is required", ErrInvalidArgument)
	}
	rec, err := s.store.DayRecord(ctx, date)
	if err != nil {
		return DayRecord{}, storageErr("load day record", err)
	}
	if rec != nil {
		if rec.Attendance == nil {
			rec.Attendance = map[string]Status{}
		}
		return *rec, nil
	}
	if students == nil {
		if students, err = s.store.ActiveStudents(ctx); err != nil {
			return DayRecord{}, storageErr("load roster", err)
		}
	}
	fresh := newDayRecord(date, students, s.now())
	created, err := s.store.CreateDayRecord(ctx, fresh)
	if err != nil {
		return DayRecord{}, storageErr("create day record", err)
	}
	if created {
		return fresh, nil
	}
	// Lost a create race; use whatever won.
	rec, err = s.store.DayRecord(ctx, date)
	if err != nil {
		return DayRecord{}, storageErr("load day record", err)
	}
	if rec == nil {
		return fresh, nil
	}
	return *rec, nil
}

// freshRecord builds an all-Unmarked record for date from the active roster.
func (s *Service) freshRecord(ctx context.Context, date string, now time.Time) (DayRecord, error) {
	if date == "" {
		return DayRecord{}, fmt.Errorf("%w: date is required", ErrInvalidArgument)
	}
	students, err := s.store.ActiveStudents(ctx)
	if err != nil {
		return DayRecord{}, storageErr("load roster", err)
	}
	return newDayRecord(date, students, now), nil
}

func newDayRecord(date string, students []roster.Student, now time.Time) DayRecord {
	att := make(map[string]Status, len(students))
	for _, st := range students {
		att[st.Name] = Unmarked
	}
	return DayRecord{
		Date:        date,
		Attendance:  att,
		Summary:     Summarize(att),
		LastUpdated: now.UTC(),
	}
}

func (s *Service) appendLog(ctx context.Context, entry LogEntry, now time.Time) error {
	entry.ID = uuid.NewString()
	entry.Timestamp = now.UTC()
	if err := s.store.AppendLog(ctx, entry); err != nil {
		return storageErr("append log", err)
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/roster"
)

// Memory is a process-local backend for development and tests. The mutex only
// protects the maps; callers still get last-write-wins semantics.
type Memory struct {
	mu       sync.Mutex
	students map[string]roster.Student
	days     map[string]attendance.DayRecord
	logs     []attendance.LogEntry
	history  map[string]attendance.HistoricalRecord
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		students: map[string]roster.Student{},
		days:     map[string]attendance.DayRecord{},
		history:  map[string]attendance.HistoricalRecord{},
	}
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

// ---------- Roster ----------

func (m *Memory) ListStudents(context.Context) ([]roster.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]roster.Student, 0, len(m.students))
	for _, st := range m.students {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Memory) ActiveStudents(context.Context) ([]roster.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []roster.Student
	for _, st := range m.students {
		if st.IsActive {
			out = append(out, st)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (m *Memory) StudentByID(_ context.Context, id string) (*roster.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *Memory) StudentByName(_ context.Context, name string) (*roster.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := roster.Key(name)
	for _, st := range m.students {
		if roster.Key(st.Name) == key {
			st := st
			return &st, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateStudent(_ context.Context, st roster.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := roster.Key(st.Name)
	for _, other := range m.students {
		if roster.Key(other.Name) == key {
			return roster.ErrConflict
		}
	}
	m.students[st.ID] = st
	return nil
}

func (m *Memory) UpdateStudent(_ context.Context, st roster.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[st.ID]; !ok {
		return roster.ErrNotFound
	}
	key := roster.Key(st.Name)
	for id, other := range m.students {
		if id != st.ID && roster.Key(other.Name) == key {
			return roster.ErrConflict
		}
	}
	m.students[st.ID] = st
	return nil
}

func (m *Memory) DeleteStudent(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[id]; !ok {
		return false, nil
	}
	delete(m.students, id)
	return true, nil
}

func (m *Memory) CountStudents(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.students), nil
}

// ---------- Day records ----------

func (m *Memory) DayRecord(_ context.Context, date string) (*attendance.DayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.days[date]
	if !ok {
		return nil, nil
	}
	rec = rec.Clone()
	return &rec, nil
}

func (m *Memory) LatestDayRecord(context.Context) (*attendance.DayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *attendance.DayRecord
	for _, rec := range m.days {
		if latest == nil || rec.Date > latest.Date {
			rec := rec.Clone()
			latest = &rec
		}
	}
	return latest, nil
}

func (m *Memory) CreateDayRecord(_ context.Context, rec attendance.DayRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.days[rec.Date]; ok {
		return false, nil
	}
	m.days[rec.Date] = rec.Clone()
	return true, nil
}

func (m *Memory) SaveDayRecord(_ context.Context, rec attendance.DayRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[rec.Date] = rec.Clone()
	return nil
}

func (m *Memory) DeleteDayRecords(_ context.Context, keepDate string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for date, rec := range m.days {
		if date != keepDate && rec.LastUpdated.Before(cutoff) {
			delete(m.days, date)
			n++
		}
	}
	return n, nil
}

// ---------- Logs ----------

func (m *Memory) AppendLog(_ context.Context, entry attendance.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *Memory) Logs(_ context.Context, date string, limit int) ([]attendance.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []attendance.LogEntry
	// Walk backwards so equal timestamps keep newest-appended first.
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].Date == date {
			out = append(out, m.logs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) DeleteLogs(_ context.Context, keepDate string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.logs[:0]
	var n int64
	for _, e := range m.logs {
		if e.Date != keepDate && e.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.logs = kept
	return n, nil
}

// ---------- History ----------

func (m *Memory) HistoricalRecord(_ context.Context, date string) (*attendance.HistoricalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.history[date]
	if !ok {
		return nil, nil
	}
	rec = rec.Clone()
	return &rec, nil
}

func (m *Memory) CreateHistoricalRecord(_ context.Context, rec attendance.HistoricalRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.history[rec.Date]; ok {
		return false, nil
	}
	m.history[rec.Date] = rec.Clone()
	return true, nil
}

func (m *Memory) ListHistory(_ context.Context, offset, limit int) ([]attendance.HistoricalRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dates := make([]string, 0, len(m.history))
	for d := range m.history {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	total := len(dates)
	if offset < 0 {
		return nil, total, fmt.Errorf("list history: negative offset %d", offset)
	}
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && limit < total-offset {
		end = offset + limit
	}
	out := make([]attendance.HistoricalRecord, 0, end-offset)
	for _, d := range dates[offset:end] {
		out = append(out, m.history[d].Clone())
	}
	return out, total, nil
}

func (m *Memory) ClearAttendance(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days = map[string]attendance.DayRecord{}
	m.logs = nil
	m.history = map[string]attendance.HistoricalRecord{}
	return nil
}

func sortByCreation(students []roster.Student) {
	sort.Slice(students, func(i, j int) bool {
		if !students[i].CreatedAt.Equal(students[j].CreatedAt) {
			return students[i].CreatedAt.Before(students[j].CreatedAt)
		}
		return students[i].Name < students[j].Name
	})
}

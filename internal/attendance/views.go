package attendance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"rollcall/internal/roster"
)

const (
	defaultPageSize = 30
	maxPageSize     = 100
)

// Snapshot is today's attendance as shown to the marking UI.
type Snapshot struct {
	Date       string            `json:"date"`
	Students   []string          `json:"students"`
	Attendance map[string]Status `json:"attendance"`
	Summary    Summary           `json:"summary"`
}

// Today rolls over if needed and returns the current day with the active roster.
func (s *Service) Today(ctx context.Context) (Snapshot, error) {
	rec, err := s.EnsureDay(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	students, err := s.store.ActiveStudents(ctx)
	if err != nil {
		return Snapshot{}, storageErr("load roster", err)
	}
	names := make([]string, 0, len(students))
	for _, st := range students {
		names = append(names, st.Name)
	}
	return Snapshot{Date: rec.Date, Students: names, Attendance: rec.Attendance, Summary: rec.Summary}, nil
}

// BoardEntry is one student on the display board.
type BoardEntry struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Board groups today's students by status for a kiosk display.
type Board struct {
	Date        string       `json:"date"`
	Summary     Summary      `json:"summary"`
	Present     []BoardEntry `json:"presentStudents"`
	Absent      []BoardEntry `json:"absentStudents"`
	Unmarked    []BoardEntry `json:"unmarkedStudents"`
	LastUpdated time.Time    `json:"lastUpdated"`
}

// Display returns today's board.
func (s *Service) Display(ctx context.Context) (Board, error) {
	rec, err := s.EnsureDay(ctx)
	if err != nil {
		return Board{}, err
	}
	names := make([]string, 0, len(rec.Attendance))
	for name := range rec.Attendance {
		names = append(names, name)
	}
	sort.Strings(names)

	b := Board{
		Date:        rec.Date,
		Summary:     rec.Summary,
		Present:     []BoardEntry{},
		Absent:      []BoardEntry{},
		Unmarked:    []BoardEntry{},
		LastUpdated: rec.LastUpdated,
	}
	for _, name := range names {
		e := BoardEntry{Name: name, DisplayName: roster.DisplayName(name)}
		switch rec.Attendance[name] {
		case Present:
			b.Present = append(b.Present, e)
		case Absent:
			b.Absent = append(b.Absent, e)
		default:
			b.Unmarked = append(b.Unmarked, e)
		}
	}
	return b, nil
}

// Logs returns the newest log entries for date.
func (s *Service) Logs(ctx context.Context, date string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	entries, err := s.store.Logs(ctx, date, limit)
	if err != nil {
		return nil, storageErr("query logs", err)
	}
	if entries == nil {
		entries = []LogEntry{}
	}
	return entries, nil
}

// Pagination describes where a history page sits in the archive.
type Pagination struct {
	CurrentPage  int  `json:"currentPage"`
	TotalPages   int  `json:"totalPages"`
	TotalRecords int  `json:"totalRecords"`
	HasNext      bool `json:"hasNext"`
	HasPrev      bool `json:"hasPrev"`
}

// HistoryPage is one page of archived days, newest date first.
type HistoryPage struct {
	Records    []HistoricalRecord `json:"records"`
	Pagination Pagination         `json:"pagination"`
}

// History lists archived days. page is 1-based.
func (s *Service) History(ctx context.Context, page, pageSize int) (HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	// page*pageSize must fit in an int.
	if upper := math.MaxInt / pageSize; page > upper {
		page = upper
	}
	records, total, err := s.store.ListHistory(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return HistoryPage{}, storageErr("list history", err)
	}
	if records == nil {
		records = []HistoricalRecord{}
	}
	return HistoryPage{
		Records: records,
		Pagination: Pagination{
			CurrentPage:  page,
			TotalPages:   (total + pageSize - 1) / pageSize,
			TotalRecords: total,
			HasNext:      page*pageSize < total,
			HasPrev:      page > 1,
		},
	}, nil
}

// HistoryFor returns the archived record for date.
func (s *Service) HistoryFor(ctx context.Context, date string) (HistoricalRecord, error) {
	if date == "" {
		return HistoricalRecord{}, fmt.Errorf("%w: date is required", ErrInvalidArgument)
	}
	rec, err := s.store.HistoricalRecord(ctx, date)
	if err != nil {
		return HistoricalRecord{}, storageErr("load historical record", err)
	}
	if rec == nil {
		return HistoricalRecord{}, fmt.Errorf("%w: no attendance record found for %s", ErrNotFound, date)
	}
	return *rec, nil
}

// ClearAll removes every day record, log entry and archived day.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.store.ClearAttendance(ctx); err != nil {
		return storageErr("clear attendance", err)
	}
	return nil
}

package attendance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rollcall/internal/attendance"
)

func TestEnsureDayStartsWithoutArchive(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	rec, err := f.svc.EnsureDay(ctx)
	if err != nil {
		t.Fatalf("EnsureDay: %v", err)
	}
	if rec.Date != "2026-10-15" || rec.Summary.Total != 2 || rec.Summary.Marked != 0 {
		t.Fatalf("record = %+v", rec)
	}
	page, _ := f.svc.History(ctx, 1, 10)
	if page.Pagination.TotalRecords != 0 {
		t.Fatalf("first start archived %d days", page.Pagination.TotalRecords)
	}
	if got := f.logs(t, rec.Date); len(got) != 0 {
		t.Fatalf("first start logged %+v", got)
	}

	again, err := f.svc.EnsureDay(ctx)
	if err != nil || again.Date != rec.Date {
		t.Fatalf("second EnsureDay = %+v, %v", again, err)
	}
}

func TestEnsureDayRollsOverOnDateChange(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	yesterday := f.today()
	f.svc.EnsureDay(ctx)
	f.svc.SetStatus(ctx, yesterday, "alice", attendance.Present)

	f.clock.Advance(24 * time.Hour)
	rec, err := f.svc.EnsureDay(ctx)
	if err != nil {
		t.Fatalf("EnsureDay: %v", err)
	}
	if rec.Date != "2026-10-16" || rec.Summary.Marked != 0 || rec.Summary.Total != 2 {
		t.Fatalf("new day = %+v", rec)
	}

	hist, err := f.svc.HistoryFor(ctx, yesterday)
	if err != nil {
		t.Fatalf("HistoryFor: %v", err)
	}
	if hist.Attendance["alice"] != attendance.Present || hist.Summary.Present != 1 {
		t.Fatalf("archived = %+v", hist)
	}

	entries := f.logs(t, rec.Date)
	if len(entries) != 1 {
		t.Fatalf("rollover logged %d entries, want 1", len(entries))
	}
	if e := entries[0]; e.StudentName != attendance.SystemActor || e.Action != attendance.ActionSystem || e.Detail != attendance.ReasonDateChange {
		t.Fatalf("rollover entry = %+v", e)
	}

	// Repeated checks on the same day are no-ops.
	f.clock.Advance(time.Hour)
	f.svc.EnsureDay(ctx)
	if got := f.logs(t, rec.Date); len(got) != 1 {
		t.Fatalf("second EnsureDay logged again: %d entries", len(got))
	}
	page, _ := f.svc.History(ctx, 1, 10)
	if page.Pagination.TotalRecords != 1 {
		t.Fatalf("history has %d records, want 1", page.Pagination.TotalRecords)
	}
}

func TestEnsureDayPicksUpRosterChanges(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	f.svc.EnsureDay(ctx)
	if _, err := f.roster.Add(ctx, "bob", "admin"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	f.clock.Advance(24 * time.Hour)
	rec, _ := f.svc.EnsureDay(ctx)
	if _, ok := rec.Attendance["bob"]; !ok || rec.Summary.Total != 2 {
		t.Fatalf("new day missing roster addition: %+v", rec)
	}
}

func TestArchiveIsIdempotent(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	date := f.today()
	f.svc.SetStatus(ctx, date, "alice", attendance.Absent)

	first, created, err := f.svc.Archive(ctx, date)
	if err != nil || !created {
		t.Fatalf("first Archive = %v, %v", created, err)
	}
	f.svc.SetStatus(ctx, date, "bob", attendance.Present)
	f.clock.Advance(time.Minute)
	second, created, err := f.svc.Archive(ctx, date)
	if err != nil || created {
		t.Fatalf("second Archive = %v, %v", created, err)
	}
	if !second.ArchivedAt.Equal(first.ArchivedAt) || second.Summary != first.Summary {
		t.Fatalf("second archive replaced the snapshot: %+v vs %+v", second, first)
	}
	page, _ := f.svc.History(ctx, 1, 10)
	if page.Pagination.TotalRecords != 1 {
		t.Fatalf("history has %d records, want 1", page.Pagination.TotalRecords)
	}
}

func TestArchiveMissingDay(t *testing.T) {
	f := newFixture(t, "alice")
	if _, _, err := f.svc.Archive(context.Background(), "2020-01-01"); !errors.Is(err, attendance.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRefreshArchivesAndResets(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	date := f.today()
	f.svc.SetStatus(ctx, date, "alice", attendance.Present)
	f.svc.SetStatus(ctx, date, "bob", attendance.Absent)

	f.clock.Advance(time.Minute)
	rec, err := f.svc.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rec.Date != date || rec.Summary.Marked != 0 {
		t.Fatalf("refreshed = %+v", rec)
	}
	hist, err := f.svc.HistoryFor(ctx, date)
	if err != nil || hist.Summary.Present != 1 || hist.Summary.Absent != 1 {
		t.Fatalf("archived = %+v, %v", hist, err)
	}
	if e := f.logs(t, date)[0]; e.Detail != attendance.ReasonRefresh {
		t.Fatalf("latest entry = %+v", e)
	}

	// A second refresh on the same date keeps the first snapshot.
	f.svc.SetStatus(ctx, date, "alice", attendance.Absent)
	if _, err := f.svc.Refresh(ctx); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	again, _ := f.svc.HistoryFor(ctx, date)
	if again.Summary != hist.Summary {
		t.Fatalf("snapshot changed: %+v", again.Summary)
	}
}

func TestHistoryForMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.HistoryFor(context.Background(), "2020-01-01")
	if !errors.Is(err, attendance.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestHistoryPagination(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := f.svc.EnsureDay(ctx); err != nil {
			t.Fatalf("EnsureDay: %v", err)
		}
		f.clock.Advance(24 * time.Hour)
	}
	// Four rollovers have archived 10-15 through 10-18.
	page, err := f.svc.History(ctx, 1, 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := attendance.Pagination{CurrentPage: 1, TotalPages: 2, TotalRecords: 4, HasNext: true}
	if page.Pagination != want {
		t.Fatalf("pagination = %+v, want %+v", page.Pagination, want)
	}
	if len(page.Records) != 3 || page.Records[0].Date != "2026-10-18" {
		t.Fatalf("records = %+v", page.Records)
	}

	page, _ = f.svc.History(ctx, 2, 3)
	if len(page.Records) != 1 || page.Records[0].Date != "2026-10-15" || !page.Pagination.HasPrev || page.Pagination.HasNext {
		t.Fatalf("page 2 = %+v", page)
	}

	page, _ = f.svc.History(ctx, 9, 3)
	if page.Records == nil || len(page.Records) != 0 {
		t.Fatalf("page past the end = %+v", page.Records)
	}
}

func TestHistoryHugePage(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.svc.EnsureDay(ctx); err != nil {
			t.Fatalf("EnsureDay: %v", err)
		}
		f.clock.Advance(24 * time.Hour)
	}
	for _, size := range []int{30, 1, 0, 1000} {
		page, err := f.svc.History(ctx, 400000000000000000, size)
		if err != nil {
			t.Fatalf("History(size %d): %v", size, err)
		}
		if len(page.Records) != 0 || page.Pagination.HasNext || !page.Pagination.HasPrev {
			t.Fatalf("History(size %d) = %+v", size, page)
		}
		if page.Pagination.TotalRecords != 2 {
			t.Fatalf("total = %d", page.Pagination.TotalRecords)
		}
	}
}

package attendance_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rollcall/internal/attendance"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	svc    *attendance.Service
	mem    *store.Memory
	roster *roster.Service
	clock  *clock
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	mem := store.NewMemory()
	rs := roster.NewService(mem)
	for _, n := range names {
		if _, err := rs.Add(context.Background(), n, "test"); err != nil {
			t.Fatalf("add %s: %v", n, err)
		}
	}
	clk := &clock{t: time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)}
	svc := attendance.NewService(mem, attendance.Options{Location: time.UTC, Now: clk.Now})
	return &fixture{svc: svc, mem: mem, roster: rs, clock: clk}
}

func (f *fixture) today() string { return f.svc.DateKey(f.clock.Now()) }

func (f *fixture) logs(t *testing.T, date string) []attendance.LogEntry {
	t.Helper()
	entries, err := f.svc.Logs(context.Background(), date, 100)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	return entries
}

func TestMarkScenario(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	date := f.today()

	steps := []struct {
		name   string
		intent attendance.Status
		want   attendance.Summary
	}{
		{"alice", attendance.Present, attendance.Summary{Present: 1, Absent: 0, Total: 2, Marked: 1}},
		{"bob", attendance.Absent, attendance.Summary{Present: 1, Absent: 1, Total: 2, Marked: 2}},
		{"alice", attendance.Present, attendance.Summary{Present: 0, Absent: 1, Total: 2, Marked: 1}},
	}
	for i, step := range steps {
		ch, err := f.svc.Mark(ctx, date, step.name, step.intent)
		if err != nil {
			t.Fatalf("step %d: Mark: %v", i, err)
		}
		if ch.Summary != step.want {
			t.Fatalf("step %d: summary = %+v, want %+v", i, ch.Summary, step.want)
		}
	}
}

func TestMarkToggleRules(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	date := f.today()

	ch, _ := f.svc.Mark(ctx, date, "alice", attendance.Present)
	if ch.CurrentStatus != attendance.Present {
		t.Fatalf("first mark = %v", ch.CurrentStatus)
	}
	ch, _ = f.svc.Mark(ctx, date, "alice", attendance.Present)
	if ch.PreviousStatus != attendance.Present || ch.CurrentStatus != attendance.Unmarked {
		t.Fatalf("second mark present = %+v, want toggle to unmarked", ch)
	}
	f.svc.Mark(ctx, date, "alice", attendance.Present)
	ch, _ = f.svc.Mark(ctx, date, "alice", attendance.Absent)
	if ch.CurrentStatus != attendance.Absent {
		t.Fatalf("present then absent = %v, want absent", ch.CurrentStatus)
	}

	if _, err := f.svc.Mark(ctx, date, "alice", attendance.Unmarked); !errors.Is(err, attendance.ErrInvalidArgument) {
		t.Fatalf("mark unmarked: got %v, want ErrInvalidArgument", err)
	}
}

func TestSetStatusOverwritesAndIsVisible(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	date := f.today()

	for _, st := range []attendance.Status{attendance.Present, attendance.Present, attendance.Absent, attendance.Unmarked} {
		ch, err := f.svc.SetStatus(ctx, date, "alice", st)
		if err != nil {
			t.Fatalf("SetStatus(%v): %v", st, err)
		}
		if ch.CurrentStatus != st {
			t.Fatalf("SetStatus(%v) returned %v", st, ch.CurrentStatus)
		}
		rec, _ := f.mem.DayRecord(ctx, date)
		if rec.Attendance["alice"] != st {
			t.Fatalf("stored %v, want %v", rec.Attendance["alice"], st)
		}
	}
}

func TestSetStatusMatchesNameCaseInsensitively(t *testing.T) {
	f := newFixture(t, "Lokesh")
	ctx := context.Background()
	ch, err := f.svc.SetStatus(ctx, f.today(), " lokesh", attendance.Present)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if ch.Student != "Lokesh" {
		t.Fatalf("student = %q, want canonical name", ch.Student)
	}
	rec, _ := f.mem.DayRecord(ctx, f.today())
	if _, ok := rec.Attendance["lokesh"]; ok {
		t.Fatal("lowercased key leaked into attendance map")
	}
}

func TestSetStatusRejectsUnknownAndInactive(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	bob, _ := f.mem.StudentByName(ctx, "bob")
	inactive := false
	if _, err := f.roster.Update(ctx, bob.ID, roster.Patch{IsActive: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	tests := []struct {
		name string
		want error
	}{
		{"zed", attendance.ErrNotFound},
		{"bob", attendance.ErrNotFound},
		{"  ", attendance.ErrInvalidArgument},
	}
	for _, tc := range tests {
		if _, err := f.svc.SetStatus(ctx, f.today(), tc.name, attendance.Present); !errors.Is(err, tc.want) {
			t.Errorf("SetStatus(%q): got %v, want %v", tc.name, err, tc.want)
		}
	}
	if got := f.logs(t, f.today()); len(got) != 0 {
		t.Fatalf("failed calls appended logs: %+v", got)
	}
}

func TestEachMutationAppendsOneLog(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	date := f.today()

	f.svc.SetStatus(ctx, date, "alice", attendance.Absent)
	f.clock.Advance(time.Second)
	f.svc.Mark(ctx, date, "alice", attendance.Absent)

	entries := f.logs(t, date)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	latest := entries[0]
	if latest.Action != attendance.ActionUnmarked || latest.StudentName != "alice" {
		t.Fatalf("latest = %+v", latest)
	}
	if latest.PreviousStatus != attendance.Logged(attendance.Absent) || latest.CurrentStatus != attendance.Logged(attendance.Unmarked) {
		t.Fatalf("latest statuses = %v -> %v", latest.PreviousStatus, latest.CurrentStatus)
	}
	if entries[1].Action != attendance.ActionMarkedAbsent {
		t.Fatalf("first action = %q", entries[1].Action)
	}
}

func TestBulkSetStatusIsIdempotent(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	date := f.today()
	f.svc.SetStatus(ctx, date, "bob", attendance.Present)

	res, err := f.svc.BulkSetStatus(ctx, date, attendance.Present)
	if err != nil {
		t.Fatalf("BulkSetStatus: %v", err)
	}
	if res.Updated != 2 || res.Total != 3 {
		t.Fatalf("first bulk = %+v, want 2 updated of 3", res)
	}
	if want := (attendance.Summary{Present: 3, Total: 3, Marked: 3}); res.Summary != want {
		t.Fatalf("summary = %+v, want %+v", res.Summary, want)
	}

	res, err = f.svc.BulkSetStatus(ctx, date, attendance.Present)
	if err != nil || res.Updated != 0 {
		t.Fatalf("second bulk = %+v, %v; want 0 updated", res, err)
	}

	var bulk int
	for _, e := range f.logs(t, date) {
		if e.StudentName == attendance.BulkActor {
			bulk++
			if e.Action != attendance.ActionSystem || !e.PreviousStatus.Various || e.CurrentStatus.Status != attendance.Present {
				t.Fatalf("bulk entry = %+v", e)
			}
		}
	}
	if bulk != 2 {
		t.Fatalf("bulk log entries = %d, want one per call", bulk)
	}
}

func TestBulkSetStatusErrors(t *testing.T) {
	empty := newFixture(t)
	if _, err := empty.svc.BulkSetStatus(context.Background(), empty.today(), attendance.Absent); !errors.Is(err, attendance.ErrEmptyRoster) {
		t.Fatalf("empty roster: got %v", err)
	}
	f := newFixture(t, "alice")
	if _, err := f.svc.BulkSetStatus(context.Background(), f.today(), attendance.Unmarked); !errors.Is(err, attendance.ErrInvalidArgument) {
		t.Fatalf("unmarked bulk: got %v", err)
	}
}

func TestBulkCreatesMissingRecord(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	date := "2026-10-20"
	res, err := f.svc.BulkSetStatus(ctx, date, attendance.Absent)
	if err != nil {
		t.Fatalf("BulkSetStatus: %v", err)
	}
	if res.Updated != 2 || res.Summary.Absent != 2 {
		t.Fatalf("result = %+v", res)
	}
	if rec, _ := f.mem.DayRecord(ctx, date); rec == nil {
		t.Fatal("record not created")
	}
}

func TestResetClearsMixedDay(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	date := f.today()
	f.svc.SetStatus(ctx, date, "alice", attendance.Present)
	f.svc.SetStatus(ctx, date, "bob", attendance.Absent)
	before := len(f.logs(t, date))
	f.clock.Advance(time.Second)

	sum, err := f.svc.Reset(ctx, date)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if want := (attendance.Summary{Total: 3}); sum != want {
		t.Fatalf("summary = %+v, want %+v", sum, want)
	}
	entries := f.logs(t, date)
	if len(entries) != before+1 {
		t.Fatalf("reset appended %d entries, want 1", len(entries)-before)
	}

	// Resetting an already clean day still logs.
	sum2, err := f.svc.Reset(ctx, date)
	if err != nil || sum2 != sum {
		t.Fatalf("second reset = %+v, %v", sum2, err)
	}
	entries = f.logs(t, date)
	if len(entries) != before+2 {
		t.Fatalf("second reset was not logged")
	}
	for _, e := range entries[:2] {
		if e.Action != attendance.ActionReset || e.StudentName != attendance.SystemActor || !e.PreviousStatus.Various {
			t.Fatalf("reset entry = %+v", e)
		}
	}
}

func TestSummaryAlwaysMatchesRecomputation(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e"}
	f := newFixture(t, names...)
	ctx := context.Background()
	date := f.today()
	rng := rand.New(rand.NewSource(7))
	statuses := []attendance.Status{attendance.Unmarked, attendance.Present, attendance.Absent}

	for i := 0; i < 200; i++ {
		var err error
		switch rng.Intn(5) {
		case 0:
			_, err = f.svc.SetStatus(ctx, date, names[rng.Intn(len(names))], statuses[rng.Intn(3)])
		case 1:
			_, err = f.svc.Mark(ctx, date, names[rng.Intn(len(names))], statuses[1+rng.Intn(2)])
		case 2:
			_, err = f.svc.BulkSetStatus(ctx, date, statuses[1+rng.Intn(2)])
		case 3:
			_, err = f.svc.Reset(ctx, date)
		default:
			_, err = f.svc.Mark(ctx, date, names[rng.Intn(len(names))], attendance.Present)
		}
		if err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		rec, _ := f.mem.DayRecord(ctx, date)
		if diff := cmp.Diff(attendance.Summarize(rec.Attendance), rec.Summary); diff != "" {
			t.Fatalf("op %d: stored summary drifted (-want +got):\n%s", i, diff)
		}
		s := rec.Summary
		if s.Present+s.Absent != s.Marked || s.Marked > s.Total {
			t.Fatalf("op %d: invariant broken: %+v", i, s)
		}
	}
}

type failingStore struct {
	*store.Memory
}

func (failingStore) DayRecord(context.Context, string) (*attendance.DayRecord, error) {
	return nil, errors.New("connection reset")
}

func TestStorageFailuresAreWrapped(t *testing.T) {
	mem := store.NewMemory()
	rs := roster.NewService(mem)
	rs.Add(context.Background(), "alice", "test")
	svc := attendance.NewService(failingStore{mem}, attendance.Options{Location: time.UTC})

	_, err := svc.SetStatus(context.Background(), "2026-10-15", "alice", attendance.Present)
	if !errors.Is(err, attendance.ErrStorage) {
		t.Fatalf("got %v, want ErrStorage", err)
	}
	if _, err := svc.EnsureDay(context.Background()); !errors.Is(err, attendance.ErrStorage) {
		t.Fatalf("EnsureDay: got %v, want ErrStorage", err)
	}
}

func TestDisplayGroupsByStatus(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	date := f.today()
	f.svc.SetStatus(ctx, date, "alice", attendance.Present)
	f.svc.SetStatus(ctx, date, "carol", attendance.Absent)

	b, err := f.svc.Display(ctx)
	if err != nil {
		t.Fatalf("Display: %v", err)
	}
	want := attendance.Board{
		Date:        date,
		Summary:     attendance.Summary{Present: 1, Absent: 1, Total: 3, Marked: 2},
		Present:     []attendance.BoardEntry{{Name: "alice", DisplayName: "Alice"}},
		Absent:      []attendance.BoardEntry{{Name: "carol", DisplayName: "Carol"}},
		Unmarked:    []attendance.BoardEntry{{Name: "bob", DisplayName: "Bob"}},
		LastUpdated: f.clock.Now(),
	}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Fatalf("board mismatch (-want +got):\n%s", diff)
	}
}

func TestTodayListsActiveRoster(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	snap, err := f.svc.Today(context.Background())
	if err != nil {
		t.Fatalf("Today: %v", err)
	}
	if snap.Date != "2026-10-15" || len(snap.Students) != 2 || snap.Summary.Total != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	for _, name := range snap.Students {
		if st, ok := snap.Attendance[name]; !ok || st != attendance.Unmarked {
			t.Fatalf("%s = %v, %v", name, st, ok)
		}
	}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/roster"
)

// SQL persists the roster and attendance in Postgres or SQLite.
type SQL struct {
	db *sql.DB
	d  dialect
}

// Ping verifies the connection.
func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the underlying connection pool.
func (s *SQL) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQL) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(q), args...)
}

func (s *SQL) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(q), args...)
}

func (s *SQL) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(q), args...)
}

type scanner interface {
	Scan(dest ...any) error
}

// ---------- Roster ----------

const studentColumns = `id, name, display_name, is_active, added_by, created_at`

func scanStudent(row scanner) (roster.Student, error) {
	var st roster.Student
	err := row.Scan(&st.ID, &st.Name, &st.DisplayName, &st.IsActive, &st.AddedBy, &st.CreatedAt)
	return st, err
}

func (s *SQL) students(ctx context.Context, q string, args ...any) ([]roster.Student, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []roster.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQL) ListStudents(ctx context.Context) ([]roster.Student, error) {
	return s.students(ctx, `SELECT `+studentColumns+` FROM students ORDER BY created_at DESC, name`)
}

func (s *SQL) ActiveStudents(ctx context.Context) ([]roster.Student, error) {
	return s.students(ctx, `SELECT `+studentColumns+` FROM students WHERE is_active = ? ORDER BY created_at, name`, true)
}

func (s *SQL) studentWhere(ctx context.Context, where string, arg any) (*roster.Student, error) {
	st, err := scanStudent(s.queryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

func (s *SQL) StudentByID(ctx context.Context, id string) (*roster.Student, error) {
	return s.studentWhere(ctx, `id = ?`, id)
}

func (s *SQL) StudentByName(ctx context.Context, name string) (*roster.Student, error) {
	return s.studentWhere(ctx, `name_key = ?`, roster.Key(name))
}

func (s *SQL) CreateStudent(ctx context.Context, st roster.Student) error {
	_, err := s.exec(ctx, `
		INSERT INTO students (id, name, name_key, display_name, is_active, added_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, st.ID, st.Name, roster.Key(st.Name), st.DisplayName, st.IsActive, st.AddedBy, s.d.timeArg(st.CreatedAt))
	if err != nil && s.d.uniqueCode(err) {
		return roster.ErrConflict
	}
	return err
}

func (s *SQL) UpdateStudent(ctx context.Context, st roster.Student) error {
	res, err := s.exec(ctx, `
		UPDATE students
		SET name = ?, name_key = ?, display_name = ?, is_active = ?
		WHERE id = ?
	`, st.Name, roster.Key(st.Name), st.DisplayName, st.IsActive, st.ID)
	if err != nil {
		if s.d.uniqueCode(err) {
			return roster.ErrConflict
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return roster.ErrNotFound
	}
	return nil
}

func (s *SQL) DeleteStudent(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM students WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQL) CountStudents(ctx context.Context) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM students`).Scan(&n)
	return n, err
}

// ---------- Day records ----------

const dayColumns = `date, attendance, present, absent, total, marked, last_updated`

func scanDay(row scanner) (attendance.DayRecord, error) {
	var (
		rec attendance.DayRecord
		raw string
	)
	if err := row.Scan(&rec.Date, &raw, &rec.Summary.Present, &rec.Summary.Absent,
		&rec.Summary.Total, &rec.Summary.Marked, &rec.LastUpdated); err != nil {
		return rec, err
	}
	att, err := decodeAttendance(raw)
	if err != nil {
		return rec, err
	}
	rec.Attendance = att
	return rec, nil
}

func (s *SQL) dayWhere(ctx context.Context, q string, args ...any) (*attendance.DayRecord, error) {
	rec, err := scanDay(s.queryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *SQL) DayRecord(ctx context.Context, date string) (*attendance.DayRecord, error) {
	return s.dayWhere(ctx, `SELECT `+dayColumns+` FROM day_records WHERE date = ?`, date)
}

func (s *SQL) LatestDayRecord(ctx context.Context) (*attendance.DayRecord, error) {
	return s.dayWhere(ctx, `SELECT `+dayColumns+` FROM day_records ORDER BY date DESC LIMIT 1`)
}

func (s *SQL) CreateDayRecord(ctx context.Context, rec attendance.DayRecord) (bool, error) {
	raw, err := encodeAttendance(rec.Attendance)
	if err != nil {
		return false, err
	}
	res, err := s.exec(ctx, `
		INSERT INTO day_records (`+dayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date) DO NOTHING
	`, rec.Date, raw, rec.Summary.Present, rec.Summary.Absent, rec.Summary.Total, rec.Summary.Marked,
		s.d.timeArg(rec.LastUpdated))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQL) SaveDayRecord(ctx context.Context, rec attendance.DayRecord) error {
	raw, err := encodeAttendance(rec.Attendance)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO day_records (`+dayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			attendance = excluded.attendance,
			present = excluded.present,
			absent = excluded.absent,
			total = excluded.total,
			marked = excluded.marked,
			last_updated = excluded.last_updated
	`, rec.Date, raw, rec.Summary.Present, rec.Summary.Absent, rec.Summary.Total, rec.Summary.Marked,
		s.d.timeArg(rec.LastUpdated))
	return err
}

func (s *SQL) DeleteDayRecords(ctx context.Context, keepDate string, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM day_records WHERE date <> ? AND last_updated < ?`,
		keepDate, s.d.timeArg(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------- Logs ----------

func (s *SQL) AppendLog(ctx context.Context, e attendance.LogEntry) error {
	prev, err := encodeLogStatus(e.PreviousStatus)
	if err != nil {
		return err
	}
	cur, err := encodeLogStatus(e.CurrentStatus)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO attendance_logs (id, date, student_name, action, previous_status, current_status, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Date, e.StudentName, string(e.Action), prev, cur, e.Detail, s.d.timeArg(e.Timestamp))
	return err
}

func (s *SQL) Logs(ctx context.Context, date string, limit int) ([]attendance.LogEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, date, student_name, action, previous_status, current_status, detail, occurred_at
		FROM attendance_logs
		WHERE date = ?
		ORDER BY occurred_at DESC
		LIMIT ?
	`, date, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []attendance.LogEntry
	for rows.Next() {
		var (
			e         attendance.LogEntry
			action    string
			prev, cur string
		)
		if err := rows.Scan(&e.ID, &e.Date, &e.StudentName, &action, &prev, &cur, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = attendance.Action(action)
		if e.PreviousStatus, err = decodeLogStatus(prev); err != nil {
			return nil, err
		}
		if e.CurrentStatus, err = decodeLogStatus(cur); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQL) DeleteLogs(ctx context.Context, keepDate string, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM attendance_logs WHERE date <> ? AND occurred_at < ?`,
		keepDate, s.d.timeArg(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------- History ----------

const historyColumns = `date, attendance, present, absent, total, marked, archived_at`

func scanHistory(row scanner) (attendance.HistoricalRecord, error) {
	var (
		rec attendance.HistoricalRecord
		raw string
	)
	if err := row.Scan(&rec.Date, &raw, &rec.Summary.Present, &rec.Summary.Absent,
		&rec.Summary.Total, &rec.Summary.Marked, &rec.ArchivedAt); err != nil {
		return rec, err
	}
	att, err := decodeAttendance(raw)
	if err != nil {
		return rec, err
	}
	rec.Attendance = att
	return rec, nil
}

func (s *SQL) HistoricalRecord(ctx context.Context, date string) (*attendance.HistoricalRecord, error) {
	rec, err := scanHistory(s.queryRow(ctx, `SELECT `+historyColumns+` FROM historical_records WHERE date = ?`, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *SQL) CreateHistoricalRecord(ctx context.Context, rec attendance.HistoricalRecord) (bool, error) {
	raw, err := encodeAttendance(rec.Attendance)
	if err != nil {
		return false, err
	}
	res, err := s.exec(ctx, `
		INSERT INTO historical_records (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date) DO NOTHING
	`, rec.Date, raw, rec.Summary.Present, rec.Summary.Absent, rec.Summary.Total, rec.Summary.Marked,
		s.d.timeArg(rec.ArchivedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQL) ListHistory(ctx context.Context, offset, limit int) ([]attendance.HistoricalRecord, int, error) {
	if offset < 0 {
		return nil, 0, fmt.Errorf("list history: negative offset %d", offset)
	}
	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM historical_records`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.query(ctx, `
		SELECT `+historyColumns+`
		FROM historical_records
		ORDER BY date DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []attendance.HistoricalRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (s *SQL) ClearAttendance(ctx context.Context) error {
	for _, table := range []string{"day_records", "attendance_logs", "historical_records"} {
		if _, err := s.exec(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
	}
	return nil
}

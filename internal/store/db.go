package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// dialect captures the few places Postgres and SQLite disagree.
type dialect struct {
	name       string
	driver     string
	timestamp  string
	rebind     func(string) string
	timeArg    func(time.Time) any
	uniqueCode func(error) bool
}

// sqliteTimeLayout is fixed-width so that text comparison orders correctly.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

var postgres = dialect{
	name:      BackendPostgres,
	driver:    "pgx",
	timestamp: "TIMESTAMPTZ",
	rebind:    dollarPlaceholders,
	timeArg:   func(t time.Time) any { return t.UTC() },
	uniqueCode: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	},
}

var sqlite = dialect{
	name:      BackendSQLite,
	driver:    "sqlite3",
	timestamp: "DATETIME",
	rebind:    func(q string) string { return q },
	timeArg:   func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
	uniqueCode: func(err error) bool {
		var sqErr sqlite3.Error
		return errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique
	},
}

// OpenPostgres connects to Postgres through pgx and applies the schema.
func OpenPostgres(ctx context.Context, connString string) (*SQL, error) {
	db, err := sql.Open(postgres.driver, connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return newSQL(ctx, db, postgres)
}

// OpenSQLite opens (or creates) a single-file database. Use ":memory:" for a
// throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	dsn := "file::memory:?cache=shared"
	if path != "" && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open(sqlite.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return newSQL(ctx, db, sqlite)
}

func newSQL(ctx context.Context, db *sql.DB, d dialect) (*SQL, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	s := &SQL{db: db, d: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", d.name, err)
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	ts := s.d.timestamp
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS students (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			name_key     TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			is_active    BOOLEAN NOT NULL DEFAULT TRUE,
			added_by     TEXT NOT NULL DEFAULT 'system',
			created_at   ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS day_records (
			date         TEXT PRIMARY KEY,
			attendance   TEXT NOT NULL,
			present      INTEGER NOT NULL DEFAULT 0,
			absent       INTEGER NOT NULL DEFAULT 0,
			total        INTEGER NOT NULL DEFAULT 0,
			marked       INTEGER NOT NULL DEFAULT 0,
			last_updated ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS attendance_logs (
			id              TEXT PRIMARY KEY,
			date            TEXT NOT NULL,
			student_name    TEXT NOT NULL,
			action          TEXT NOT NULL,
			previous_status TEXT NOT NULL,
			current_status  TEXT NOT NULL,
			detail          TEXT NOT NULL DEFAULT '',
			occurred_at     ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_logs_date ON attendance_logs (date, occurred_at DESC)`,
		`CREATE TABLE IF NOT EXISTS historical_records (
			date        TEXT PRIMARY KEY,
			attendance  TEXT NOT NULL,
			present     INTEGER NOT NULL DEFAULT 0,
			absent      INTEGER NOT NULL DEFAULT 0,
			total       INTEGER NOT NULL DEFAULT 0,
			marked      INTEGER NOT NULL DEFAULT 0,
			archived_at ` + ts + ` NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// dollarPlaceholders rewrites ? placeholders into Postgres' $n form.
func dollarPlaceholders(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"rollcall/internal/attendance"
	"rollcall/internal/roster"
)

// Backend is a complete persistence layer: the attendance core's store plus
// the roster.
type Backend interface {
	attendance.Store
	roster.Store
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	DatabaseURL string
	SQLitePath  string
	Redis       *Redis
}

// Open returns the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Backend {
	case BackendPostgres:
		return OpenPostgres(ctx, opts.DatabaseURL)
	case BackendSQLite:
		return OpenSQLite(ctx, opts.SQLitePath)
	case BackendRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis backend requires a redis client")
		}
		return opts.Redis, opts.Redis.Ping(ctx)
	case BackendMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
}

// attendance maps and log statuses are stored as JSON so that every backend
// shares the true/false/null wire form.

func encodeAttendance(m map[string]attendance.Status) (string, error) {
	if m == nil {
		m = map[string]attendance.Status{}
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func decodeAttendance(s string) (map[string]attendance.Status, error) {
	m := map[string]attendance.Status{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode attendance: %w", err)
	}
	return m, nil
}

func encodeLogStatus(l attendance.LogStatus) (string, error) {
	b, err := l.MarshalJSON()
	return string(b), err
}

func decodeLogStatus(s string) (attendance.LogStatus, error) {
	var l attendance.LogStatus
	if err := l.UnmarshalJSON([]byte(s)); err != nil {
		return l, fmt.Errorf("decode log status %q: %w", s, err)
	}
	return l, nil
}

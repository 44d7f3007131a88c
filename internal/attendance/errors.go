package attendance

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers unknown or inactive students and missing archive dates.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument covers bad status values, bulk actions and empty names.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrEmptyRoster is returned by bulk operations when no student is active.
	ErrEmptyRoster = errors.New("no active students found")
	// ErrStorage wraps every failure reported by the underlying store.
	ErrStorage = errors.New("storage failure")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

package attendance

import (
	"bytes"
	"fmt"
	"strings"
)

// Status is the tri-state attendance mark of one student for one day.
// The zero value is Unmarked.
type Status int8

const (
	Unmarked Status = iota
	Present
	Absent
)

func (s Status) String() string {
	switch s {
	case Unmarked:
		return "unmarked"
	case Present:
		return "present"
	case Absent:
		return "absent"
	}
	return fmt.Sprintf("Status(%d)", int8(s))
}

// Valid reports whether s is one of the three known values.
func (s Status) Valid() bool {
	return s == Unmarked || s == Present || s == Absent
}

// MarshalJSON encodes Present as true, Absent as false and Unmarked as null.
func (s Status) MarshalJSON() ([]byte, error) {
	switch s {
	case Present:
		return []byte("true"), nil
	case Absent:
		return []byte("false"), nil
	case Unmarked:
		return []byte("null"), nil
	}
	return nil, fmt.Errorf("attendance: invalid status %d", int8(s))
}

// UnmarshalJSON accepts true, false or null.
func (s *Status) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "true":
		*s = Present
	case "false":
		*s = Absent
	case "null":
		*s = Unmarked
	default:
		return fmt.Errorf("%w: status must be true, false or null", ErrInvalidArgument)
	}
	return nil
}

// ParseIntent converts "present" or "absent" into a Status.
func ParseIntent(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "present":
		return Present, nil
	case "absent":
		return Absent, nil
	}
	return Unmarked, fmt.Errorf("%w: action must be \"present\" or \"absent\"", ErrInvalidArgument)
}

// LogStatus is a status as recorded in the log. Whole-roster operations
// record the opaque "various" marker instead of a per-student value.
type LogStatus struct {
	Status  Status
	Various bool
}

var variousJSON = []byte(`"various"`)

// Logged wraps a concrete status.
func Logged(s Status) LogStatus { return LogStatus{Status: s} }

// Various is the marker for "many students, many previous values".
func Various() LogStatus { return LogStatus{Various: true} }

func (l LogStatus) String() string {
	if l.Various {
		return "various"
	}
	return l.Status.String()
}

func (l LogStatus) MarshalJSON() ([]byte, error) {
	if l.Various {
		return variousJSON, nil
	}
	return l.Status.MarshalJSON()
}

func (l *LogStatus) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), variousJSON) {
		*l = Various()
		return nil
	}
	l.Various = false
	return l.Status.UnmarshalJSON(b)
}

// Action names what a log entry recorded.
type Action string

const (
	ActionMarkedPresent Action = "marked present"
	ActionMarkedAbsent  Action = "marked absent"
	ActionUnmarked      Action = "unmarked"
	ActionReset         Action = "reset"
	ActionSystem        Action = "system"
)

// ActionFor returns the log action describing a transition to s.
func ActionFor(s Status) Action {
	switch s {
	case Present:
		return ActionMarkedPresent
	case Absent:
		return ActionMarkedAbsent
	}
	return ActionUnmarked
}

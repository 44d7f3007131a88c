package roster

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no student matches the given id.
	ErrNotFound = errors.New("student not found")
	// ErrInvalidName is returned for an empty or whitespace-only name.
	ErrInvalidName = errors.New("student name is required")
	// ErrConflict is returned when another student already uses the name.
	ErrConflict = errors.New("student with this name already exists")
)

// Student is a member of the roster.
type Student struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	IsActive    bool      `json:"isActive"`
	AddedBy     string    `json:"addedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Key returns the normalized form of a name used for matching and uniqueness.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DisplayName capitalizes the first letter of name.
func DisplayName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

// Store persists roster entries.
type Store interface {
	ListStudents(ctx context.Context) ([]Student, error)
	ActiveStudents(ctx context.Context) ([]Student, error)
	StudentByID(ctx context.Context, id string) (*Student, error)
	StudentByName(ctx context.Context, name string) (*Student, error)
	CreateStudent(ctx context.Context, st Student) error
	UpdateStudent(ctx context.Context, st Student) error
	DeleteStudent(ctx context.Context, id string) (bool, error)
	CountStudents(ctx context.Context) (int, error)
}

// Patch describes a partial update; nil fields are left untouched.
type Patch struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"isActive"`
}

// Service manages the roster on behalf of administrators.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a roster service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// List returns every student, newest first.
func (s *Service) List(ctx context.Context) ([]Student, error) {
	return s.store.ListStudents(ctx)
}

// Active returns the active students in creation order.
func (s *Service) Active(ctx context.Context) ([]Student, error) {
	return s.store.ActiveStudents(ctx)
}

// Add creates a new active student.
func (s *Service) Add(ctx context.Context, name, addedBy string) (Student, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Student{}, ErrInvalidName
	}
	existing, err := s.store.StudentByName(ctx, name)
	if err != nil {
		return Student{}, err
	}
	if existing != nil {
		return Student{}, ErrConflict
	}
	if addedBy == "" {
		addedBy = "system"
	}
	st := Student{
		ID:          uuid.NewString(),
		Name:        name,
		DisplayName: DisplayName(name),
		IsActive:    true,
		AddedBy:     addedBy,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateStudent(ctx, st); err != nil {
		return Student{}, err
	}
	return st, nil
}

// Update applies p to the student with the given id.
func (s *Service) Update(ctx context.Context, id string, p Patch) (Student, error) {
	st, err := s.store.StudentByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if st == nil {
		return Student{}, ErrNotFound
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return Student{}, ErrInvalidName
		}
		if Key(name) != Key(st.Name) {
			other, err := s.store.StudentByName(ctx, name)
			if err != nil {
				return Student{}, err
			}
			if other != nil && other.ID != st.ID {
				return Student{}, ErrConflict
			}
		}
		st.Name = name
		st.DisplayName = DisplayName(name)
	}
	if p.IsActive != nil {
		st.IsActive = *p.IsActive
	}
	if err := s.store.UpdateStudent(ctx, *st); err != nil {
		return Student{}, err
	}
	return *st, nil
}

// Delete removes a student permanently.
func (s *Service) Delete(ctx context.Context, id string) error {
	ok, err := s.store.DeleteStudent(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Seed adds names to an empty roster. It is a no-op once any student exists.
func (s *Service) Seed(ctx context.Context, names []string) (int, error) {
	n, err := s.store.CountStudents(ctx)
	if err != nil || n > 0 {
		return 0, err
	}
	added := 0
	for _, name := range names {
		if _, err := s.Add(ctx, name, "system"); err != nil {
			if errors.Is(err, ErrInvalidName) || errors.Is(err, ErrConflict) {
				continue
			}
			return added, err
		}
		added++
	}
	return added, nil
}

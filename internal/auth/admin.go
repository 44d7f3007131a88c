package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for any failed login, without saying which part was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Admin is the single configured administrator account.
type Admin struct {
	Email string
	Name  string
	hash  []byte
}

// NewAdmin builds the admin account. A precomputed bcrypt hash wins over a
// plaintext password, which is hashed once here.
func NewAdmin(email, name, password, passwordHash string) (*Admin, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("admin email is required")
	}
	a := &Admin{Email: email, Name: name}
	switch {
	case passwordHash != "":
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, err
		}
		a.hash = []byte(passwordHash)
	case password != "":
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		a.hash = h
	default:
		return nil, errors.New("admin password or password hash is required")
	}
	if a.Name == "" {
		a.Name = "Administrator"
	}
	return a, nil
}

// Verify checks an email/password pair.
func (a *Admin) Verify(email, password string) error {
	emailOK := subtle.ConstantTimeCompare(
		[]byte(strings.ToLower(strings.TrimSpace(email))),
		[]byte(strings.ToLower(a.Email)),
	) == 1
	// bcrypt runs even when the email is wrong.
	pwErr := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	if !emailOK || pwErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

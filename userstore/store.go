package userstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrConflict is returned by Create when the email is already taken.
	ErrConflict = errors.New("email already registered")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("user store unavailable")
)

// User is the persisted account record. An empty CurrentSessionID means the
// user has no live refresh lineage.
type User struct {
	ID               string
	Email            string
	FirstName        string
	LastName         string
	Age              int
	PasswordHash     string
	CurrentSessionID string
	EmailVerified    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Patch lists the profile fields Update may change. Nil fields are left
// untouched.
type Patch struct {
	FirstName     *string
	LastName      *string
	Age           *int
	PasswordHash  *string
	EmailVerified *bool
}

// Store is the persistence contract the engine depends on.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	// Create assigns u.ID when empty and stamps CreatedAt/UpdatedAt.
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, id string, p Patch) error
	// SetSessionID overwrites the current session id unconditionally.
	SetSessionID(ctx context.Context, id, sessionID string) error
	// CompareAndSwapSessionID sets the session id to next only if it is
	// currently expected.
	CompareAndSwapSessionID(ctx context.Context, id, expected, next string) (bool, error)
}

// NormalizeEmail trims and lower-cases an address. Every backend stores and
// looks up emails in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (p Patch) apply(u *User) {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Age != nil {
		u.Age = *p.Age
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.EmailVerified != nil {
		u.EmailVerified = *p.EmailVerified
	}
}

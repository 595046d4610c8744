package goSession

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/mailqueue"
)

// RegisterInput is the self-service registration request.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	// Age is optional; zero means not provided.
	Age int
}

// RegisterResult is returned by [Engine.Register]. The tokens come from the
// implicit login that follows account creation.
type RegisterResult struct {
	ID           string
	Email        string
	AccessToken  string
	RefreshToken string
}

// TokenPair is a freshly issued access/refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AccessClaims is returned by [Engine.ValidateAccess].
type AccessClaims struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// Profile is the public view of an account.
type Profile struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Age           int       `json:"age,omitempty"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// JobQueue accepts email jobs. *mailqueue.Queue satisfies it.
type JobQueue interface {
	Enqueue(ctx context.Context, job mailqueue.Job) (string, error)
}

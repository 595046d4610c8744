package flows

import (
	"context"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/userstore"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Login   LoginDeps
	Refresh RefreshDeps
	Logout  LogoutDeps
}

// TokenIssuer mints the access/refresh pair for a session.
type TokenIssuer interface {
	IssueAccess(uid, email string) (string, error)
	IssueRefresh(uid, email, sessionID string) (string, error)
}

// RefreshParser verifies a refresh token.
type RefreshParser func(token string) (*jwt.SessionClaims, error)

// SessionUserStore is the slice of userstore.Store the session flows touch.
type SessionUserStore interface {
	FindByEmail(ctx context.Context, email string) (*userstore.User, error)
	FindByID(ctx context.Context, id string) (*userstore.User, error)
	Update(ctx context.Context, id string, p userstore.Patch) error
	SetSessionID(ctx context.Context, id, sessionID string) error
	CompareAndSwapSessionID(ctx context.Context, id, expected, next string) (bool, error)
}

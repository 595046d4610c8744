package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/userstore"
)

// LogoutOutcome reports what a logout did. Logout never fails from the
// caller's point of view; the outcome only feeds metrics and logs.
type LogoutOutcome int

const (
	LogoutRevoked LogoutOutcome = iota
	LogoutInvalidToken
	LogoutUnknownUser
	LogoutStale
	LogoutStoreError
)

// LogoutResult carries the outcome and whatever the token identified.
type LogoutResult struct {
	Outcome   LogoutOutcome
	Err       error
	UserID    string
	SessionID string
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	ParseRefresh RefreshParser
	Users        SessionUserStore
}

// RunLogout clears the user's session id if the presented refresh token still
// owns it. A stale token must not end a newer session.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) LogoutResult {
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return LogoutResult{Outcome: LogoutInvalidToken, Err: err}
	}

	swapped, err := deps.Users.CompareAndSwapSessionID(ctx, claims.UID, claims.SID, "")
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return LogoutResult{Outcome: LogoutUnknownUser, UserID: claims.UID, SessionID: claims.SID}
		}
		return LogoutResult{Outcome: LogoutStoreError, Err: err, UserID: claims.UID, SessionID: claims.SID}
	}
	if !swapped {
		return LogoutResult{Outcome: LogoutStale, UserID: claims.UID, SessionID: claims.SID}
	}
	return LogoutResult{Outcome: LogoutRevoked, UserID: claims.UID, SessionID: claims.SID}
}

package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/userstore"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureInvalidToken
	RefreshFailureUserNotFound
	RefreshFailureLookup
	RefreshFailureRevoked
	RefreshFailureLostRace
	RefreshFailureNextSession
	RefreshFailureIssue
	RefreshFailureSwap
)

// RefreshResult carries either the rotated token pair or failure metadata.
type RefreshResult struct {
	Failure      RefreshFailureKind
	Err          error
	UserID       string
	SessionID    string
	NewSessionID string
	AccessToken  string
	RefreshToken string
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	ParseRefresh RefreshParser
	Users        SessionUserStore
	Tokens       TokenIssuer
	NewSessionID func() (string, error)
}

// RunRefresh rotates a refresh token. The presented session id must equal
// the user's current one; the swap to the new id is a compare-and-swap, so
// only one of several concurrent rotations from the same token can win.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureInvalidToken, Err: err}
	}

	user, err := deps.Users.FindByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return RefreshResult{Failure: RefreshFailureUserNotFound, Err: err, UserID: claims.UID, SessionID: claims.SID}
		}
		return RefreshResult{Failure: RefreshFailureLookup, Err: err, UserID: claims.UID, SessionID: claims.SID}
	}
	if user.CurrentSessionID == "" || user.CurrentSessionID != claims.SID {
		return RefreshResult{Failure: RefreshFailureRevoked, UserID: user.ID, SessionID: claims.SID}
	}

	next, err := deps.NewSessionID()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureNextSession, Err: err, UserID: user.ID, SessionID: claims.SID}
	}

	// Tokens are signed before the swap so a signing failure never strands
	// the user with a session id no token carries.
	access, refresh, err := issuePair(deps.Tokens, user.ID, user.Email, next)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, UserID: user.ID, SessionID: claims.SID}
	}

	swapped, err := deps.Users.CompareAndSwapSessionID(ctx, user.ID, claims.SID, next)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return RefreshResult{Failure: RefreshFailureUserNotFound, Err: err, UserID: user.ID, SessionID: claims.SID}
		}
		return RefreshResult{Failure: RefreshFailureSwap, Err: err, UserID: user.ID, SessionID: claims.SID}
	}
	if !swapped {
		return RefreshResult{Failure: RefreshFailureLostRace, UserID: user.ID, SessionID: claims.SID}
	}

	return RefreshResult{
		UserID:       user.ID,
		SessionID:    claims.SID,
		NewSessionID: next,
		AccessToken:  access,
		RefreshToken: refresh,
	}
}

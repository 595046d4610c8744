package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/userstore"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureRateLimited
	LoginFailureLimiter
	LoginFailureUserNotFound
	LoginFailureLookup
	LoginFailureInvalidCredentials
	LoginFailureSessionID
	LoginFailurePersistSession
	LoginFailureIssue
)

// LoginLimiter throttles failed logins. Check runs before any work, Increment
// after each failure and Reset after success.
type LoginLimiter interface {
	CheckLogin(ctx context.Context, email, ip string) error
	IncrementLogin(ctx context.Context, email, ip string) error
	ResetLogin(ctx context.Context, email, ip string) error
}

// LoginResult carries either the issued token pair or failure metadata.
type LoginResult struct {
	Failure      LoginFailureKind
	Err          error
	UserID       string
	Email        string
	SessionID    string
	Rehashed     bool
	AccessToken  string
	RefreshToken string
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Users               SessionUserStore
	Tokens              TokenIssuer
	Limiter             LoginLimiter
	RateLimited         error
	VerifyPassword      func(password, hash string) (ok bool, needsRehash bool, err error)
	HashPassword        func(password string) (string, error)
	NewSessionID        func() (string, error)
	ClientIPFromContext func(context.Context) string
	Warn                func(string, ...any)
}

// RunLogin authenticates email/password and starts a new session lineage.
// The new session id overwrites any previous one, so earlier refresh tokens
// stop working.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) LoginResult {
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	ip := ""
	if deps.ClientIPFromContext != nil {
		ip = deps.ClientIPFromContext(ctx)
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.CheckLogin(ctx, email, ip); err != nil {
			if deps.RateLimited != nil && errors.Is(err, deps.RateLimited) {
				return LoginResult{Failure: LoginFailureRateLimited, Err: err, Email: email}
			}
			return LoginResult{Failure: LoginFailureLimiter, Err: err, Email: email}
		}
	}

	failed := func(kind LoginFailureKind, userID string, err error) LoginResult {
		if deps.Limiter != nil {
			if incErr := deps.Limiter.IncrementLogin(ctx, email, ip); incErr != nil {
				deps.Warn("goSession: login limiter increment failed", "error", incErr)
			}
		}
		return LoginResult{Failure: kind, Err: err, UserID: userID, Email: email}
	}

	user, err := deps.Users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return failed(LoginFailureUserNotFound, "", err)
		}
		return LoginResult{Failure: LoginFailureLookup, Err: err, Email: email}
	}

	ok, needsRehash, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return failed(LoginFailureInvalidCredentials, user.ID, err)
	}

	rehashed := false
	if needsRehash && deps.HashPassword != nil {
		if upgraded, err := deps.HashPassword(password); err == nil {
			if err := deps.Users.Update(ctx, user.ID, userstore.Patch{PasswordHash: &upgraded}); err != nil {
				deps.Warn("goSession: password hash upgrade update failed", "user_id", user.ID)
			} else {
				rehashed = true
			}
		} else {
			deps.Warn("goSession: password hash upgrade generation failed", "user_id", user.ID)
		}
	}
	password = ""

	sid, err := deps.NewSessionID()
	if err != nil {
		return LoginResult{Failure: LoginFailureSessionID, Err: err, UserID: user.ID, Email: user.Email}
	}
	if err := deps.Users.SetSessionID(ctx, user.ID, sid); err != nil {
		return LoginResult{Failure: LoginFailurePersistSession, Err: err, UserID: user.ID, Email: user.Email}
	}

	access, refresh, err := issuePair(deps.Tokens, user.ID, user.Email, sid)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err, UserID: user.ID, Email: user.Email, SessionID: sid}
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.ResetLogin(ctx, email, ip); err != nil {
			deps.Warn("goSession: login limiter reset failed", "error", err)
		}
	}

	return LoginResult{
		UserID:       user.ID,
		Email:        user.Email,
		SessionID:    sid,
		Rehashed:     rehashed,
		AccessToken:  access,
		RefreshToken: refresh,
	}
}

func issuePair(tokens TokenIssuer, uid, email, sid string) (string, string, error) {
	access, err := tokens.IssueAccess(uid, email)
	if err != nil {
		return "", "", err
	}
	refresh, err := tokens.IssueRefresh(uid, email, sid)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

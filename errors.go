package goSession

import "errors"

var (
	// ErrInvalidInput is returned when a request fails field validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPasswordPolicy is returned when a new password is too short or too weak.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrConflict is returned by Register when the email is already registered.
	ErrConflict = errors.New("email already registered")
	// ErrUserNotFound is returned when the referenced account does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginRateLimited is returned when too many logins failed for an email or IP.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrTokenInvalid covers every verification failure of a presented token:
	// bad signature, expiry, wrong kind or malformed claims.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRefreshRevoked is returned when a refresh token's session is no
	// longer the user's current one, including losing a concurrent rotation.
	ErrRefreshRevoked = errors.New("refresh token revoked")
	// ErrQueueUnavailable is returned when a verification email could not be
	// enqueued. The account, if just created, is kept.
	ErrQueueUnavailable = errors.New("email queue unavailable")
	// ErrEmailVerificationInvalid is returned for unknown, expired or used
	// verification tokens.
	ErrEmailVerificationInvalid = errors.New("email verification token invalid")
	// ErrEmailVerificationRateLimited is returned when resends are throttled.
	ErrEmailVerificationRateLimited = errors.New("email verification rate limited")
	// ErrEmailAlreadyVerified is returned by ResendVerification for verified accounts.
	ErrEmailAlreadyVerified = errors.New("email already verified")
	// ErrStoreUnavailable wraps user store and Redis outages.
	ErrStoreUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is returned by methods called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

package goSession

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/mailqueue"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/userstore"
	"github.com/redis/go-redis/v9"
	passwordvalidator "github.com/wagslane/go-password-validator"
	"go.uber.org/zap"
)

const (
	maxNameLength = 100
	maxAge        = 150
)

// Engine authenticates users and manages their single refresh lineage.
//
// Engine methods are safe for concurrent use after [Builder.Build].
type Engine struct {
	config       Config
	redis        redis.UniversalClient
	users        userstore.Store
	queue        JobQueue
	log          *zap.Logger
	rateLimiter  *rate.Limiter
	verification *emailVerificationStore
	resendWindow rate.Window
	hasher       *password.Hasher
	access       *jwt.Manager
	refresh      *jwt.Manager
	audit        *auditDispatcher
	metrics      *Metrics
	flowDeps     flows.Deps
	closed       atomic.Bool
}

// Close flushes pending audit events. Further calls return ErrEngineNotReady.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closed.Store(true)
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped is the number of audit events discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters and histograms. A nil engine
// yields empty maps.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the Redis connection the engine depends on.
func (e *Engine) Ping(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RefreshTTL is the lifetime of issued refresh tokens, for cookie Max-Age.
func (e *Engine) RefreshTTL() time.Duration {
	if e == nil {
		return 0
	}
	return e.config.JWT.RefreshTTL
}

func (e *Engine) ready() bool {
	return e != nil && e.users != nil && !e.closed.Load()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
REGISTER
====================================
*/

// Register creates an account, queues its verification email and logs the
// new user in. If the email cannot be queued the account is kept and the
// returned error wraps ErrQueueUnavailable.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	in.Email = userstore.NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validateRegisterInput(in); err != nil {
		e.metricInc(MetricRegisterRejected)
		return nil, err
	}
	if err := e.checkPasswordPolicy(in.Password); err != nil {
		e.metricInc(MetricRegisterRejected)
		return nil, err
	}

	if _, err := e.users.FindByEmail(ctx, in.Email); err == nil {
		e.metricInc(MetricRegisterConflict)
		return nil, ErrConflict
	} else if !errors.Is(err, userstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) || errors.Is(err, password.ErrEmptyPassword) {
			e.metricInc(MetricRegisterRejected)
			return nil, ErrPasswordPolicy
		}
		return nil, err
	}

	user := &userstore.User{
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Age:          in.Age,
		PasswordHash: hash,
	}
	if err := e.users.Create(ctx, user); err != nil {
		if errors.Is(err, userstore.ErrConflict) {
			e.metricInc(MetricRegisterConflict)
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditRegister, true, user.ID, "", nil, nil)

	if err := e.queueVerification(ctx, user); err != nil {
		return nil, err
	}

	// The password was just set, so failed logins recorded against this
	// email before the account existed must not block the first session.
	deps := e.flowDeps.Login
	deps.Limiter = nil
	result := flows.RunLogin(ctx, in.Email, in.Password, deps)
	if result.Failure != flows.LoginFailureNone {
		return nil, e.loginError(ctx, result)
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditLoginSuccess, true, result.UserID, result.SessionID, nil, nil)

	return &RegisterResult{
		ID:           user.ID,
		Email:        user.Email,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}, nil
}

func validateRegisterInput(in RegisterInput) error {
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email || addr.Name != "" {
		return fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if in.FirstName == "" || len(in.FirstName) > maxNameLength {
		return fmt.Errorf("%w: firstName", ErrInvalidInput)
	}
	if in.LastName == "" || len(in.LastName) > maxNameLength {
		return fmt.Errorf("%w: lastName", ErrInvalidInput)
	}
	if in.Age < 0 || in.Age > maxAge {
		return fmt.Errorf("%w: age", ErrInvalidInput)
	}
	return nil
}

func (e *Engine) checkPasswordPolicy(pw string) error {
	if len(pw) < e.config.Password.MinLength {
		return fmt.Errorf("%w: shorter than %d characters", ErrPasswordPolicy, e.config.Password.MinLength)
	}
	if limit := e.config.Password.MaxPasswordBytes; limit > 0 && len(pw) > limit {
		return fmt.Errorf("%w: longer than %d bytes", ErrPasswordPolicy, limit)
	}
	if bits := e.config.Password.MinEntropyBits; bits > 0 {
		if err := passwordvalidator.Validate(pw, bits); err != nil {
			return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
	}
	return nil
}

// queueVerification mints a fresh verification token for user and enqueues
// the email carrying it. Any earlier unused token is revoked.
func (e *Engine) queueVerification(ctx context.Context, user *userstore.User) error {
	fail := func(err error) error {
		e.metricInc(MetricVerificationEnqueueFailed)
		e.log.Warn("verification email not queued", zap.String("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	token, err := internal.NewVerificationToken()
	if err != nil {
		return fail(err)
	}
	if err := e.verification.Issue(ctx, user.ID, internal.HashToken(token), e.config.EmailVerification.TokenTTL); err != nil {
		return fail(err)
	}

	job, err := mailqueue.NewVerificationJob(user.Email, mailqueue.VerificationPayload{
		Token:     token,
		FirstName: user.FirstName,
	}, e.config.EmailVerification.Priority)
	if err != nil {
		return fail(err)
	}
	jobID, err := e.queue.Enqueue(ctx, job)
	if err != nil {
		return fail(err)
	}

	e.metricInc(MetricVerificationEnqueued)
	e.emitAudit(ctx, AuditVerificationQueued, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"job_id": jobID}
	})
	return nil
}

/*
====================================
LOGIN
====================================
*/

// Login verifies the credentials and starts a new session lineage,
// invalidating every refresh token issued before.
func (e *Engine) Login(ctx context.Context, email, pw string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	email = userstore.NormalizeEmail(email)
	result := flows.RunLogin(ctx, email, pw, e.flowDeps.Login)
	if result.Failure != flows.LoginFailureNone {
		return nil, e.loginError(ctx, result)
	}

	e.metricInc(MetricLoginSuccess)
	if result.Rehashed {
		e.metricInc(MetricPasswordRehashed)
	}
	e.emitAudit(ctx, AuditLoginSuccess, true, result.UserID, result.SessionID, nil, nil)

	return &TokenPair{AccessToken: result.AccessToken, RefreshToken: result.RefreshToken}, nil
}

func (e *Engine) loginError(ctx context.Context, r flows.LoginResult) error {
	var err error
	switch r.Failure {
	case flows.LoginFailureRateLimited:
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, AuditLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
			return map[string]string{"identifier": r.Email}
		})
		return ErrLoginRateLimited
	case flows.LoginFailureUserNotFound:
		err = ErrUserNotFound
	case flows.LoginFailureInvalidCredentials:
		err = ErrInvalidCredentials
	case flows.LoginFailureLimiter, flows.LoginFailureLookup, flows.LoginFailurePersistSession:
		err = fmt.Errorf("%w: %v", ErrStoreUnavailable, r.Err)
	default:
		err = r.Err
		if err == nil {
			err = errors.New("login failed")
		}
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, AuditLoginFailure, false, r.UserID, "", err, func() map[string]string {
		return map[string]string{"identifier": r.Email}
	})
	return err
}

/*
====================================
REFRESH / LOGOUT
====================================
*/

// Refresh exchanges a refresh token for a new pair. Each refresh token works
// once: of several concurrent calls with the same token, exactly one
// succeeds and the others get ErrRefreshRevoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	result := flows.RunRefresh(ctx, refreshToken, e.flowDeps.Refresh)
	if result.Failure == flows.RefreshFailureNone {
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, AuditRefreshSuccess, true, result.UserID, result.NewSessionID, nil, nil)
		return &TokenPair{AccessToken: result.AccessToken, RefreshToken: result.RefreshToken}, nil
	}

	var err error
	switch result.Failure {
	case flows.RefreshFailureInvalidToken:
		err = ErrTokenInvalid
	case flows.RefreshFailureUserNotFound:
		err = ErrUserNotFound
	case flows.RefreshFailureRevoked:
		e.metricInc(MetricRefreshRevoked)
		err = ErrRefreshRevoked
	case flows.RefreshFailureLostRace:
		e.metricInc(MetricRefreshRaceLost)
		err = ErrRefreshRevoked
	case flows.RefreshFailureLookup, flows.RefreshFailureSwap:
		err = fmt.Errorf("%w: %v", ErrStoreUnavailable, result.Err)
	default:
		err = result.Err
		if err == nil {
			err = errors.New("refresh failed")
		}
	}

	e.metricInc(MetricRefreshFailure)
	event := AuditRefreshFailure
	if errors.Is(err, ErrRefreshRevoked) {
		event = AuditRefreshRevoked
	}
	e.emitAudit(ctx, event, false, result.UserID, result.SessionID, err, nil)
	return nil, err
}

// Logout ends the session the refresh token belongs to, if it is still the
// current one. Token and store problems are never reported to the caller.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	result := flows.RunLogout(ctx, refreshToken, e.flowDeps.Logout)
	switch result.Outcome {
	case flows.LogoutRevoked:
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, AuditLogout, true, result.UserID, result.SessionID, nil, nil)
	case flows.LogoutStoreError:
		e.metricInc(MetricLogoutNoop)
		e.log.Warn("logout could not clear session",
			zap.String("user_id", result.UserID),
			zap.Error(result.Err),
		)
	default:
		e.metricInc(MetricLogoutNoop)
	}
	return nil
}

/*
====================================
ACCESS TOKENS / PROFILE
====================================
*/

// ValidateAccess verifies an access token without touching any store.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AccessClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.access.Parse(accessToken)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil {
		return nil, ErrTokenInvalid
	}

	out := &AccessClaims{UserID: claims.UID, Email: claims.Email}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Me returns the profile of userID.
func (e *Engine) Me(ctx context.Context, userID string) (*Profile, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	u, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &Profile{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Age:           u.Age,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}, nil
}

/*
====================================
EMAIL VERIFICATION
====================================
*/

// ResendVerification queues a new verification email, revoking the previous
// link. Resends are limited per email address.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	email = userstore.NormalizeEmail(email)
	u, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if u.EmailVerified {
		return ErrEmailAlreadyVerified
	}

	decision, err := e.rateLimiter.Allow(ctx, e.resendWindow, email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !decision.Allowed {
		e.metricInc(MetricEmailVerificationRateLimited)
		return ErrEmailVerificationRateLimited
	}

	return e.queueVerification(ctx, u)
}

// VerifyEmail consumes a verification token and marks its account verified.
// A token works once.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	token = strings.TrimSpace(token)
	if token == "" {
		e.metricInc(MetricEmailVerificationFailure)
		return ErrEmailVerificationInvalid
	}

	userID, err := e.verification.Consume(ctx, internal.HashToken(token))
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		if errors.Is(err, errVerificationNotFound) {
			e.emitAudit(ctx, AuditVerificationFailure, false, "", "", ErrEmailVerificationInvalid, nil)
			return ErrEmailVerificationInvalid
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	verified := true
	if err := e.users.Update(ctx, userID, userstore.Patch{EmailVerified: &verified}); err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		if errors.Is(err, userstore.ErrNotFound) {
			return ErrEmailVerificationInvalid
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, AuditEmailVerified, true, userID, "", nil, nil)
	return nil
}

/*
====================================
AUDIT
====================================
*/

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, sessionID string, err error, metadata func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}
	if metadata != nil {
		event.Metadata = metadata()
	}
	e.audit.Emit(ctx, event)
}

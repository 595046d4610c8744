package goSession

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/userstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder collects the engine's dependencies. A Builder produces exactly one
// Engine; configure it during initialization and call Build once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	users  userstore.Store
	queue  JobQueue
	log    *zap.Logger

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The key slices are copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for rate limits and verification tokens.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(store userstore.Store) *Builder {
	b.users = store
	return b
}

// WithQueue sets where verification email jobs are enqueued.
func (b *Builder) WithQueue(q JobQueue) *Builder {
	b.queue = q
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.queue == nil {
		return nil, errors.New("job queue required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "engine"))

	// -------- TOKEN MANAGERS --------
	method := jwt.SigningMethod(cfg.JWT.SigningMethod)
	accessPublic, refreshPublic := cfg.JWT.AccessPublicKey, cfg.JWT.RefreshPublicKey
	if method == jwt.MethodHS256 {
		accessPublic, refreshPublic = cfg.JWT.AccessKey, cfg.JWT.RefreshKey
	}
	accessManager, err := jwt.NewManager(jwt.Config{
		Use:           jwt.UseAccess,
		TTL:           cfg.JWT.AccessTTL,
		SigningMethod: method,
		PrivateKey:    cfg.JWT.AccessKey,
		PublicKey:     accessPublic,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	refreshManager, err := jwt.NewManager(jwt.Config{
		Use:           jwt.UseRefresh,
		TTL:           cfg.JWT.RefreshTTL,
		SigningMethod: method,
		PrivateKey:    cfg.JWT.RefreshKey,
		PublicKey:     refreshPublic,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORD HASHER --------
	argon, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	var legacy []password.Scheme
	if cfg.Password.AcceptBcrypt {
		bc, err := password.NewBcrypt(0)
		if err != nil {
			return nil, err
		}
		legacy = append(legacy, bc)
	}
	hasher := password.NewHasher(argon, legacy...)

	// -------- REDIS HELPERS --------
	limiter := rate.New(b.redis)

	e := &Engine{
		config:       cfg,
		redis:        b.redis,
		users:        b.users,
		queue:        b.queue,
		log:          log,
		rateLimiter:  limiter,
		verification: newEmailVerificationStore(b.redis),
		hasher:       hasher,
		access:       accessManager,
		refresh:      refreshManager,
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:      NewMetrics(cfg.Metrics),
		resendWindow: rate.Window{
			Prefix: "rl:resend:",
			Max:    cfg.EmailVerification.MaxResends,
			Period: cfg.EmailVerification.ResendCooldown,
		},
	}

	// -------- FLOWS --------
	tokens := tokenIssuer{access: accessManager, refresh: refreshManager}
	newSID := func() (string, error) {
		sid, err := internal.NewSessionID()
		if err != nil {
			return "", err
		}
		return sid.String(), nil
	}
	var hashPassword func(string) (string, error)
	if cfg.Password.UpgradeOnLogin {
		hashPassword = hasher.Hash
	}

	login := flows.LoginDeps{
		Users:               b.users,
		Tokens:              tokens,
		RateLimited:         rate.ErrRateLimited,
		VerifyPassword:      hasher.Verify,
		HashPassword:        hashPassword,
		NewSessionID:        newSID,
		ClientIPFromContext: clientIPFromContext,
		Warn:                log.Sugar().Warnw,
	}
	// A nil *loginLimiter stored in the interface would not compare equal
	// to nil inside the flow.
	if ll := newLoginLimiter(limiter, cfg.LoginThrottle); ll != nil {
		login.Limiter = ll
	}

	// Refresh tokens must carry a session id in the format NewSessionID
	// produces before any store lookup happens.
	parseRefresh := func(token string) (*jwt.SessionClaims, error) {
		claims, err := refreshManager.Parse(token)
		if err != nil {
			return nil, err
		}
		if _, err := internal.ParseSessionID(claims.SID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
		return claims, nil
	}

	e.flowDeps = flows.Deps{
		Login: login,
		Refresh: flows.RefreshDeps{
			ParseRefresh: parseRefresh,
			Users:        b.users,
			Tokens:       tokens,
			NewSessionID: newSID,
		},
		Logout: flows.LogoutDeps{
			ParseRefresh: parseRefresh,
			Users:        b.users,
		},
	}

	b.built = true
	return e, nil
}

// tokenIssuer signs both halves of a session's token pair.
type tokenIssuer struct {
	access  *jwt.Manager
	refresh *jwt.Manager
}

func (t tokenIssuer) IssueAccess(uid, email string) (string, error) {
	return t.access.Sign(uid, email, "")
}

func (t tokenIssuer) IssueRefresh(uid, email, sessionID string) (string, error) {
	return t.refresh.Sign(uid, email, sessionID)
}

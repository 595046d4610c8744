package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/csrf"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Authenticator is the engine surface the handlers use. *goSession.Engine
// satisfies it.
type Authenticator interface {
	Register(ctx context.Context, in goSession.RegisterInput) (*goSession.RegisterResult, error)
	Login(ctx context.Context, email, password string) (*goSession.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*goSession.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	ValidateAccess(ctx context.Context, accessToken string) (*goSession.AccessClaims, error)
	Me(ctx context.Context, userID string) (*goSession.Profile, error)
	ResendVerification(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, token string) error
	Ping(ctx context.Context) error
	RefreshTTL() time.Duration
}

// CookieConfig controls the refresh cookie.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// Config controls routing, CORS, the per-IP request limit and the refresh
// cookie.
type Config struct {
	APIPrefix      string
	AllowedOrigins []string
	// TrustProxy takes the client IP from the first X-Forwarded-For entry.
	TrustProxy      bool
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	RefreshCookie   CookieConfig
}

// DefaultConfig mounts the API under /api/v1, allows the local frontend
// origin and limits each client IP to 100 requests per 15 minutes.
func DefaultConfig() Config {
	return Config{
		APIPrefix:       "/api/v1",
		AllowedOrigins:  []string{"http://localhost:3000"},
		RateLimitMax:    100,
		RateLimitWindow: 15 * time.Minute,
		MaxBodyBytes:    1 << 20,
		RefreshCookie: CookieConfig{
			Name:     "refresh_token",
			Path:     "/",
			SameSite: http.SameSiteStrictMode,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.APIPrefix == "" {
		c.APIPrefix = d.APIPrefix
	}
	c.APIPrefix = "/" + strings.Trim(c.APIPrefix, "/")
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.RefreshCookie.Name == "" {
		c.RefreshCookie.Name = d.RefreshCookie.Name
	}
	if c.RefreshCookie.Path == "" {
		c.RefreshCookie.Path = d.RefreshCookie.Path
	}
	if c.RefreshCookie.SameSite == 0 {
		c.RefreshCookie.SameSite = d.RefreshCookie.SameSite
	}
	return c
}

// Server wires the handlers to their dependencies.
type Server struct {
	cfg      Config
	engine   Authenticator
	csrf     *csrf.Guard
	limiter  *rate.Limiter
	window   rate.Window
	log      *zap.Logger
	gatherer prometheus.Gatherer
}

// New builds a Server. limiter may be nil to disable the per-IP limit and
// gatherer may be nil to leave /metrics unmounted.
func New(engine Authenticator, guard *csrf.Guard, limiter *rate.Limiter, cfg Config, log *zap.Logger, gatherer prometheus.Gatherer) (*Server, error) {
	if engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	if guard == nil {
		return nil, errors.New("httpapi: csrf guard is required")
	}
	if cfg.RateLimitMax < 0 || (cfg.RateLimitMax > 0 && cfg.RateLimitWindow <= 0) {
		return nil, errors.New("httpapi: rate limit window must be > 0")
	}
	if log == nil {
		log = zap.NewNop()
	}

	cfg = cfg.withDefaults()
	return &Server{
		cfg:     cfg,
		engine:  engine,
		csrf:    guard,
		limiter: limiter,
		window: rate.Window{
			Prefix: "rl:ip:",
			Max:    cfg.RateLimitMax,
			Period: cfg.RateLimitWindow,
		},
		log:      log.With(zap.String("component", "http")),
		gatherer: gatherer,
	}, nil
}

// Handler returns the complete HTTP handler.
func (s *Server) Handler() http.Handler {
	api := mux.NewRouter()
	api.HandleFunc("/csrf-token", s.csrfToken).Methods(http.MethodGet)

	v1 := api.PathPrefix(s.cfg.APIPrefix).Subrouter()
	auth := v1.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", s.register).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.login).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	auth.HandleFunc("/resend-verification", s.resendVerification).Methods(http.MethodPost)
	auth.HandleFunc("/verify-email", s.verifyEmail).Methods(http.MethodPost)

	users := v1.PathPrefix("/users").Subrouter()
	users.Handle("/me", middleware.Guard(s.engine)(http.HandlerFunc(s.me))).Methods(http.MethodGet)

	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	api.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	var chain http.Handler = api
	chain = s.csrf.Verify(chain)
	chain = s.csrf.IssueIfAbsent(chain)
	chain = s.rateLimit(chain)

	root := mux.NewRouter()
	root.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if s.gatherer != nil {
		root.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	root.PathPrefix("/").Handler(chain)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", s.csrf.HeaderName()},
		AllowCredentials: true,
	})
	return c.Handler(s.requestLog(root))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.engine.Ping(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	writeSuccess(w, http.StatusOK, "ok", nil)
}

// Package csrf implements the double-submit cookie defense: a random token
// is set in a cookie the browser's scripts can read, and every
// state-changing request must echo it in a header.
package csrf

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/goSession/internal"
)

const tokenHexLength = 64

// ErrForbidden is returned by Check when the header token is missing or
// differs from the cookie token.
var ErrForbidden = errors.New("invalid CSRF token")

// Config controls the cookie and header names and cookie attributes.
type Config struct {
	CookieName string
	HeaderName string
	Path       string
	Domain     string
	Secure     bool
	SameSite   http.SameSite
}

// DefaultConfig returns cookie csrf_token, header X-CSRF-Token, SameSite
// Strict.
func DefaultConfig() Config {
	return Config{
		CookieName: "csrf_token",
		HeaderName: "X-CSRF-Token",
		Path:       "/",
		SameSite:   http.SameSiteStrictMode,
	}
}

// Guard issues and verifies CSRF tokens. It holds no per-request state.
type Guard struct {
	cfg      Config
	newToken func() (string, error)
}

// New returns a Guard. Empty fields of cfg take their DefaultConfig values.
func New(cfg Config) *Guard {
	d := DefaultConfig()
	if cfg.CookieName == "" {
		cfg.CookieName = d.CookieName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = d.HeaderName
	}
	if cfg.Path == "" {
		cfg.Path = d.Path
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = d.SameSite
	}
	return &Guard{cfg: cfg, newToken: internal.NewCSRFToken}
}

// HeaderName is the request header Verify reads.
func (g *Guard) HeaderName() string {
	return g.cfg.HeaderName
}

type tokenContextKey struct{}

// TokenFromContext returns the token in effect for the request: the one the
// client sent or the one IssueIfAbsent just set.
func TokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(tokenContextKey{}).(string)
	return tok
}

// IssueIfAbsent sets a fresh token cookie when the request carries none. An
// existing well-formed token is left alone.
func (g *Guard) IssueIfAbsent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := g.cookieToken(r)
		if token == "" {
			issued, err := g.Rotate(w)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, "could not issue CSRF token")
				return
			}
			token = issued
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenContextKey{}, token)))
	})
}

// Verify rejects state-changing requests that fail Check with 403.
func (g *Guard) Verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Check(r); err != nil {
			writeJSON(w, http.StatusForbidden, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Check reports whether r may proceed. Safe methods always may; POST, PUT,
// PATCH and DELETE need a header token equal to the cookie token.
func (g *Guard) Check(r *http.Request) error {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil
	}

	c, err := r.Cookie(g.cfg.CookieName)
	if err != nil || c.Value == "" {
		return ErrForbidden
	}
	h := r.Header.Get(g.cfg.HeaderName)
	if h == "" || len(h) != len(c.Value) {
		return ErrForbidden
	}
	if subtle.ConstantTimeCompare([]byte(h), []byte(c.Value)) != 1 {
		return ErrForbidden
	}
	return nil
}

// Rotate sets a new token cookie on w and returns the token. Handlers call
// it after login and refresh.
func (g *Guard) Rotate(w http.ResponseWriter) (string, error) {
	token, err := g.newToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    token,
		Path:     g.cfg.Path,
		Domain:   g.cfg.Domain,
		Secure:   g.cfg.Secure,
		HttpOnly: false,
		SameSite: g.cfg.SameSite,
	})
	return token, nil
}

func (g *Guard) cookieToken(r *http.Request) string {
	c, err := r.Cookie(g.cfg.CookieName)
	if err != nil || !wellFormed(c.Value) {
		return ""
	}
	return c.Value
}

func wellFormed(token string) bool {
	if len(token) != tokenHexLength {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Message: message})
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	goSession "github.com/MrEthical07/goSession"
)

// AccessValidator verifies access tokens. *goSession.Engine satisfies it.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, accessToken string) (*goSession.AccessClaims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims Guard stored for the request.
func ClaimsFromContext(ctx context.Context) (*goSession.AccessClaims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*goSession.AccessClaims)
	return c, ok
}

// Guard rejects requests without a valid bearer access token.
func Guard(v AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				unauthorized(w)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			claims, err := v.ValidateAccess(r.Context(), token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"message":"unauthorized"}`))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

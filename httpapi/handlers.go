package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/csrf"
	"github.com/MrEthical07/goSession/middleware"
	"go.uber.org/zap"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Age       int    `json:"age"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	ID          string `json:"id,omitempty"`
	Email       string `json:"email,omitempty"`
	AccessToken string `json:"accessToken"`
	CSRFToken   string `json:"csrfToken"`
}

func (s *Server) csrfToken(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "CSRF token set in cookie", map[string]string{
		"csrfToken": csrf.TokenFromContext(r.Context()),
	})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.engine.Register(s.requestContext(r), goSession.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Age:       req.Age,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	csrfToken, ok := s.issueSession(w, res.RefreshToken)
	if !ok {
		return
	}
	writeSuccess(w, http.StatusCreated, "User registered successfully", tokenResponse{
		ID:          res.ID,
		Email:       res.Email,
		AccessToken: res.AccessToken,
		CSRFToken:   csrfToken,
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	pair, err := s.engine.Login(s.requestContext(r), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	csrfToken, ok := s.issueSession(w, pair.RefreshToken)
	if !ok {
		return
	}
	writeSuccess(w, http.StatusOK, "Login Success", tokenResponse{
		AccessToken: pair.AccessToken,
		CSRFToken:   csrfToken,
	})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(s.cfg.RefreshCookie.Name)
	if err != nil || c.Value == "" {
		writeError(w, http.StatusBadRequest, "refresh token required")
		return
	}

	pair, err := s.engine.Refresh(s.requestContext(r), c.Value)
	if err != nil {
		if errors.Is(err, goSession.ErrUserNotFound) {
			err = goSession.ErrTokenInvalid
		}
		s.fail(w, r, err)
		return
	}

	csrfToken, ok := s.issueSession(w, pair.RefreshToken)
	if !ok {
		return
	}
	writeSuccess(w, http.StatusOK, "Token Refresh", tokenResponse{
		AccessToken: pair.AccessToken,
		CSRFToken:   csrfToken,
	})
}

// logout takes the refresh token from the cookie, or from the body for
// clients that keep it themselves.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token := ""
	if c, err := r.Cookie(s.cfg.RefreshCookie.Name); err == nil {
		token = c.Value
	}
	if token == "" {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		token = req.RefreshToken
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "refresh token required")
		return
	}

	if err := s.engine.Logout(s.requestContext(r), token); err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearRefreshCookie(w)
	writeSuccess(w, http.StatusOK, "Logout", struct{}{})
}

func (s *Server) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := s.engine.ResendVerification(s.requestContext(r), req.Email); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Verification email sent", nil)
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token missing")
		return
	}

	if err := s.engine.VerifyEmail(s.requestContext(r), req.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Email verified", nil)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	profile, err := s.engine.Me(r.Context(), claims.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Current User fetched", profile)
}

/*
====================================
HELPERS
====================================
*/

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(w, status, msg)
}

// issueSession sets the refresh cookie and rotates the CSRF token.
func (s *Server) issueSession(w http.ResponseWriter, refreshToken string) (string, bool) {
	s.setRefreshCookie(w, refreshToken)
	token, err := s.csrf.Rotate(w)
	if err != nil {
		s.log.Error("csrf rotate failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return "", false
	}
	return token, true
}

func (s *Server) requestContext(r *http.Request) context.Context {
	return goSession.WithClientIP(r.Context(), s.clientIP(r))
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, token string) {
	c := s.cfg.RefreshCookie
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(s.engine.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	c := s.cfg.RefreshCookie
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

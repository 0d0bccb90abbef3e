package fakeapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kalambet/leadctl/internal/leadapi"
)

type ctxKey struct{}

func currentUser(r *http.Request) *user {
	u, _ := r.Context().Value(ctxKey{}).(*user)
	return u
}

func (s *Server) issueToken(u *user) (string, error) {
	now := s.opts.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   u.Email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
	})
	return tok.SignedString(s.opts.Secret)
}

func (s *Server) parseToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.opts.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.opts.Now),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.Subject, nil
}

// bearerAuth resolves the bearer token to a user or answers 401.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			unauthorized(w, "Not authenticated")
			return
		}
		email, err := s.parseToken(auth[len(prefix):])
		if err != nil {
			unauthorized(w, "Could not validate credentials")
			return
		}
		s.mu.Lock()
		u := s.users[email]
		s.mu.Unlock()
		if u == nil {
			unauthorized(w, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	httpError(w, http.StatusUnauthorized, "%s", detail)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req leadapi.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusUnprocessableEntity, "invalid request body: %v", err)
		return
	}
	if err := req.Validate(); err != nil {
		httpError(w, http.StatusUnprocessableEntity, "%v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[req.Email]; exists {
		httpError(w, http.StatusBadRequest, "Email already registered")
		return
	}
	u := s.addUser(req.Email, req.Password, req.FullName)
	writeJSON(w, http.StatusOK, u.User)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpError(w, http.StatusUnprocessableEntity, "invalid form: %v", err)
		return
	}
	email, password := r.PostForm.Get("username"), r.PostForm.Get("password")

	s.mu.Lock()
	u := s.users[email]
	s.mu.Unlock()
	if u == nil || subtle.ConstantTimeCompare([]byte(u.password), []byte(password)) != 1 {
		unauthorized(w, "Incorrect email or password")
		return
	}

	tok, err := s.issueToken(u)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "issuing token: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, leadapi.TokenResponse{AccessToken: tok, TokenType: "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r).User)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// httpError writes a {"detail": ...} error body.
func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"detail": fmt.Sprintf(format, args...)})
}

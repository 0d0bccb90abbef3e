// Package session owns the access token used for every LeadService request.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned by Require when no usable token is present.
var ErrNoToken = errors.New("not logged in; run `leadctl auth login`")

const tokenFile = "token"

// Session holds the current token. It implements leadapi.TokenSource.
//
// A token set through the environment is never written to disk, and
// Invalidate does not delete the saved file for it.
type Session struct {
	path     string
	override string
	logger   *slog.Logger

	mu    sync.RWMutex
	token string
}

// New returns a Session that persists its token under dataDir. A non-empty
// override (usually LEADCTL_TOKEN) takes precedence over the saved token.
func New(dataDir, override string) *Session {
	return &Session{
		path:     filepath.Join(dataDir, tokenFile),
		override: strings.TrimSpace(override),
		logger:   slog.Default(),
	}
}

// Probe loads the token at startup. Expired tokens are discarded and
// removed from disk. It reports whether a usable token was found.
func (s *Session) Probe() bool {
	tok := s.override
	fromDisk := false
	if tok == "" {
		data, err := os.ReadFile(s.path)
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("reading saved token", "path", s.path, "error", err)
			}
			return false
		}
		tok = strings.TrimSpace(string(data))
		fromDisk = true
	}
	if tok == "" {
		return false
	}
	if exp, ok := Expiry(tok); ok && !exp.After(time.Now()) {
		s.logger.Info("saved token expired", "expired_at", exp)
		if fromDisk {
			os.Remove(s.path)
		}
		return false
	}

	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()
	return true
}

// Set stores a freshly issued token and persists it with 0600 permissions.
func (s *Session) Set(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty token")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Clear forgets the token and deletes the saved copy.
func (s *Session) Clear() error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token: %w", err)
	}
	return nil
}

// Invalidate is called when the server rejects the token.
func (s *Session) Invalidate() {
	s.mu.RLock()
	had := s.token != ""
	s.mu.RUnlock()
	if !had {
		return
	}
	s.logger.Warn("access token rejected by server; clearing session")
	if s.override != "" {
		s.mu.Lock()
		s.token = ""
		s.mu.Unlock()
		return
	}
	if err := s.Clear(); err != nil {
		s.logger.Error("clearing session", "error", err)
	}
}

// Token returns the current token, or "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Require returns the token or ErrNoToken.
func (s *Session) Require() (string, error) {
	if tok := s.Token(); tok != "" {
		return tok, nil
	}
	return "", ErrNoToken
}

// FromEnv reports whether the token came from the environment override.
func (s *Session) FromEnv() bool {
	return s.override != "" && s.Token() == s.override
}

// Expiry extracts the exp claim from a JWT without verifying its signature.
// It reports false for opaque tokens or tokens without exp.
func Expiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Subject extracts the sub claim without verification.
func Subject(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

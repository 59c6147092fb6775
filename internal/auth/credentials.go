package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned by ExpiresAt for tokens without an exp claim.
var ErrNoExpiry = errors.New("token has no expiry")

// CredentialStore holds the current access token used for outbound calls and
// the set of refresh tokens that are still valid. Refresh tokens are kept
// only as hashes.
type CredentialStore struct {
	mu      sync.RWMutex
	access  string
	refresh map[string]struct{}
	now     func() time.Time
}

// NewCredentialStore returns an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		refresh: make(map[string]struct{}),
		now:     time.Now,
	}
}

// SetAccessToken replaces the current access token.
func (s *CredentialStore) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = token
}

// Current returns the current access token, or "".
func (s *CredentialStore) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// AddRefreshToken records token as valid.
func (s *CredentialStore) AddRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[HashToken(token)] = struct{}{}
}

// RevokeRefreshToken forgets token. Revoking an unknown token succeeds.
func (s *CredentialStore) RevokeRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, HashToken(token))
}

// IsRefreshTokenValid reports whether token was added and not revoked.
func (s *CredentialStore) IsRefreshTokenValid(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.refresh[HashToken(token)]
	return ok
}

// Expired reports whether token carries an exp claim in the past. Tokens
// that cannot be parsed or have no expiry are not considered expired; the
// remote decides.
func (s *CredentialStore) Expired(token string) bool {
	exp, err := ExpiresAt(token)
	if err != nil {
		return false
	}
	return !s.now().Before(exp)
}

// ExpiresAt reads the exp claim of a JWT without verifying its signature.
// The daemon never holds the signing key; this is used only to warn about
// stale queued credentials.
func ExpiresAt(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// HashToken computes the SHA-256 hash of a token as a hex string.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

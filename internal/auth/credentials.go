// Package auth stores platform credentials, keeps the shared access token
// fresh and runs the interactive login flows.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vramsply/internal/common/fsutil"
)

// ErrNotLoggedIn is returned when no stored credentials exist.
var ErrNotLoggedIn = errors.New("not logged in")

// Credentials are persisted as JSON. ExpiresAt is unix seconds; zero means
// unknown, in which case the access token's exp claim is consulted.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Expiry returns when the access token expires, or the zero time if it
// cannot be determined.
func (c Credentials) Expiry() time.Time {
	if c.ExpiresAt > 0 {
		return time.Unix(c.ExpiresAt, 0)
	}
	return jwtExpiry(c.AccessToken)
}

// jwtExpiry reads the exp claim without verifying the signature; the
// platform verifies tokens, the agent only schedules refreshes.
func jwtExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Store reads and writes credentials.json under the agent home.
type Store struct {
	Path string
}

func NewStore(home string) *Store {
	return &Store{Path: filepath.Join(home, "credentials.json")}
}

func (s *Store) Load() (Credentials, error) {
	var c Credentials
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return c, ErrNotLoggedIn
	}
	if err != nil {
		return c, fmt.Errorf("read credentials %s: %w", s.Path, err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse credentials %s: %w", s.Path, err)
	}
	if c.AccessToken == "" {
		return c, ErrNotLoggedIn
	}
	return c, nil
}

// Save writes credentials with owner-only permissions.
func (s *Store) Save(c Credentials) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := fsutil.WritePrivateFile(s.Path, b); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Clear deletes the credentials file. It reports whether a file existed.
func (s *Store) Clear() (bool, error) {
	err := os.Remove(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete credentials %s: %w", s.Path, err)
	}
	return true, nil
}

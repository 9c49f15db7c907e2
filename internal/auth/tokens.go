package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"vramsply/internal/metrics"
)

// DefaultRefreshSkew is how long before expiry a token is considered stale.
const DefaultRefreshSkew = 60 * time.Second

// Refresher exchanges a refresh token for new credentials.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credentials, error)
}

// TokenSource is the shared credential cell. Reads take the mutex; refreshes
// are single-flighted so concurrent callers wait for one exchange and all
// observe its result.
type TokenSource struct {
	mu     sync.Mutex
	creds  Credentials
	static bool

	refresher Refresher
	store     *Store
	group     singleflight.Group
	skew      time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewStaticTokenSource wraps an API key. It never refreshes.
func NewStaticTokenSource(token string) *TokenSource {
	return &TokenSource{creds: Credentials{AccessToken: token}, static: true, now: time.Now, log: zerolog.Nop()}
}

// NewTokenSource returns a refreshing cell seeded with creds. store may be
// nil, in which case refreshed credentials are kept in memory only.
func NewTokenSource(creds Credentials, refresher Refresher, store *Store, log zerolog.Logger) *TokenSource {
	return &TokenSource{
		creds:     creds,
		refresher: refresher,
		store:     store,
		skew:      DefaultRefreshSkew,
		now:       time.Now,
		log:       log.With().Str("component", "auth").Logger(),
	}
}

// Token returns the current access token without refreshing.
func (t *TokenSource) Token() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.creds.AccessToken
}

// Credentials returns a copy of the stored credentials.
func (t *TokenSource) Credentials() Credentials {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.creds
}

// Set replaces the credentials, e.g. after a login.
func (t *TokenSource) Set(c Credentials) {
	t.mu.Lock()
	t.creds = c
	t.mu.Unlock()
}

// Static reports whether the cell holds a non-refreshing API key.
func (t *TokenSource) Static() bool { return t.static }

func (t *TokenSource) stale(c Credentials) bool {
	exp := c.Expiry()
	if exp.IsZero() {
		return false
	}
	return !t.now().Add(t.skew).Before(exp)
}

// Valid returns an access token, refreshing it first when it expires within
// the skew window.
func (t *TokenSource) Valid(ctx context.Context) (string, error) {
	if t.static {
		return t.Token(), nil
	}
	c := t.Credentials()
	if !t.stale(c) {
		return c.AccessToken, nil
	}
	v, err, _ := t.group.Do("refresh", func() (any, error) {
		// Another flight may have finished between the check and Do.
		c := t.Credentials()
		if !t.stale(c) {
			return c.AccessToken, nil
		}
		if c.RefreshToken == "" || t.refresher == nil {
			return "", errors.New("access token expired and no refresh token is available")
		}
		// One caller giving up must not fail the others sharing this flight.
		next, err := t.refresher.Refresh(context.WithoutCancel(ctx), c.RefreshToken)
		metrics.ObserveTokenRefresh(err)
		if err != nil {
			return "", fmt.Errorf("refresh access token: %w", err)
		}
		if next.RefreshToken == "" {
			next.RefreshToken = c.RefreshToken
		}
		t.Set(next)
		if t.store != nil {
			if err := t.store.Save(next); err != nil {
				t.log.Warn().Err(err).Msg("could not persist refreshed credentials")
			}
		}
		t.log.Info().Time("expires_at", next.Expiry()).Msg("access token refreshed")
		return next.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

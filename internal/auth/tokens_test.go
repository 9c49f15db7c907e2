package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRefresher struct {
	calls   atomic.Int32
	delay   time.Duration
	next    Credentials
	err     error
	started chan struct{}
}

func (r *countingRefresher) Refresh(ctx context.Context, refreshToken string) (Credentials, error) {
	r.calls.Add(1)
	if r.started != nil {
		close(r.started)
	}
	time.Sleep(r.delay)
	return r.next, r.err
}

func expiringCreds() Credentials {
	return Credentials{AccessToken: "old", RefreshToken: "r1", ExpiresAt: time.Now().Add(10 * time.Second).Unix()}
}

func TestValidSingleFlightRefresh(t *testing.T) {
	ref := &countingRefresher{
		delay: 100 * time.Millisecond,
		next:  Credentials{AccessToken: "new", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour).Unix()},
	}
	store := NewStore(t.TempDir())
	ts := NewTokenSource(expiringCreds(), ref, store, zerolog.Nop())

	const n = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tokens[i], errs[i] = ts.Valid(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), ref.calls.Load(), "expected exactly one refresh exchange")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new", tokens[i])
	}
	assert.Equal(t, "new", ts.Token())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "new", saved.AccessToken)
	assert.Equal(t, "r2", saved.RefreshToken)
}

func TestValidSkipsRefreshWhenFresh(t *testing.T) {
	ref := &countingRefresher{}
	creds := Credentials{AccessToken: "tok", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	ts := NewTokenSource(creds, ref, nil, zerolog.Nop())
	tok, err := ts.Valid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
	assert.Zero(t, ref.calls.Load())
}

func TestValidKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	ref := &countingRefresher{next: Credentials{AccessToken: "new", ExpiresAt: time.Now().Add(time.Hour).Unix()}}
	ts := NewTokenSource(expiringCreds(), ref, nil, zerolog.Nop())
	_, err := ts.Valid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1", ts.Credentials().RefreshToken)
}

func TestValidRefreshError(t *testing.T) {
	ref := &countingRefresher{err: errors.New("invalid_grant")}
	ts := NewTokenSource(expiringCreds(), ref, nil, zerolog.Nop())
	_, err := ts.Valid(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.Equal(t, "old", ts.Token(), "failed refresh must not clobber the cell")
}

func TestValidWithoutRefreshToken(t *testing.T) {
	creds := expiringCreds()
	creds.RefreshToken = ""
	ts := NewTokenSource(creds, &countingRefresher{}, nil, zerolog.Nop())
	_, err := ts.Valid(context.Background())
	require.Error(t, err)
}

func TestValidCallerCancellationDoesNotAbortFlight(t *testing.T) {
	ref := &countingRefresher{
		delay:   150 * time.Millisecond,
		next:    Credentials{AccessToken: "new", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		started: make(chan struct{}),
	}
	ts := NewTokenSource(expiringCreds(), ref, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ts.Valid(ctx)
		done <- err
	}()
	<-ref.started
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "new", ts.Token())
}

func TestStaticTokenSource(t *testing.T) {
	ts := NewStaticTokenSource("vs_key")
	tok, err := ts.Valid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vs_key", tok)
	assert.True(t, ts.Static())
}

package auth

import (
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "agent", "exp": exp.Unix()}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Load()
	require.ErrorIs(t, err, ErrNotLoggedIn)

	in := Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: 1700000000}
	require.NoError(t, store.Save(in))
	out, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(store.Path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}

	existed, err := store.Clear()
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = store.Clear()
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStoreCorruptFile(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, os.WriteFile(store.Path, []byte("{"), 0o600))
	_, err := store.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotLoggedIn)
}

func TestExpiryFallsBackToJWT(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	c := Credentials{AccessToken: signedToken(t, exp)}
	assert.True(t, c.Expiry().Equal(exp))

	c.ExpiresAt = exp.Add(time.Hour).Unix()
	assert.True(t, c.Expiry().Equal(exp.Add(time.Hour)), "explicit expires_at wins")

	assert.True(t, Credentials{AccessToken: "opaque"}.Expiry().IsZero())
}

func TestDescribe(t *testing.T) {
	store := NewStore(t.TempDir())
	now := time.Now()
	assert.Equal(t, "API key configured: vs_live...", Describe("vs_live_abcdef", store, now))
	assert.True(t, strings.HasPrefix(Describe("", store, now), "Not logged in"))

	require.NoError(t, store.Save(Credentials{AccessToken: "a", ExpiresAt: now.Add(-time.Minute).Unix()}))
	assert.True(t, strings.HasPrefix(Describe("", store, now), "Session expired"))

	require.NoError(t, store.Save(Credentials{AccessToken: "a", ExpiresAt: now.Add(time.Hour).Unix()}))
	assert.True(t, strings.HasPrefix(Describe("", store, now), "Logged in (access token valid until"))
}

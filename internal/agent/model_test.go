package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vramsply/internal/models"
	"vramsply/internal/presence"
	"vramsply/internal/verify"
)

const helloSHA = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func modelDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("hello world"), 0o644))
	}
	return dir
}

func TestResolveModelDerivesName(t *testing.T) {
	dir := modelDir(t, "Llama-3.1-8B-Instruct-Q4_K_M.gguf", "zz.gguf")
	m, err := ResolveModel(context.Background(), ModelSpec{Dir: dir, SkipVerify: true}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "meta-llama/llama-3.1-8b-instruct", m.Name)
	assert.Equal(t, filepath.Join(dir, "Llama-3.1-8B-Instruct-Q4_K_M.gguf"), m.Path)
	assert.Empty(t, m.SHA256)
}

func TestResolveModelNameOverrideAndNoRepo(t *testing.T) {
	dir := modelDir(t, "custom.gguf")
	m, err := ResolveModel(context.Background(), ModelSpec{Dir: dir, Arg: "custom", Name: "me/custom"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "me/custom", m.Name)
	assert.Empty(t, m.SHA256, "no repository means no hash")
}

func TestResolveModelNoModels(t *testing.T) {
	_, err := ResolveModel(context.Background(), ModelSpec{Dir: t.TempDir()}, zerolog.Nop())
	assert.ErrorIs(t, err, models.ErrNoModels)
}

func TestResolveModelVerifies(t *testing.T) {
	tree := func(oid string) *httptest.Server {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"path":"m.gguf","size":11,"lfs":{"oid":"sha256:` + oid + `","size":11}}]`))
		}))
		t.Cleanup(srv.Close)
		return srv
	}
	dir := modelDir(t, "m.gguf")

	good := tree(helloSHA)
	v := &verify.Verifier{HF: verify.NewHFClient(good.URL), Cache: verify.NewCache(t.TempDir(), zerolog.Nop()), Log: zerolog.Nop()}
	m, err := ResolveModel(context.Background(), ModelSpec{Dir: dir, HFRepo: "org/repo", Verifier: v}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, helloSHA, m.SHA256)

	bad := tree(strings.Repeat("0", 64))
	v = &verify.Verifier{HF: verify.NewHFClient(bad.URL), Log: zerolog.Nop()}
	_, err = ResolveModel(context.Background(), ModelSpec{Dir: dir, HFRepo: "org/repo", Verifier: v}, zerolog.Nop())
	assert.True(t, errors.Is(err, verify.ErrHashMismatch), "got %v", err)
}

func TestPayloadOptionalFields(t *testing.T) {
	pct := 40
	p := payload(testIdentity(), presence.Snapshot{Status: presence.StatusLoadingModel, LoadingProgressPct: &pct})
	assert.Equal(t, "loading_model", p.Status)
	assert.Nil(t, p.CurrentModel)
	assert.Nil(t, p.ErrorCode)
	assert.Nil(t, p.ErrorMessage)
	require.NotNil(t, p.LoadingProgressPct)
	assert.Equal(t, 40, *p.LoadingProgressPct)
	assert.Equal(t, "uid-1", p.AgentUID)

	p = payload(testIdentity(), presence.Snapshot{Status: presence.StatusError, CurrentModel: "m", ErrorCode: "c", ErrorMessage: "boom"})
	require.NotNil(t, p.ErrorCode)
	assert.Equal(t, "c", *p.ErrorCode)
	assert.Equal(t, "boom", *p.ErrorMessage)
	assert.Equal(t, "m", *p.CurrentModel)
}

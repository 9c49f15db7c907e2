package models

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"vramsply/internal/verify"
)

const helloSHA = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func hfServer(t *testing.T, tree string, content string, downloads *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/org/repo/tree/main", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(tree))
	})
	mux.HandleFunc("/org/repo/resolve/main/", func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		_, _ = w.Write([]byte(content))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newPuller(t *testing.T, baseURL string) *Puller {
	return &Puller{Dir: t.TempDir(), HF: verify.NewHFClient(baseURL), Log: zerolog.Nop()}
}

func TestPullDownloadsAndVerifies(t *testing.T) {
	var downloads atomic.Int32
	srv := hfServer(t, `[{"path":"README.md","size":3},{"path":"m-Q4_K_M.gguf","size":11,"lfs":{"oid":"sha256:`+helloSHA+`","size":11}}]`, "hello world", &downloads)
	p := newPuller(t, srv.URL)
	var last int64
	p.OnProgress = func(done, total int64) { last = done }

	dest, err := p.Pull(context.Background(), "org/repo", "")
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if filepath.Base(dest) != "m-Q4_K_M.gguf" {
		t.Fatalf("dest = %s", dest)
	}
	b, _ := os.ReadFile(dest)
	if string(b) != "hello world" {
		t.Fatalf("content = %q", b)
	}
	if last != 11 {
		t.Fatalf("progress not reported, last=%d", last)
	}
	if _, err := os.Stat(dest + ".partial"); !os.IsNotExist(err) {
		t.Fatalf("partial file left behind")
	}

	if _, err := p.Pull(context.Background(), "org/repo", ""); err != nil {
		t.Fatalf("second Pull: %v", err)
	}
	if downloads.Load() != 1 {
		t.Fatalf("existing file of the right size should be kept, downloads=%d", downloads.Load())
	}
}

func TestPullHashMismatchRemovesPartial(t *testing.T) {
	var downloads atomic.Int32
	srv := hfServer(t, `[{"path":"m.gguf","size":11,"lfs":{"oid":"`+strings.Repeat("a", 64)+`","size":11}}]`, "hello world", &downloads)
	p := newPuller(t, srv.URL)
	_, err := p.Pull(context.Background(), "org/repo", "")
	if !errors.Is(err, verify.ErrHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
	entries, _ := os.ReadDir(p.Dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty model dir, found %d entries", len(entries))
	}
}

func TestPullSizeMismatch(t *testing.T) {
	var downloads atomic.Int32
	srv := hfServer(t, `[{"path":"m.gguf","size":99}]`, "short", &downloads)
	p := newPuller(t, srv.URL)
	if _, err := p.Pull(context.Background(), "org/repo", ""); err == nil || !strings.Contains(err.Error(), "size mismatch") {
		t.Fatalf("expected size mismatch, got %v", err)
	}
}

func TestPullFileSelection(t *testing.T) {
	var downloads atomic.Int32
	tree := `[{"path":"a.gguf","size":11},{"path":"b.gguf","size":11}]`
	srv := hfServer(t, tree, "hello world", &downloads)
	p := newPuller(t, srv.URL)

	_, err := p.Pull(context.Background(), "org/repo", "")
	if !IsAmbiguous(err) {
		t.Fatalf("expected ambiguous error, got %v", err)
	}
	if _, err := p.Pull(context.Background(), "org/repo", "c.gguf"); err == nil {
		t.Fatalf("expected error for unknown file")
	}
	dest, err := p.Pull(context.Background(), "org/repo", "b.gguf")
	if err != nil || filepath.Base(dest) != "b.gguf" {
		t.Fatalf("Pull b.gguf = %q, %v", dest, err)
	}
}

func TestPullNoGGUF(t *testing.T) {
	var downloads atomic.Int32
	srv := hfServer(t, `[{"path":"README.md","size":3}]`, "", &downloads)
	p := newPuller(t, srv.URL)
	if _, err := p.Pull(context.Background(), "org/repo", ""); err == nil {
		t.Fatalf("expected error when the repo has no gguf files")
	}
}

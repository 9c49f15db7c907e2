// Package verify checks local model files against HuggingFace LFS hashes.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Unverified is returned in place of a hash when verification is skipped.
const Unverified = "unverified"

// ErrHashMismatch means the local file differs from the upstream artifact.
var ErrHashMismatch = errors.New("model verification failed: SHA-256 mismatch")

// Verifier resolves a model's SHA-256 against its upstream repository.
type Verifier struct {
	HF    *HFClient
	Cache *Cache
	Log   zerolog.Logger
	// OnHashStart is called before a full-file hash; used for progress UI.
	OnHashStart func(path string)
}

// Verify returns the verified SHA-256 of path, or Unverified when skip is set.
func (v *Verifier) Verify(ctx context.Context, path, repo string, skip bool) (string, error) {
	if skip {
		return Unverified, nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	size, mtime := fi.Size(), fi.ModTime().Unix()

	if v.Cache != nil {
		if e, ok := v.Cache.Get(path); ok && e.FileSize == size && e.MtimeSecs == mtime && e.HFRepoID == repo {
			v.Log.Info().Str("path", path).Msg("verification cache hit")
			return e.SHA256, nil
		}
	}

	lfs, err := v.HF.LFS(ctx, repo, filepath.Base(path))
	if err != nil {
		return "", err
	}
	expected := lfs.SHA256()

	if v.OnHashStart != nil {
		v.OnHashStart(path)
	}
	v.Log.Info().Str("path", path).Msg("verifying model integrity")
	actual, err := SHA256File(path)
	if err != nil {
		return "", err
	}
	if actual != expected {
		return "", fmt.Errorf("%w: expected %s, computed %s; the local file does not match %q", ErrHashMismatch, expected, actual, repo)
	}

	if v.Cache != nil {
		v.Cache.Put(path, CacheEntry{FileSize: size, MtimeSecs: mtime, SHA256: actual, HFRepoID: repo, VerifiedAt: time.Now().Unix()})
	}
	return actual, nil
}

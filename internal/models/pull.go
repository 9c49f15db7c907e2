package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"vramsply/internal/verify"
)

// Progress is called as a download advances. total may be zero if unknown.
type Progress func(done, total int64)

// Puller downloads GGUF files from HuggingFace into Dir.
type Puller struct {
	Dir        string
	HF         *verify.HFClient
	Log        zerolog.Logger
	OnProgress Progress
	// OnVerify is called before the downloaded file is hashed.
	OnVerify func()
}

// AmbiguousFileError lists candidate files when a repo holds several GGUFs
// and none was selected.
type AmbiguousFileError struct {
	Repo  string
	Files []verify.TreeEntry
}

func (e *AmbiguousFileError) Error() string {
	names := make([]string, len(e.Files))
	for i, f := range e.Files {
		names[i] = fmt.Sprintf("%s (%s)", f.Path, FormatSize(f.Size))
	}
	return fmt.Sprintf("multiple .gguf files in %q, use --file to select one: %s", e.Repo, strings.Join(names, ", "))
}

// Pull downloads file (or the repository's only GGUF) and returns the local
// path. An existing file of the expected size is kept. The download goes to
// a .partial file, is checked for size and LFS SHA-256, then renamed.
func (p *Puller) Pull(ctx context.Context, repo, file string) (string, error) {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir %s: %w", p.Dir, err)
	}
	entries, err := p.HF.Tree(ctx, repo)
	if err != nil {
		return "", err
	}
	var ggufs []verify.TreeEntry
	for _, e := range entries {
		if strings.HasSuffix(e.Path, ".gguf") {
			ggufs = append(ggufs, e)
		}
	}
	if len(ggufs) == 0 {
		return "", fmt.Errorf("no .gguf files found in HuggingFace repository %q", repo)
	}
	var entry verify.TreeEntry
	switch {
	case file != "":
		found := false
		for _, e := range ggufs {
			if e.Path == file {
				entry, found = e, true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("file %q not found in repository %q", file, repo)
		}
	case len(ggufs) == 1:
		entry = ggufs[0]
	default:
		return "", &AmbiguousFileError{Repo: repo, Files: ggufs}
	}

	dest := filepath.Join(p.Dir, filepath.Base(entry.Path))
	if fi, err := os.Stat(dest); err == nil && fi.Size() == entry.Size {
		p.Log.Info().Str("path", dest).Msg("model already present with expected size, skipping download")
		return dest, nil
	}

	partial := strings.TrimSuffix(dest, ".gguf") + ".gguf.partial"
	if err := p.download(ctx, p.HF.ResolveURL(repo, entry.Path), partial, entry); err != nil {
		_ = os.Remove(partial)
		return "", err
	}
	if err := os.Rename(partial, dest); err != nil {
		_ = os.Remove(partial)
		return "", fmt.Errorf("rename %s: %w", partial, err)
	}
	p.Log.Info().Str("path", dest).Str("size", FormatSize(entry.Size)).Msg("model saved")
	return dest, nil
}

func (p *Puller) download(ctx context.Context, url, partial string, entry verify.TreeEntry) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "vramsply")
	resp, err := p.HF.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download failed: HTTP %d from %s", resp.StatusCode, url)
	}

	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("create %s: %w", partial, err)
	}
	w := &progressWriter{total: entry.Size, fn: p.OnProgress}
	n, copyErr := io.Copy(io.MultiWriter(f, w), resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return fmt.Errorf("download %s: %w", url, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", partial, closeErr)
	}
	if n != entry.Size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d bytes", entry.Size, n)
	}
	if entry.LFS == nil {
		return nil
	}
	if p.OnVerify != nil {
		p.OnVerify()
	}
	actual, err := verify.SHA256File(partial)
	if err != nil {
		return err
	}
	if want := entry.LFS.SHA256(); actual != want {
		return fmt.Errorf("%w: expected %s, got %s", verify.ErrHashMismatch, want, actual)
	}
	return nil
}

type progressWriter struct {
	done, total int64
	fn          Progress
}

func (w *progressWriter) Write(b []byte) (int, error) {
	w.done += int64(len(b))
	if w.fn != nil {
		w.fn(w.done, w.total)
	}
	return len(b), nil
}

// IsAmbiguous reports whether err lists several candidate files.
func IsAmbiguous(err error) bool {
	var a *AmbiguousFileError
	return errors.As(err, &a)
}

// Package models discovers local GGUF files, derives their public names and
// downloads new ones from HuggingFace.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"vramsply/internal/common/fsutil"
	"vramsply/pkg/types"
)

// ErrNoModels is returned when no model was requested and none exist locally.
var ErrNoModels = errors.New("no models found; specify --model or download one with: vramsply models pull <hf_repo_id>")

// List scans dir for *.gguf files, sorted by name. A missing directory
// yields an empty list.
func List(dir string) ([]types.LocalModel, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read model dir %s: %w", abs, err)
	}
	var out []types.LocalModel
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".gguf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		out = append(out, types.LocalModel{
			Name:      strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Path:      filepath.Join(abs, e.Name()),
			SizeBytes: info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Find resolves nameOrPath: an existing absolute path is used as is,
// otherwise <dir>/<name> and <dir>/<name>.gguf are tried.
func Find(dir, nameOrPath string) (string, error) {
	if filepath.IsAbs(nameOrPath) && fsutil.PathExists(nameOrPath) {
		return nameOrPath, nil
	}
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return "", err
	}
	candidates := []string{
		filepath.Join(base, nameOrPath),
		filepath.Join(base, nameOrPath+".gguf"),
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("model %q not found; checked: %s", nameOrPath, strings.Join(candidates, ", "))
}

// Resolve returns the model to serve: arg when given, else the first local model.
func Resolve(dir, arg string) (path string, others int, err error) {
	if strings.TrimSpace(arg) != "" {
		p, err := Find(dir, arg)
		return p, 0, err
	}
	local, err := List(dir)
	if err != nil {
		return "", 0, err
	}
	if len(local) == 0 {
		return "", 0, ErrNoModels
	}
	return local[0].Path, len(local) - 1, nil
}

// FormatSize renders a byte count for humans.
func FormatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

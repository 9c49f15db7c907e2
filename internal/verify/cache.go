package verify

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"vramsply/internal/common/fsutil"
)

// CacheEntry records a successful verification. It stays valid while the
// file size, mtime and repository are unchanged.
type CacheEntry struct {
	FileSize   int64  `json:"file_size"`
	MtimeSecs  int64  `json:"mtime_secs"`
	SHA256     string `json:"sha256"`
	HFRepoID   string `json:"hf_repo_id"`
	VerifiedAt int64  `json:"verified_at"`
}

// Cache is the on-disk verification cache keyed by model path. Read and
// write failures degrade to a cache miss.
type Cache struct {
	Path string
	log  zerolog.Logger
	mu   sync.Mutex
}

func NewCache(home string, log zerolog.Logger) *Cache {
	return &Cache{Path: filepath.Join(home, "verification-cache.json"), log: log}
}

func (c *Cache) load() map[string]CacheEntry {
	out := map[string]CacheEntry{}
	b, err := os.ReadFile(c.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Warn().Err(err).Str("path", c.Path).Msg("read verification cache")
		}
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil {
		c.log.Warn().Err(err).Str("path", c.Path).Msg("discarding corrupt verification cache")
		return map[string]CacheEntry{}
	}
	return out
}

// Get returns the entry for path, if any.
func (c *Cache) Get(path string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.load()[path]
	return e, ok
}

// Put stores e for path.
func (c *Cache) Put(path string, e CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := c.load()
	all[path] = e
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		c.log.Warn().Err(err).Msg("encode verification cache")
		return
	}
	if err := fsutil.WritePrivateFile(c.Path, b); err != nil {
		c.log.Warn().Err(err).Msg("write verification cache")
	}
}

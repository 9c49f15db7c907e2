package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHFBaseURL is the public HuggingFace endpoint.
const DefaultHFBaseURL = "https://huggingface.co"

// TreeEntry is one file in a repository tree listing.
type TreeEntry struct {
	Path string   `json:"path"`
	Size int64    `json:"size"`
	LFS  *LFSInfo `json:"lfs"`
}

// LFSInfo is the git-lfs pointer metadata of a file.
type LFSInfo struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

// SHA256 returns the oid without its optional "sha256:" prefix.
func (l LFSInfo) SHA256() string {
	return strings.ToLower(strings.TrimPrefix(l.OID, "sha256:"))
}

// HFClient talks to the HuggingFace model API.
type HFClient struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
}

// NewHFClient returns a client for baseURL; empty means DefaultHFBaseURL.
func NewHFClient(baseURL string) *HFClient {
	if baseURL == "" {
		baseURL = DefaultHFBaseURL
	}
	return &HFClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: 0}, Timeout: 30 * time.Second}
}

// ResolveURL is where a repository file can be downloaded from.
func (c *HFClient) ResolveURL(repo, file string) string {
	return fmt.Sprintf("%s/%s/resolve/main/%s", c.BaseURL, repo, file)
}

// Tree lists the files on the main branch of repo.
func (c *HFClient) Tree(ctx context.Context, repo string) ([]TreeEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	url := fmt.Sprintf("%s/api/models/%s/tree/main", c.BaseURL, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "vramsply")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch HuggingFace tree for %q: %w", repo, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("HuggingFace repository %q not found or not accessible (HTTP %d); check the --hf-repo value", repo, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("HuggingFace tree API returned HTTP %d for %q", resp.StatusCode, repo)
	}
	var entries []TreeEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("parse HuggingFace tree for %q: %w", repo, err)
	}
	return entries, nil
}

// LFS returns the LFS metadata of file in repo.
func (c *HFClient) LFS(ctx context.Context, repo, file string) (LFSInfo, error) {
	entries, err := c.Tree(ctx, repo)
	if err != nil {
		return LFSInfo{}, err
	}
	for _, e := range entries {
		if e.Path != file {
			continue
		}
		if e.LFS == nil {
			return LFSInfo{}, fmt.Errorf("file %q in %q has no LFS metadata (not an LFS-tracked file)", file, repo)
		}
		return *e.LFS, nil
	}
	return LFSInfo{}, fmt.Errorf("file %q not found in HuggingFace repository %q", file, repo)
}

// Package platform is the HTTP client for the vram.supply control plane.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vramsply/pkg/types"
)

const (
	// DefaultTimeout bounds every control-plane request.
	DefaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// TokenProvider returns the current bearer token. It is read at call time so
// refreshed credentials are picked up without rebuilding the client.
type TokenProvider interface {
	Token() string
}

// Client talks to the control plane.
type Client struct {
	BaseURL string
	Tokens  TokenProvider
	HTTP    *http.Client
	Timeout time.Duration
	log     zerolog.Logger
}

// New returns a client for baseURL. The HTTP client has no global timeout;
// each request carries its own deadline.
func New(baseURL string, tokens TokenProvider, log zerolog.Logger) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: 0},
		Timeout: DefaultTimeout,
		log:     log,
	}
}

// Register announces this node as a provider and returns the instance id.
func (c *Client) Register(ctx context.Context, req types.RegisterRequest) (types.RegisterResponse, error) {
	var out types.RegisterResponse
	body, err := c.do(ctx, "register", http.MethodPost, "/v1/providers/register", req)
	if err != nil {
		return out, err
	}
	u := c.BaseURL + "/v1/providers/register"
	if err := json.Unmarshal(body, &out); err != nil {
		return out, decodeError{op: "register", url: u, err: err}
	}
	if out.ID == "" {
		return out, decodeError{op: "register", url: u, err: fmt.Errorf("missing id")}
	}
	return out, nil
}

// Heartbeat sends an empty-body liveness ping.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.do(ctx, "heartbeat", http.MethodPost, "/v1/providers/heartbeat", nil)
	return err
}

// Deregister removes the provider instance id.
func (c *Client) Deregister(ctx context.Context, id string) error {
	_, err := c.do(ctx, "deregister", http.MethodDelete, "/v1/providers/"+url.PathEscape(id), nil)
	return err
}

// PublishPresence reports the agent's presence snapshot.
func (c *Client) PublishPresence(ctx context.Context, p types.PresencePayload) error {
	_, err := c.do(ctx, "publish presence", http.MethodPost, "/v1/agents/presence", p)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, in any) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := c.BaseURL + path
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, u, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Tokens != nil {
		if tok := c.Tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPStatusError{Op: op, URL: u, Code: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", op, u, err)
	}
	c.log.Debug().Str("op", op).Str("url", u).Int("status", resp.StatusCode).Msg("control plane request")
	return out, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// LoginDevice runs the OAuth device authorization grant: it prints the
// verification URL and user code to out, then polls until approval.
func LoginDevice(ctx context.Context, cfg *oauth2.Config, client *http.Client, out io.Writer) (Credentials, error) {
	ctx = withClient(ctx, client)
	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("device authorization %s: %w", cfg.Endpoint.DeviceAuthURL, err)
	}
	uri := da.VerificationURIComplete
	if uri == "" {
		uri = da.VerificationURI
	}
	fmt.Fprintf(out, "Open %s and enter code: %s\n", uri, da.UserCode)
	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return Credentials{}, fmt.Errorf("device token %s: %w", cfg.Endpoint.TokenURL, err)
	}
	return fromOAuthToken(tok), nil
}

// LoginPKCE runs the authorization code flow with a S256 PKCE challenge and
// a loopback redirect. openURL may be nil; the URL is always printed.
func LoginPKCE(ctx context.Context, cfg *oauth2.Config, client *http.Client, out io.Writer, openURL func(string) error) (Credentials, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return Credentials{}, fmt.Errorf("listen for oauth callback: %w", err)
	}
	c := *cfg
	c.RedirectURL = fmt.Sprintf("http://%s/callback", ln.Addr().String())
	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)
	r := chi.NewRouter()
	r.Get("/callback", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		res := result{code: q.Get("code")}
		switch {
		case q.Get("state") != state:
			res.err = errors.New("oauth callback state mismatch")
		case q.Get("error") != "":
			res.err = fmt.Errorf("authorization denied: %s %s", q.Get("error"), q.Get("error_description"))
		case res.code == "":
			res.err = errors.New("oauth callback without code")
		}
		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
		} else {
			_, _ = io.WriteString(w, "Login complete. You can close this window.")
		}
		select {
		case results <- res:
		default:
		}
	})
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	authURL := c.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	fmt.Fprintf(out, "Open this URL to log in:\n  %s\n", authURL)
	if openURL != nil {
		if err := openURL(authURL); err != nil {
			fmt.Fprintln(out, "(could not open a browser automatically)")
		}
	}

	var res result
	select {
	case res = <-results:
	case <-ctx.Done():
		return Credentials{}, fmt.Errorf("wait for oauth callback: %w", ctx.Err())
	}
	if res.err != nil {
		return Credentials{}, res.err
	}
	tok, err := c.Exchange(withClient(ctx, client), res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Credentials{}, fmt.Errorf("exchange code at %s: %w", c.Endpoint.TokenURL, err)
	}
	return fromOAuthToken(tok), nil
}

// Options configures EnsureAuthenticated.
type Options struct {
	APIKey     string
	Store      *Store
	OAuth      *oauth2.Config
	HTTPClient *http.Client
	Headless   bool
	Out        io.Writer
	OpenURL    func(string) error
	Log        zerolog.Logger
}

// EnsureAuthenticated returns the token cell for this run: an API key when
// one is configured, otherwise stored credentials, otherwise a fresh login.
func EnsureAuthenticated(ctx context.Context, o Options) (*TokenSource, error) {
	if k := strings.TrimSpace(o.APIKey); k != "" {
		return NewStaticTokenSource(k), nil
	}
	if o.Out == nil {
		o.Out = io.Discard
	}
	refresher := OAuthRefresher{Config: o.OAuth, HTTPClient: o.HTTPClient}
	creds, err := o.Store.Load()
	if err == nil {
		ts := NewTokenSource(creds, refresher, o.Store, o.Log)
		_, verr := ts.Valid(ctx)
		if verr == nil {
			return ts, nil
		}
		o.Log.Warn().Err(verr).Msg("stored credentials unusable, logging in again")
	} else if !errors.Is(err, ErrNotLoggedIn) {
		return nil, err
	}
	creds, err = Login(ctx, o)
	if err != nil {
		return nil, err
	}
	return NewTokenSource(creds, refresher, o.Store, o.Log), nil
}

// Login runs the device or PKCE flow and saves the result.
func Login(ctx context.Context, o Options) (Credentials, error) {
	if o.OAuth == nil {
		return Credentials{}, errors.New("oauth not configured")
	}
	if o.Out == nil {
		o.Out = io.Discard
	}
	var (
		creds Credentials
		err   error
	)
	if o.Headless {
		creds, err = LoginDevice(ctx, o.OAuth, o.HTTPClient, o.Out)
	} else {
		creds, err = LoginPKCE(ctx, o.OAuth, o.HTTPClient, o.Out, o.OpenURL)
	}
	if err != nil {
		return Credentials{}, err
	}
	if err := o.Store.Save(creds); err != nil {
		return Credentials{}, err
	}
	o.Log.Info().Str("path", o.Store.Path).Msg("credentials saved")
	return creds, nil
}

// Describe summarises the active credential for `auth status`.
func Describe(apiKey string, store *Store, now time.Time) string {
	if k := strings.TrimSpace(apiKey); k != "" {
		prefix := k
		if len(prefix) > 7 {
			prefix = prefix[:7]
		}
		return fmt.Sprintf("API key configured: %s...", prefix)
	}
	c, err := store.Load()
	if errors.Is(err, ErrNotLoggedIn) {
		return "Not logged in. Run `vramsply auth login` or set VRAM_SUPPLY_API_KEY."
	}
	if err != nil {
		return "Credentials unreadable: " + err.Error()
	}
	exp := c.Expiry()
	switch {
	case exp.IsZero():
		return "Logged in (token expiry unknown)"
	case now.After(exp) && c.RefreshToken != "":
		return "Logged in (access token expired, will refresh)"
	case now.After(exp):
		return "Session expired. Run `vramsply auth login`."
	default:
		return fmt.Sprintf("Logged in (access token valid until %s)", exp.Local().Format(time.RFC1123))
	}
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"vramsply/internal/agent"
	"vramsply/pkg/types"
)

func withCLIStubs(t *testing.T, stubs func()) func() {
	t.Helper()
	oldRunAgent := fnRunAgent
	oldOpenURL := fnOpenURL
	oldSignalCtx := fnSignalCtx
	fnSignalCtx = func(parent context.Context) (context.Context, context.CancelFunc) {
		return context.WithCancel(parent)
	}
	stubs()
	return func() {
		fnRunAgent = oldRunAgent
		fnOpenURL = oldOpenURL
		fnSignalCtx = oldSignalCtx
	}
}

// isolate points every agent path at a temp home and clears credentials
// inherited from the environment.
func isolate(t *testing.T) (home, modelDir string) {
	t.Helper()
	home = t.TempDir()
	modelDir = filepath.Join(home, "models")
	t.Setenv("VRAM_SUPPLY_CONFIG", "")
	t.Setenv("VRAM_SUPPLY_HOME", home)
	t.Setenv("VRAM_SUPPLY_MODEL_DIR", modelDir)
	t.Setenv("VRAM_SUPPLY_STATUS_ADDR", "")
	t.Setenv("VRAM_SUPPLY_API_KEY", "")
	t.Setenv("VRAM_SUPPLY_HF_REPO", "")
	t.Setenv("VRAM_SUPPLY_NATS_URL", "")
	t.Setenv("VRAM_SUPPLY_LOG_LEVEL", "error")
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })
	return home, modelDir
}

func runCLI(args ...string) (int, string, string) {
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRunReturnCodes(t *testing.T) {
	isolate(t)
	if code, _, _ := runCLI(); code != 2 {
		t.Fatalf("empty expected 2, got %d", code)
	}
	if code, _, _ := runCLI("--help"); code != 0 {
		t.Fatalf("help expected 0, got %d", code)
	}
	code, _, errOut := runCLI("bogus")
	if code != 1 {
		t.Fatalf("unknown command expected 1, got %d", code)
	}
	if !strings.Contains(errOut, "unknown command") {
		t.Fatalf("expected error message, got %q", errOut)
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI("version")
	if code != 0 || !strings.HasPrefix(out, "vramsply ") {
		t.Fatalf("unexpected version output %d %q", code, out)
	}
}

func TestModelsList(t *testing.T) {
	_, dir := isolate(t)
	code, out, _ := runCLI("models", "list")
	if code != 0 || !strings.Contains(out, "No models in") {
		t.Fatalf("empty list: %d %q", code, out)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tiny-Q4_K_M.gguf"), make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, out, _ = runCLI("models", "list")
	if code != 0 {
		t.Fatalf("list failed: %d", code)
	}
	if !strings.Contains(out, "tiny-Q4_K_M.gguf") || !strings.Contains(out, "2.0 KiB") {
		t.Fatalf("model row missing: %q", out)
	}
	if strings.Contains(out, "notes.txt") {
		t.Fatalf("non-gguf file listed: %q", out)
	}
}

func TestServePassesFlagsToAgent(t *testing.T) {
	_, dir := isolate(t)
	t.Setenv("VRAM_SUPPLY_API_KEY", "vs_testkey123")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Llama-3.1-8B-Instruct-Q4_K_M.gguf"), []byte("gguf"), 0o644); err != nil {
		t.Fatal(err)
	}

	var got agent.Options
	called := false
	cleanup := withCLIStubs(t, func() {
		fnRunAgent = func(ctx context.Context, o agent.Options) error {
			called = true
			got = o
			return nil
		}
	})
	defer cleanup()

	code, _, errOut := runCLI("serve", "--hf-repo", "org/repo", "--skip-verify", "--model-name", "org/custom")
	if code != 0 {
		t.Fatalf("serve expected 0, got %d: %s", code, errOut)
	}
	if !called {
		t.Fatalf("agent was not run")
	}
	if got.Config.HFRepo != "org/repo" || !got.Config.SkipVerify {
		t.Fatalf("flags not applied: %+v", got.Config)
	}
	if got.Mirror != nil {
		t.Fatalf("mirror should be nil without a NATS url")
	}

	tok, err := got.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if tok.Token() != "vs_testkey123" {
		t.Fatalf("expected API key token, got %q", tok.Token())
	}

	m, err := got.ResolveModel(context.Background())
	if err != nil {
		t.Fatalf("resolve model: %v", err)
	}
	if m.Name != "org/custom" || filepath.Base(m.Path) != "Llama-3.1-8B-Instruct-Q4_K_M.gguf" {
		t.Fatalf("unexpected model %+v", m)
	}

	id, err := got.Identity()
	if err != nil || id.AgentUID == "" {
		t.Fatalf("identity: %+v %v", id, err)
	}
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("VRAM_SUPPLY_PORT", "0")
	called := false
	cleanup := withCLIStubs(t, func() {
		fnRunAgent = func(context.Context, agent.Options) error { called = true; return nil }
	})
	defer cleanup()

	code, _, errOut := runCLI("serve")
	if code != 1 {
		t.Fatalf("expected 1, got %d", code)
	}
	if called {
		t.Fatalf("agent must not run with invalid config")
	}
	if !strings.Contains(errOut, "port 0 out of range") {
		t.Fatalf("expected validation error, got %q", errOut)
	}
}

func TestAuthStatusAndLogout(t *testing.T) {
	home, _ := isolate(t)

	code, out, _ := runCLI("auth", "status")
	if code != 0 || !strings.Contains(out, "Not logged in") {
		t.Fatalf("status without credentials: %d %q", code, out)
	}

	t.Setenv("VRAM_SUPPLY_API_KEY", "vs_abcdefghijk")
	_, out, _ = runCLI("auth", "status")
	if !strings.Contains(out, "API key configured: vs_abcd...") {
		t.Fatalf("api key status: %q", out)
	}
	t.Setenv("VRAM_SUPPLY_API_KEY", "")

	path := filepath.Join(home, "credentials.json")
	if err := os.WriteFile(path, []byte(`{"access_token":"tok"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	code, out, _ = runCLI("auth", "logout")
	if code != 0 || !strings.Contains(out, "Logged out.") {
		t.Fatalf("logout: %d %q", code, out)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("credentials still present: %v", err)
	}
	_, out, _ = runCLI("auth", "logout")
	if !strings.Contains(out, "Not logged in.") {
		t.Fatalf("second logout: %q", out)
	}
}

func TestStatusReportsRunningAgent(t *testing.T) {
	isolate(t)
	model := "meta-llama/llama-3.1-8b-instruct"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(types.StatusResponse{
			Presence:      types.PresencePayload{Status: "ready", CurrentModel: &model, ActiveRequests: 2},
			InstanceID:    "prov_1",
			EndpointURL:   "http://localhost:8080",
			LlamaRunning:  true,
			UptimeSeconds: 90,
		})
	}))
	defer srv.Close()
	t.Setenv("VRAM_SUPPLY_STATUS_ADDR", srv.Listener.Addr().String())

	code, out, _ := runCLI("status")
	if code != 0 {
		t.Fatalf("status expected 0, got %d", code)
	}
	for _, want := range []string{"presence:    ready", model, "active:      2", "prov_1", "running=true", "1m30s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestStatusWithoutAgent(t *testing.T) {
	isolate(t)
	t.Setenv("VRAM_SUPPLY_STATUS_ADDR", "127.0.0.1:1")
	code, out, _ := runCLI("status")
	if code != 0 || !strings.Contains(out, "not running") {
		t.Fatalf("expected not running: %d %q", code, out)
	}

	t.Setenv("VRAM_SUPPLY_STATUS_ADDR", "")
	_, out, _ = runCLI("status")
	if !strings.Contains(out, "status server disabled") {
		t.Fatalf("expected disabled note: %q", out)
	}
}

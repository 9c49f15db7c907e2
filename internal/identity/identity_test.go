package identity

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"vramsply/internal/version"
)

func TestLoadOrCreatePersistsUID(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOSTNAME", "rig-01")

	first, err := LoadOrCreate(home)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if first.AgentUID == "" {
		t.Fatalf("empty agent uid")
	}
	second, err := LoadOrCreate(home)
	if err != nil {
		t.Fatalf("LoadOrCreate again: %v", err)
	}
	if second.AgentUID != first.AgentUID {
		t.Fatalf("uid changed between loads: %s != %s", first.AgentUID, second.AgentUID)
	}
	if first.DeviceName != "rig-01 ("+runtime.GOOS+")" {
		t.Fatalf("device name = %q", first.DeviceName)
	}
	if first.Platform != runtime.GOOS || first.Version != version.Version {
		t.Fatalf("unexpected identity: %+v", first)
	}
}

func TestLoadOrCreateReplacesCorruptFile(t *testing.T) {
	home := t.TempDir()
	p := filepath.Join(home, FileName)
	if err := os.WriteFile(p, []byte(`{"agent_uid":"not-a-uuid"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	id, err := LoadOrCreate(home)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if id.AgentUID == "not-a-uuid" {
		t.Fatalf("invalid uid was kept")
	}
	b, _ := os.ReadFile(p)
	if !strings.Contains(string(b), id.AgentUID) {
		t.Fatalf("new uid not persisted: %s", b)
	}
}

func TestArch(t *testing.T) {
	cases := map[string]string{"amd64": "x86_64", "arm64": "aarch64", "riscv64": "riscv64"}
	for in, want := range cases {
		if got := Arch(in); got != want {
			t.Fatalf("Arch(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHostnameFallbackOrder(t *testing.T) {
	t.Setenv("HOSTNAME", "")
	t.Setenv("COMPUTERNAME", "win-box")
	if got := Hostname(); got != "win-box" {
		t.Fatalf("Hostname = %q", got)
	}
}

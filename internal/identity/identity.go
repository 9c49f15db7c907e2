// Package identity loads or creates the agent's stable identity.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"vramsply/internal/common/fsutil"
	"vramsply/internal/version"
)

// FileName is the identity file inside the agent home directory.
const FileName = "vramsply.json"

// Identity describes this agent to the control plane. It is read once at
// startup and never changes for the life of the process.
type Identity struct {
	AgentUID   string
	DeviceName string
	Platform   string
	Arch       string
	Version    string
}

type identityFile struct {
	AgentUID string `json:"agent_uid"`
}

// LoadOrCreate reads <home>/vramsply.json, creating it with a fresh UUID
// when missing or unusable.
func LoadOrCreate(home string) (Identity, error) {
	path := filepath.Join(home, FileName)
	uid, err := readUID(path)
	if err != nil {
		return Identity{}, err
	}
	if uid == "" {
		uid = uuid.NewString()
		b, err := json.MarshalIndent(identityFile{AgentUID: uid}, "", "  ")
		if err != nil {
			return Identity{}, fmt.Errorf("encode identity: %w", err)
		}
		if err := fsutil.WritePrivateFile(path, b); err != nil {
			return Identity{}, fmt.Errorf("save identity: %w", err)
		}
	}
	platform := runtime.GOOS
	return Identity{
		AgentUID:   uid,
		DeviceName: fmt.Sprintf("%s (%s)", Hostname(), platform),
		Platform:   platform,
		Arch:       Arch(runtime.GOARCH),
		Version:    version.Version,
	}, nil
}

func readUID(path string) (string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read identity %s: %w", path, err)
	}
	var f identityFile
	if err := json.Unmarshal(b, &f); err != nil {
		// a corrupt file is replaced
		return "", nil
	}
	if _, err := uuid.Parse(f.AgentUID); err != nil {
		return "", nil
	}
	return f.AgentUID, nil
}

// Hostname prefers HOSTNAME/COMPUTERNAME, then the kernel hostname.
func Hostname() string {
	for _, k := range []string{"HOSTNAME", "COMPUTERNAME"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown-host"
}

// Arch maps Go architecture names to the names the platform expects.
func Arch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "x86"
	default:
		return goarch
	}
}

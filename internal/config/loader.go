package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the agent.
// Fields left empty in a file keep their Default() values.
type Config struct {
	PlatformURL     string `json:"platform_url" yaml:"platform_url" toml:"platform_url"`
	PublicURL       string `json:"public_url" yaml:"public_url" toml:"public_url"`
	ModelDir        string `json:"model_dir" yaml:"model_dir" toml:"model_dir"`
	LlamaServerPath string `json:"llama_server_path" yaml:"llama_server_path" toml:"llama_server_path"`
	GPULayers       int    `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	Port            int    `json:"port" yaml:"port" toml:"port"`
	MaxConcurrent   int    `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	ContextLength   int    `json:"context_length" yaml:"context_length" toml:"context_length"`
	InputPrice      int    `json:"input_price_per_million" yaml:"input_price_per_million" toml:"input_price_per_million"`
	OutputPrice     int    `json:"output_price_per_million" yaml:"output_price_per_million" toml:"output_price_per_million"`

	// HomeDir holds credentials, identity and the verification cache.
	HomeDir    string `json:"home_dir" yaml:"home_dir" toml:"home_dir"`
	StatusAddr string `json:"status_addr" yaml:"status_addr" toml:"status_addr"`
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`
	NATSURL    string `json:"nats_url" yaml:"nats_url" toml:"nats_url"`

	HFRepo     string `json:"hf_repo" yaml:"hf_repo" toml:"hf_repo"`
	HFBaseURL  string `json:"hf_base_url" yaml:"hf_base_url" toml:"hf_base_url"`
	SkipVerify bool   `json:"skip_verify" yaml:"skip_verify" toml:"skip_verify"`

	OAuth OAuthConfig `json:"oauth" yaml:"oauth" toml:"oauth"`
	CORS  CORSConfig  `json:"cors" yaml:"cors" toml:"cors"`

	// APIKey is never read from files; only VRAM_SUPPLY_API_KEY sets it.
	APIKey string `json:"-" yaml:"-" toml:"-"`
}

// OAuthConfig describes the platform's OAuth endpoints. Empty URLs are
// derived from PlatformURL by Normalize.
type OAuthConfig struct {
	ClientID      string `json:"client_id" yaml:"client_id" toml:"client_id"`
	AuthURL       string `json:"auth_url" yaml:"auth_url" toml:"auth_url"`
	TokenURL      string `json:"token_url" yaml:"token_url" toml:"token_url"`
	DeviceAuthURL string `json:"device_auth_url" yaml:"device_auth_url" toml:"device_auth_url"`
}

// CORSConfig controls the optional CORS middleware on the status server.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PlatformURL:     "https://api.vram.supply",
		ModelDir:        "~/.vram-supply/models",
		LlamaServerPath: "llama-server",
		GPULayers:       99,
		Port:            8080,
		MaxConcurrent:   1,
		ContextLength:   8192,
		InputPrice:      100,
		OutputPrice:     200,
		HomeDir:         "~/.vram-supply",
		StatusAddr:      "127.0.0.1:9464",
		LogLevel:        "info",
		HFBaseURL:       "https://huggingface.co",
		OAuth:           OAuthConfig{ClientID: "vramsply-cli"},
	}
}

// Load reads a configuration file based on its extension, on top of Default().
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

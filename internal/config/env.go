package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"vramsply/internal/common/fsutil"
)

const envPrefix = "VRAM_SUPPLY_"

// ApplyEnv overrides cfg from VRAM_SUPPLY_* variables. Unparseable numbers
// are logged and ignored so a typo never prevents startup.
func ApplyEnv(cfg *Config, log zerolog.Logger) {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *int) {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			log.Warn().Str("var", envPrefix+name).Str("value", v).Msg("ignoring invalid integer")
			return
		}
		*dst = n
	}

	str("PLATFORM_URL", &cfg.PlatformURL)
	str("PUBLIC_URL", &cfg.PublicURL)
	str("MODEL_DIR", &cfg.ModelDir)
	str("LLAMA_SERVER_PATH", &cfg.LlamaServerPath)
	num("GPU_LAYERS", &cfg.GPULayers)
	num("PORT", &cfg.Port)
	num("MAX_CONCURRENT", &cfg.MaxConcurrent)
	num("CONTEXT_LENGTH", &cfg.ContextLength)
	num("INPUT_PRICE", &cfg.InputPrice)
	num("OUTPUT_PRICE", &cfg.OutputPrice)
	str("HOME", &cfg.HomeDir)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("NATS_URL", &cfg.NATSURL)
	str("HF_REPO", &cfg.HFRepo)
	str("OAUTH_CLIENT_ID", &cfg.OAuth.ClientID)
	str("API_KEY", &cfg.APIKey)
	// An explicitly empty STATUS_ADDR disables the status server.
	if v, ok := os.LookupEnv(envPrefix + "STATUS_ADDR"); ok {
		cfg.StatusAddr = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(envPrefix + "SKIP_VERIFY"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			log.Warn().Str("var", envPrefix+"SKIP_VERIFY").Str("value", v).Msg("ignoring invalid boolean")
		} else {
			cfg.SkipVerify = b
		}
	}
}

// Normalize expands home-relative paths and fills derived fields.
func (c *Config) Normalize() error {
	var err error
	if c.ModelDir, err = fsutil.ExpandHome(c.ModelDir); err != nil {
		return err
	}
	if c.HomeDir, err = fsutil.ExpandHome(c.HomeDir); err != nil {
		return err
	}
	c.PlatformURL = strings.TrimRight(c.PlatformURL, "/")
	c.HFBaseURL = strings.TrimRight(c.HFBaseURL, "/")
	if c.PublicURL == "" && c.Port > 0 {
		c.PublicURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	if c.OAuth.AuthURL == "" && c.PlatformURL != "" {
		c.OAuth.AuthURL = c.PlatformURL + "/oauth/authorize"
	}
	if c.OAuth.TokenURL == "" && c.PlatformURL != "" {
		c.OAuth.TokenURL = c.PlatformURL + "/oauth/token"
	}
	if c.OAuth.DeviceAuthURL == "" && c.PlatformURL != "" {
		c.OAuth.DeviceAuthURL = c.PlatformURL + "/oauth/device/code"
	}
	return nil
}

// Validate rejects configurations the agent cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.PlatformURL) == "" {
		errs = append(errs, errors.New("platform_url is empty"))
	}
	if strings.TrimSpace(c.PublicURL) == "" {
		errs = append(errs, errors.New("public_url is empty"))
	}
	if strings.TrimSpace(c.ModelDir) == "" {
		errs = append(errs, errors.New("model_dir is empty"))
	}
	if strings.TrimSpace(c.LlamaServerPath) == "" {
		errs = append(errs, errors.New("llama_server_path is empty"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.GPULayers < 0 {
		errs = append(errs, fmt.Errorf("gpu_layers %d is negative", c.GPULayers))
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("max_concurrent must be positive"))
	}
	if c.ContextLength <= 0 {
		errs = append(errs, errors.New("context_length must be positive"))
	}
	if c.InputPrice <= 0 || c.OutputPrice <= 0 {
		errs = append(errs, errors.New("prices must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

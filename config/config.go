// Package config loads formpilot settings from a JSON or TOML file, an
// optional .env file and FORMPILOT_* environment variables, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/tbxark/formpilot/provider"
)

type ModelConfig struct {
	APIKey  string `json:"api_key" toml:"api_key"`
	BaseURL string `json:"base_url" toml:"base_url"`
	Model   string `json:"model" toml:"model"`
}

type ServerConfig struct {
	Addr string `json:"addr" toml:"addr"`
	// AllowedOrigins is sent back in CORS headers; empty disables CORS.
	AllowedOrigins []string `json:"allowed_origins" toml:"allowed_origins"`
}

type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `json:"driver" toml:"driver"`
	Path   string `json:"path" toml:"path"`
}

type AuthConfig struct {
	Secret        string `json:"secret" toml:"secret"`
	Issuer        string `json:"issuer" toml:"issuer"`
	TokenTTLHours int    `json:"token_ttl_hours" toml:"token_ttl_hours"`
}

func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLHours) * time.Hour
}

type AgentConfig struct {
	StepBudget    int `json:"step_budget" toml:"step_budget"`
	ModelAttempts int `json:"model_attempts" toml:"model_attempts"`
	KeepMessages  int `json:"keep_messages" toml:"keep_messages"`
	// Summary and Intent are "local" or "model".
	Summary string `json:"summary" toml:"summary"`
	Intent  string `json:"intent" toml:"intent"`
}

type ProviderConfig struct {
	Google     provider.GoogleConfig `json:"google" toml:"google"`
	MaxRetries int                   `json:"max_retries" toml:"max_retries"`
	// RateLimit is calls per second across all users; 0 means unlimited.
	RateLimit float64 `json:"rate_limit" toml:"rate_limit"`
	Burst     int     `json:"burst" toml:"burst"`
}

type LogConfig struct {
	Level  string `json:"level" toml:"level"`
	Format string `json:"format" toml:"format"`
}

type Config struct {
	Model    ModelConfig    `json:"model" toml:"model"`
	Server   ServerConfig   `json:"server" toml:"server"`
	Store    StoreConfig    `json:"store" toml:"store"`
	Auth     AuthConfig     `json:"auth" toml:"auth"`
	Agent    AgentConfig    `json:"agent" toml:"agent"`
	Provider ProviderConfig `json:"provider" toml:"provider"`
	Log      LogConfig      `json:"log" toml:"log"`
}

func Default() Config {
	return Config{
		Model:  ModelConfig{Model: "gpt-4o-mini"},
		Server: ServerConfig{Addr: ":8080"},
		Store:  StoreConfig{Driver: "sqlite", Path: "data/formpilot.db"},
		Auth:   AuthConfig{Issuer: "formpilot", TokenTTLHours: 24},
		Agent: AgentConfig{
			StepBudget:    30,
			ModelAttempts: 2,
			KeepMessages:  40,
			Summary:       "local",
			Intent:        "local",
		},
		Provider: ProviderConfig{MaxRetries: 3, RateLimit: 5, Burst: 5},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (skipped when empty), then envFiles, then the process
// environment. Missing env files are ignored.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", f, err)
		}
	}
	applyEnv(&cfg, os.LookupEnv)
	cfg.normalize()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".json", "":
		return sonic.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	if cfg.Model.APIKey == "" {
		str("OPENAI_API_KEY", &cfg.Model.APIKey)
	}
	str("FORMPILOT_API_KEY", &cfg.Model.APIKey)
	str("FORMPILOT_BASE_URL", &cfg.Model.BaseURL)
	str("FORMPILOT_MODEL", &cfg.Model.Model)
	str("FORMPILOT_ADDR", &cfg.Server.Addr)
	str("FORMPILOT_STORE", &cfg.Store.Driver)
	str("FORMPILOT_DB_PATH", &cfg.Store.Path)
	str("FORMPILOT_JWT_SECRET", &cfg.Auth.Secret)
	str("FORMPILOT_GOOGLE_CLIENT_ID", &cfg.Provider.Google.ClientID)
	str("FORMPILOT_GOOGLE_CLIENT_SECRET", &cfg.Provider.Google.ClientSecret)
	str("FORMPILOT_GOOGLE_REDIRECT_URL", &cfg.Provider.Google.RedirectURL)
	str("FORMPILOT_LOG_LEVEL", &cfg.Log.Level)
	str("FORMPILOT_LOG_FORMAT", &cfg.Log.Format)
	num("FORMPILOT_STEP_BUDGET", &cfg.Agent.StepBudget)
}

func (c *Config) normalize() {
	d := Default()
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Agent.StepBudget <= 0 {
		c.Agent.StepBudget = d.Agent.StepBudget
	}
	if c.Agent.ModelAttempts <= 0 {
		c.Agent.ModelAttempts = d.Agent.ModelAttempts
	}
	if c.Agent.KeepMessages <= 0 {
		c.Agent.KeepMessages = d.Agent.KeepMessages
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = d.Auth.TokenTTLHours
	}
}

// ValidateServe checks what the HTTP server needs on top of the model.
func (c Config) ValidateServe() error {
	if err := c.ValidateModel(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("auth.secret is required")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

func (c Config) ValidateModel() error {
	if strings.TrimSpace(c.Model.APIKey) == "" {
		return errors.New("model.api_key is required")
	}
	if strings.TrimSpace(c.Model.Model) == "" {
		return errors.New("model.model is required")
	}
	return nil
}

// Handler builds the slog handler described by the log section.
func (l LogConfig) Handler(w io.Writer) slog.Handler {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

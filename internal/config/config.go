package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment variables understood in addition to the viper config file.
const (
	EnvAPIKeys  = "MCP_API_KEYS"
	EnvAdminKey = "ADMIN_KEY"
	EnvRAGURL   = "RAG_URL"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Security  SecurityConfig  `mapstructure:"security"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type SecurityConfig struct {
	// APIKeys is the allow-list of caller identities.
	APIKeys []string `mapstructure:"api_keys"`
	// AdminKey guards the usage report. Empty disables it.
	AdminKey       string   `mapstructure:"admin_key"`
	EnableCORS     bool     `mapstructure:"enable_cors"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
	OAuth   OAuthConfig   `mapstructure:"oauth"`
}

// OAuthConfig enables client-credentials auth towards the QA service when
// TokenURL is set.
type OAuthConfig struct {
	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

// Enabled reports whether upstream requests should carry an OAuth2 token.
func (o OAuthConfig) Enabled() bool {
	return o.TokenURL != ""
}

// ThrottleConfig is the per-client-IP token bucket applied before any
// credential is looked at.
type ThrottleConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Rate            float64       `mapstructure:"rate"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Output        string `mapstructure:"output"`
	ConsoleOutput bool   `mapstructure:"console_output"`
	MaxSize       int    `mapstructure:"max_size"`
	MaxBackups    int    `mapstructure:"max_backups"`
	MaxAge        int    `mapstructure:"max_age"`
	Compress      bool   `mapstructure:"compress"`
}

// BindEnv maps the well known environment variables onto config keys.
func BindEnv(v *viper.Viper) {
	v.BindEnv("security.api_keys", EnvAPIKeys)
	v.BindEnv("security.admin_key", EnvAdminKey)
	v.BindEnv("upstream.base_url", EnvRAGURL)
}

// Load loads the configuration from the global viper instance
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom loads the configuration from file and environment via v
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Security.APIKeys = SplitKeys(cfg.Security.APIKeys)
	cfg.Security.AdminKey = strings.TrimSpace(cfg.Security.AdminKey)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// SplitKeys flattens comma separated entries, trims them and drops empties
// and duplicates. An unset MCP_API_KEYS therefore yields no valid key at all.
func SplitKeys(values []string) []string {
	seen := make(map[string]struct{})
	keys := []string{}
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			key := strings.TrimSpace(part)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7860
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	// must outlast a full upstream round trip
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 90 * time.Second
	}

	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 5
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = 60 * time.Second
	}

	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = "http://localhost:8000"
	}
	if cfg.Upstream.Path == "" {
		cfg.Upstream.Path = "/rag"
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 60 * time.Second
	}

	if cfg.Throttle.Rate == 0 {
		cfg.Throttle.Rate = 10
	}
	if cfg.Throttle.Burst == 0 {
		cfg.Throttle.Burst = 20
	}
	if cfg.Throttle.CleanupInterval == 0 {
		cfg.Throttle.CleanupInterval = time.Minute
	}
	if cfg.Throttle.MaxAge == 0 {
		cfg.Throttle.MaxAge = 5 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "logs/raggateway.log"
	}
	// Console output enabled by default
	cfg.Logging.ConsoleOutput = true
	if cfg.Logging.MaxSize == 0 {
		cfg.Logging.MaxSize = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 10
	}
	if cfg.Logging.MaxAge == 0 {
		cfg.Logging.MaxAge = 30
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.RateLimit.Requests < 0 {
		return fmt.Errorf("invalid rate_limit.requests: %d", cfg.RateLimit.Requests)
	}
	if cfg.RateLimit.Window < 0 {
		return fmt.Errorf("invalid rate_limit.window: %s", cfg.RateLimit.Window)
	}
	if cfg.Upstream.Timeout < 0 {
		return fmt.Errorf("invalid upstream.timeout: %s", cfg.Upstream.Timeout)
	}
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream.base_url: %q", cfg.Upstream.BaseURL)
	}
	if cfg.Throttle.Enabled && (cfg.Throttle.Rate < 0 || cfg.Throttle.Burst < 0) {
		return fmt.Errorf("invalid throttle: rate=%v burst=%d", cfg.Throttle.Rate, cfg.Throttle.Burst)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/FeelPulse/claudechat/internal/models"
)

// AppName names the xdg subdirectories and the default component
const AppName = "claudechat"

// Transport modes
const (
	ModeDirect = "direct"
	ModeProxy  = "proxy"
)

// Storage backends
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Environment variables read after .env is loaded
const (
	EnvServerAPIKey = "ANTHROPIC_API_KEY"
	EnvClientAPIKey = "CLAUDECHAT_API_KEY"
)

type Config struct {
	Mode    string        `yaml:"mode" koanf:"mode"`
	Model   string        `yaml:"model" koanf:"model"`
	Client  ClientConfig  `yaml:"client" koanf:"client"`
	Storage StorageConfig `yaml:"storage" koanf:"storage"`
	Server  ServerConfig  `yaml:"server" koanf:"server"`
	Log     LogConfig     `yaml:"log" koanf:"log"`
}

// ClientConfig configures the transport used by the chat client
type ClientConfig struct {
	APIURL         string `yaml:"apiURL" koanf:"apiURL"`     // Anthropic Messages endpoint (direct mode)
	ProxyURL       string `yaml:"proxyURL" koanf:"proxyURL"` // Backend base URL (proxy mode)
	APIKey         string `yaml:"apiKey,omitempty" koanf:"apiKey"`
	MaxTokens      int    `yaml:"maxTokens" koanf:"maxTokens"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" koanf:"timeoutSeconds"`
}

// Timeout returns the per-request deadline
func (c ClientConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type StorageConfig struct {
	Backend     string `yaml:"backend" koanf:"backend"` // sqlite, redis, memory
	Path        string `yaml:"path" koanf:"path"`
	RedisURL    string `yaml:"redisURL" koanf:"redisURL"`
	RedisPrefix string `yaml:"redisPrefix" koanf:"redisPrefix"`
}

// ServerConfig configures the proxy backend started by `claudechat serve`
type ServerConfig struct {
	Bind        string   `yaml:"bind" koanf:"bind"`
	Port        int      `yaml:"port" koanf:"port"`
	APIKey      string   `yaml:"apiKey,omitempty" koanf:"apiKey"`
	CORSOrigins []string `yaml:"corsOrigins" koanf:"corsOrigins"`
	RateLimit   int      `yaml:"rateLimit" koanf:"rateLimit"` // Max requests per minute per client (0 = disabled)
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a reverse proxy that sets those headers.
	TrustProxy bool `yaml:"trustProxy" koanf:"trustProxy"`
}

// Addr returns bind:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Bind, s.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level" koanf:"level"` // debug, info, warn, error (default: info)
	File  string `yaml:"file,omitempty" koanf:"file"`
}

func Default() *Config {
	return &Config{
		Mode:  ModeDirect,
		Model: models.DefaultID,
		Client: ClientConfig{
			APIURL:         "https://api.anthropic.com/v1/messages",
			ProxyURL:       "http://localhost:8000",
			MaxTokens:      4096,
			TimeoutSeconds: 120,
		},
		Storage: StorageConfig{
			Backend:     BackendSQLite,
			Path:        DefaultDBPath(),
			RedisPrefix: AppName + ":",
		},
		Server: ServerConfig{
			Bind:        "localhost",
			Port:        8000,
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/claudechat/config.yaml
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// DefaultDBPath returns the default SQLite database path
func DefaultDBPath() string {
	return filepath.Join(xdg.DataHome, AppName, AppName+".db")
}

// DefaultLogPath returns the file the TUI logs to
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, AppName, AppName+".log")
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error. Values from .env and the environment are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		if err := k.Unmarshal("", cfg); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()
	cfg.ApplyEnv()

	return cfg, nil
}

// ApplyEnv fills unset credentials from the environment
func (c *Config) ApplyEnv() {
	if c.Server.APIKey == "" {
		c.Server.APIKey = os.Getenv(EnvServerAPIKey)
	}
	if c.Client.APIKey == "" {
		c.Client.APIKey = os.Getenv(EnvClientAPIKey)
	}
}

// ValidationResult holds the result of config validation
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

// Validate checks the configuration for required fields and common issues
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	switch c.Mode {
	case ModeDirect:
		if c.Client.APIURL == "" {
			result.Errors = append(result.Errors, "Direct mode requires client.apiURL")
		}
	case ModeProxy:
		if c.Client.ProxyURL == "" {
			result.Errors = append(result.Errors, "Proxy mode requires client.proxyURL")
		}
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("Unknown mode '%s', supported: direct, proxy", c.Mode))
	}

	if c.Model == "" {
		result.Warnings = append(result.Warnings, fmt.Sprintf("No model specified, using default (%s)", models.DefaultID))
	} else if !models.Valid(c.Model) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Unknown model '%s', falling back to %s", c.Model, models.DefaultID))
	}

	if c.Client.MaxTokens <= 0 {
		result.Errors = append(result.Errors, "client.maxTokens must be positive")
	}
	if c.Client.TimeoutSeconds <= 0 {
		result.Warnings = append(result.Warnings, "client.timeoutSeconds not set, using 120")
	}

	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.Path == "" {
			result.Errors = append(result.Errors, "SQLite storage requires storage.path")
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			result.Errors = append(result.Errors, "Redis storage requires storage.redisURL")
		}
	case BackendMemory:
		result.Warnings = append(result.Warnings, "Memory storage selected - conversations are lost on exit")
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("Unknown storage backend '%s', supported: sqlite, redis, memory", c.Storage.Backend))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		result.Errors = append(result.Errors, fmt.Sprintf("Invalid server.port %d", c.Server.Port))
	}
	if c.Server.RateLimit > 100 {
		result.Warnings = append(result.Warnings, "Rate limit > 100 req/min - consider lower limit for safety")
	}

	return result
}

// Save writes cfg to path (DefaultPath when empty) and returns the path written
func Save(cfg *Config, path string) (string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}

	return path, nil
}

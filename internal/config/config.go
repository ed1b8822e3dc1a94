package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dailyrise/internal/logging"
)

// FileName is the config file looked up in the workspace.
const FileName = "dailyrise.yml"

// Config models dailyrise.yml.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Auth     AuthConfig      `yaml:"auth"`
	Alarm    AlarmConfig     `yaml:"alarm"`
	Points   PointsConfig    `yaml:"points"`
	Log      LogConfig       `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int `yaml:"rate_limit"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// TokenTTL is the lifetime of tokens minted by the CLI.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// AlarmConfig holds the client-side alarm timings.
type AlarmConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	CheckInterval time.Duration `yaml:"check_interval"`
	GraceWindow   time.Duration `yaml:"grace_window"`
	Countdown     time.Duration `yaml:"countdown"`
	BeepInterval  time.Duration `yaml:"beep_interval"`
	// SkipCooldown is how long a skipped challenge stays ignored. Zero
	// means it is never offered again in this session.
	SkipCooldown time.Duration `yaml:"skip_cooldown"`
}

type PointsConfig struct {
	ChallengeWin int `yaml:"challenge_win"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// IsEnabled treats a missing enabled flag as true.
func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      "127.0.0.1:8080",
			BasePath:  "/v1",
			RateLimit: 300,
		},
		Auth: AuthConfig{
			TokenTTL: 30 * 24 * time.Hour,
		},
		Alarm: AlarmConfig{
			PollInterval:  3 * time.Second,
			CheckInterval: time.Second,
			GraceWindow:   15 * time.Second,
			Countdown:     60 * time.Second,
			BeepInterval:  time.Second,
		},
		Points: PointsConfig{ChallengeWin: 10},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config.server.rate_limit must be >= 0")
	}
	a := c.Alarm
	for name, d := range map[string]time.Duration{
		"poll_interval":  a.PollInterval,
		"check_interval": a.CheckInterval,
		"grace_window":   a.GraceWindow,
		"countdown":      a.Countdown,
		"beep_interval":  a.BeepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("config.alarm.%s must be positive", name)
		}
	}
	if a.SkipCooldown < 0 {
		return fmt.Errorf("config.alarm.skip_cooldown must be >= 0")
	}
	if c.Points.ChallengeWin <= 0 {
		return fmt.Errorf("config.points.challenge_win must be positive")
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("config.log.level %q is not a known level", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads config from workspace, falling back to Default when the file
// does not exist.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns a commented starter config.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1
  rate_limit: 300 # requests per minute per IP, 0 disables

auth:
  jwt_secret: ""
  token_ttl: 720h

alarm:
  poll_interval: 3s
  check_interval: 1s
  grace_window: 15s
  countdown: 60s
  beep_interval: 1s
  skip_cooldown: 0s # 0: a skipped challenge is not offered again

points:
  challenge_win: 10

log:
  level: info
  format: console

webhooks: []
#  - url: https://example.com/hooks/dailyrise
#    events: [challenge.completed, points.awarded]
#    secret: change-me
`

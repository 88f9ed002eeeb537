// Copyright 2024-2026 Aiku AI

package adapter

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	DefaultCacheTTL       = 5 * time.Minute
	DefaultLookupTimeout  = 10 * time.Second
	DefaultDedupRetention = time.Hour
)

// Config holds the adapter configuration.
type Config struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
	// Alias is an extra prefix the bot answers to. It also replaces a leading
	// mention of the bot and is prepended to direct messages.
	Alias string `yaml:"alias"`

	DisableUserSync  bool   `yaml:"disable_user_sync"`
	UserSyncSchedule string `yaml:"user_sync_schedule"`

	CacheTTL       time.Duration `yaml:"cache_ttl"`
	LookupTimeout  time.Duration `yaml:"lookup_timeout"`
	DedupRetention time.Duration `yaml:"dedup_retention"`
	// AutoReconnect defaults to true when unset.
	AutoReconnect *bool `yaml:"auto_reconnect"`

	// SendRate is in messages per second. Zero or less disables limiting.
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`

	AdminAPIAddr string `yaml:"admin_api_addr"`
	RedisURL     string `yaml:"redis_url"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	logLevel zerolog.Level `yaml:"-"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills defaults, reads tokens from the environment when they are
// not configured and validates the values that can be checked offline.
func (c *Config) PostProcess() error {
	if c.BotToken == "" {
		c.BotToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	if c.AppToken == "" {
		c.AppToken = os.Getenv("SLACK_APP_TOKEN")
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}
	if c.DedupRetention <= 0 {
		c.DedupRetention = DefaultDedupRetention
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 1
	}
	if c.UserSyncSchedule != "" && !gronx.IsValid(c.UserSyncSchedule) {
		return fmt.Errorf("invalid user_sync_schedule %q", c.UserSyncSchedule)
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	c.logLevel = zerolog.InfoLevel
	if c.LogLevel != "" {
		lvl, err := zerolog.ParseLevel(c.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
		}
		c.logLevel = lvl
	}
	return nil
}

// ReconnectEnabled reports whether the socket should reconnect after an
// unexpected close.
func (c *Config) ReconnectEnabled() bool {
	return c.AutoReconnect == nil || *c.AutoReconnect
}

// SendLimit is the outbound message rate as a limiter value.
func (c *Config) SendLimit() rate.Limit {
	if c.SendRate <= 0 {
		return rate.Inf
	}
	return rate.Limit(c.SendRate)
}

// Level is the parsed log_level. It is only meaningful after PostProcess.
func (c *Config) Level() zerolog.Level {
	return c.logLevel
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "bot_token")
	helper.Copy(up.Str, "app_token")
	helper.Copy(up.Str, "alias")
	helper.Copy(up.Bool, "disable_user_sync")
	helper.Copy(up.Str, "user_sync_schedule")
	helper.Copy(up.Str|up.Int, "cache_ttl")
	helper.Copy(up.Str|up.Int, "lookup_timeout")
	helper.Copy(up.Str|up.Int, "dedup_retention")
	helper.Copy(up.Bool, "auto_reconnect")
	helper.Copy(up.Int|up.Float, "send_rate")
	helper.Copy(up.Int, "send_burst")
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Str, "redis_url")
	helper.Copy(up.Str, "log_level")
	helper.Copy(up.Str, "log_format")
}

// Upgrader merges a user config onto the embedded example so new keys get
// their defaults and comments.
func Upgrader() *up.StructUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"disable_user_sync"},
			{"cache_ttl"},
			{"auto_reconnect"},
			{"send_rate"},
			{"admin_api_addr"},
			{"redis_url"},
			{"log_level"},
		},
		Base: ExampleConfig,
	}
}

// LoadConfig upgrades the config file at path in place and parses it. A
// missing file is created from the example config first.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(ExampleConfig), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write example config: %w", err)
		}
	}
	data, _, err := up.Do(path, true, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and post-processes YAML config data.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("failed to post-process config: %w", err)
	}
	return &cfg, nil
}

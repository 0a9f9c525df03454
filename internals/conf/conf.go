package conf

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pixelsort/taskwatch/internals/env"

	z "github.com/Oudwins/zog"
)

const ConfigFileName = "taskwatch.json"

type Config struct {
	Version   string          `json:"-"`
	Server    ServerConfig    `json:"server" zog:"server"`
	Polling   PollingConfig   `json:"polling" zog:"polling"`
	WebSocket WebSocketConfig `json:"websocket" zog:"websocket"`
	Dashboard DashboardConfig `json:"dashboard" zog:"dashboard"`
	Notices   NoticesConfig   `json:"notices" zog:"notices"`
}

type ServerConfig struct {
	BaseURL       string `json:"base_url" zog:"base_url"`
	SessionCookie string `json:"session_cookie" zog:"session_cookie"`
	DataDir       string `json:"data_dir" zog:"data_dir"`
}

type PollingConfig struct {
	Interval string `json:"interval" zog:"interval"`
}

type WebSocketConfig struct {
	Enabled       bool   `json:"enabled" zog:"enabled"`
	Path          string `json:"path" zog:"path"`
	Heartbeat     string `json:"heartbeat" zog:"heartbeat"`
	ReconnectBase string `json:"reconnect_base" zog:"reconnect_base"`
	ReconnectMax  string `json:"reconnect_max" zog:"reconnect_max"`
	MaxAttempts   int    `json:"max_attempts" zog:"max_attempts"`
}

type DashboardConfig struct {
	PageSize int `json:"page_size" zog:"page_size"`
}

type NoticesConfig struct {
	Cooldown string `json:"cooldown" zog:"cooldown"`
}

var serverSchema = z.Struct(z.Shape{
	"BaseURL":       z.String().Default("http://localhost:8000/api").Trim().Transform(trimSlashTransform),
	"SessionCookie": z.String().Default("sessionid").Trim(),
	"DataDir":       z.String().Default("~/.taskwatch").Transform(expandPathTransform),
})

var pollingSchema = z.Struct(z.Shape{
	"Interval": durationSchema("3s"),
})

var webSocketSchema = z.Struct(z.Shape{
	"Enabled":       z.Bool().Default(true),
	"Path":          z.String().Default("/ws/analysis/").Trim(),
	"Heartbeat":     durationSchema("30s"),
	"ReconnectBase": durationSchema("5s"),
	"ReconnectMax":  durationSchema("60s"),
	"MaxAttempts":   z.Int().Default(0).GTE(0),
})

var dashboardSchema = z.Struct(z.Shape{
	"PageSize": z.Int().Default(20).GT(0),
})

var noticesSchema = z.Struct(z.Shape{
	"Cooldown": durationSchema("5s"),
})

var ConfigSchema = z.Struct(z.Shape{
	"Server":    serverSchema,
	"Polling":   pollingSchema,
	"WebSocket": webSocketSchema,
	"Dashboard": dashboardSchema,
	"Notices":   noticesSchema,
})

var config *Config

// GetConfig loads the config once per process. Environment overrides win over
// the config file.
func GetConfig() *Config {
	if config == nil {
		envs := env.Get()
		loaded, err := Load(envs.DATA_DIR)
		if err != nil {
			log.Fatal("[Taskwatch] Failed to load config ", err)
		}
		if envs.BASE_URL != "" {
			loaded.Server.BaseURL = envs.BASE_URL
		}
		config = loaded
	}
	return config
}

// Load reads taskwatch.json from dataDir (or the default data dir when empty).
// A missing or blank file yields the defaults.
func Load(dataDir string) (*Config, error) {
	defaults := &Config{}
	if issues := ConfigSchema.Parse(map[string]any{}, defaults); issues != nil {
		return nil, fmt.Errorf("parse default config:\n%s", z.Issues.Prettify(issues))
	}
	defaults.Version = "0.1.0"
	if dataDir != "" {
		expanded, err := expandPath(dataDir)
		if err != nil {
			return nil, err
		}
		defaults.Server.DataDir = expanded
	}

	configPath := filepath.Join(filepath.Clean(defaults.Server.DataDir), ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return defaults, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	parsed := &Config{}
	if issues := ConfigSchema.Parse(payload, parsed); issues != nil {
		return nil, fmt.Errorf("invalid config file %s:\n%s", configPath, z.Issues.Prettify(issues))
	}
	parsed.Version = defaults.Version
	if dataDir != "" {
		parsed.Server.DataDir = defaults.Server.DataDir
	}
	return parsed, nil
}

func (c *Config) PollInterval() time.Duration {
	return mustDuration(c.Polling.Interval)
}

func (c *Config) Heartbeat() time.Duration {
	return mustDuration(c.WebSocket.Heartbeat)
}

func (c *Config) ReconnectBase() time.Duration {
	return mustDuration(c.WebSocket.ReconnectBase)
}

func (c *Config) ReconnectMax() time.Duration {
	return mustDuration(c.WebSocket.ReconnectMax)
}

func (c *Config) NoticeCooldown() time.Duration {
	return mustDuration(c.Notices.Cooldown)
}

func (c *Config) SnapshotPath() string {
	return filepath.Join(c.Server.DataDir, "snapshot.db")
}

func (c *Config) LogPath() string {
	return filepath.Join(c.Server.DataDir, "log.txt")
}

func durationSchema(def string) *z.StringSchema[string] {
	return z.String().Default(def).Trim().TestFunc(isPositiveDuration, z.Message("must be a positive duration such as 3s or 1m"))
}

func isPositiveDuration(valPtr *string, ctx z.Ctx) bool {
	d, err := time.ParseDuration(*valPtr)
	return err == nil && d > 0
}

// durations are validated by the schema, so a parse failure here means the
// struct was built by hand.
func mustDuration(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

func trimSlashTransform(ptr *string, c z.Ctx) error {
	*ptr = strings.TrimRight(*ptr, "/")
	return nil
}

func expandPathTransform(ptr *string, c z.Ctx) error {
	expanded, err := expandPath(*ptr)
	*ptr = expanded
	return err
}

func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

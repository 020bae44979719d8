package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Request RequestConfig `yaml:"request"`
	Log     LogConfig     `yaml:"log"`
	DB      DBConfig      `yaml:"db"`
	Server  ServerConfig  `yaml:"server"`
	Tiles   TilesConfig   `yaml:"tiles"`
	Sync    SyncConfig    `yaml:"sync"`
	Network NetworkConfig `yaml:"network"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// TilesConfig holds tile cache and download settings.
type TilesConfig struct {
	// URLTemplate must contain {s}, {z}, {x} and {y} placeholders.
	URLTemplate string   `yaml:"url_template"`
	Servers     []string `yaml:"servers"`
	MinZoom     int      `yaml:"min_zoom"`
	MaxZoom     int      `yaml:"max_zoom"`
	BatchSize   int      `yaml:"batch_size"`
	BatchDelay  Duration `yaml:"batch_delay"`
	PruneAge    Duration `yaml:"prune_age"` // 0 disables age-based pruning
}

// SyncConfig holds settings for the incident submission endpoint.
type SyncConfig struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

// NetworkConfig holds connectivity monitor settings.
type NetworkConfig struct {
	ProbeURL     string   `yaml:"probe_url"`
	PollInterval Duration `yaml:"poll_interval"`
	Debounce     Duration `yaml:"debounce"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(30 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/sagip.db",
		},
		Server: ServerConfig{
			Address: "localhost:2390",
		},
		Tiles: TilesConfig{
			URLTemplate: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			Servers:     []string{"a", "b", "c"},
			MinZoom:     12,
			MaxZoom:     16,
			BatchSize:   10,
			BatchDelay:  Duration(100 * time.Millisecond),
			PruneAge:    0,
		},
		Sync: SyncConfig{
			Endpoint: "http://localhost:5000/api/incidents",
		},
		Network: NetworkConfig{
			ProbeURL:     "https://www.gstatic.com/generate_204",
			PollInterval: Duration(10 * time.Second),
			Debounce:     Duration(3 * time.Second),
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back
// to disk (to preserve user formatting and comments).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		// Load from Env if empty (fallback only, never saved back to disk)
		if cfg.Sync.Token == "" {
			if token := os.Getenv("SAGIP_API_TOKEN"); token != "" {
				cfg.Sync.Token = token
			}
		}

		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	// If file does not exist, save defaults
	if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Tiles.BatchSize <= 0 {
		return fmt.Errorf("tiles.batch_size must be positive, got %d", c.Tiles.BatchSize)
	}
	if c.Tiles.MinZoom < 0 || c.Tiles.MaxZoom > 22 || c.Tiles.MinZoom > c.Tiles.MaxZoom {
		return fmt.Errorf("invalid zoom clamp [%d,%d]", c.Tiles.MinZoom, c.Tiles.MaxZoom)
	}
	if len(c.Tiles.Servers) == 0 {
		return fmt.Errorf("tiles.servers must list at least one server")
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# SagipGo Configuration
# --------------------
# Supported Units:
#   Duration: ns, us, ms, s, m, h, d (day), w (week)

`)
	data = append(header, data...)

	// Inject comments for fields whose values are easy to get wrong.
	reTemplate := regexp.MustCompile(`(?m)^(\s+)url_template:`)
	data = reTemplate.ReplaceAll(data, []byte("${1}# Placeholders: {s} server, {z} zoom, {x}/{y} tile coordinates\n${1}url_template:"))

	rePrune := regexp.MustCompile(`(?m)^(\s+)prune_age:`)
	data = rePrune.ReplaceAll(data, []byte("${1}# 0s disables age-based tile pruning\n${1}prune_age:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, do nothing
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
// It captures the instance to read from, feed selection, window sizes and
// the backend transport policy.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Feed     FeedConfig     `yaml:"feed"`
	Timeline TimelineConfig `yaml:"timeline"`
	Thread   ThreadConfig   `yaml:"thread"`
	Emoji    EmojiConfig    `yaml:"emoji"`
	Backend  BackendConfig  `yaml:"backend"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
}

type InstanceConfig struct {
	// Instance host, e.g. "misskey.io". If empty, read from env MISSKEY_HOST
	Host string `yaml:"host" validate:"required"`
	// Access token. If empty, read from env MISSKEY_TOKEN
	Token string `yaml:"token"`
}

type FeedConfig struct {
	// Antenna whose notes make up the feed. If empty, read from env ANTENNA_ID
	AntennaID string `yaml:"antennaId"`
	Limit     int    `yaml:"limit" validate:"gte=1,lte=100"`
	// Refresh interval for the watch loop, in seconds
	RefreshSeconds int `yaml:"refreshSeconds" validate:"gte=1"`
}

type TimelineConfig struct {
	// Notes fetched on each side of the anchor
	Window int `yaml:"window" validate:"gte=1,lte=100"`
}

type ThreadConfig struct {
	// Merge notes/children into the conversation listing
	IncludeChildren bool `yaml:"includeChildren"`
	ChildrenLimit   int  `yaml:"childrenLimit" validate:"gte=1,lte=100"`
	FeedConcurrency int  `yaml:"feedConcurrency" validate:"gte=1,lte=32"`
}

type EmojiConfig struct {
	// Max entries kept per host
	Capacity int `yaml:"capacity" validate:"gte=1"`
	// Max instance catalogs held at once
	MaxHosts int `yaml:"maxHosts" validate:"gte=1"`
}

type BackendConfig struct {
	TimeoutSeconds int     `yaml:"timeoutSeconds" validate:"gte=1"`
	RPS            float64 `yaml:"rps" validate:"gt=0"`
	Burst          int     `yaml:"burst" validate:"gte=1"`
	// 1 disables retries
	MaxAttempts   int `yaml:"maxAttempts" validate:"gte=1,lte=10"`
	BaseBackoffMS int `yaml:"baseBackoffMs" validate:"gte=0"`
}

type LoggingConfig struct {
	// debug, info, warn or error. If empty, read from env THREADLENS_LOG_LEVEL
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// If empty, read from env METRICS_ADDR; metrics are also served on Addr
	MetricsAddr string `yaml:"metricsAddr"`
	// s-maxage for context timeline responses, in seconds
	CacheMaxAge int `yaml:"cacheMaxAge" validate:"gte=0"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Feed:     FeedConfig{Limit: 30, RefreshSeconds: 30},
		Timeline: TimelineConfig{Window: 10},
		Thread:   ThreadConfig{IncludeChildren: true, ChildrenLimit: 100, FeedConcurrency: 5},
		Emoji:    EmojiConfig{Capacity: 2000, MaxHosts: 16},
		Backend:  BackendConfig{TimeoutSeconds: 15, RPS: 2, Burst: 10, MaxAttempts: 1, BaseBackoffMS: 500},
		Logging:  LoggingConfig{Level: "info"},
		Server:   ServerConfig{Addr: ":8080", CacheMaxAge: 60},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Instance.Host == "" {
		c.Instance.Host = os.Getenv("MISSKEY_HOST")
	}
	if c.Instance.Token == "" {
		c.Instance.Token = os.Getenv("MISSKEY_TOKEN")
	}
	if c.Feed.AntennaID == "" {
		c.Feed.AntennaID = os.Getenv("ANTENNA_ID")
	}
	if v := os.Getenv("THREADLENS_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = os.Getenv("METRICS_ADDR")
	}
	if v := os.Getenv("THREADLENS_FEED_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Feed.Limit = n
		}
	}
}

// Validate reports the first set of invalid fields.
func (c Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Namespace()+":"+fe.Tag())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(parts, ", "))
}

// Load reads YAML config from path on top of the defaults.
// A missing file yields the defaults with the environment applied.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	if err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds process configuration, loaded from the environment
type Config struct {
	ListenAddr         string `env:"OFFLINEBOARD_ADDR" envDefault:":8080"`
	Origin             string `env:"OFFLINEBOARD_ORIGIN" envDefault:"http://localhost:8000"`
	Release            string `env:"OFFLINEBOARD_RELEASE" envDefault:"v1.0.0"`
	CachePath          string `env:"OFFLINEBOARD_CACHE_PATH" envDefault:"cache.sqlite3"`
	ManifestPath       string `env:"OFFLINEBOARD_MANIFEST"`
	HotCacheSize       int    `env:"OFFLINEBOARD_HOT_CACHE_SIZE" envDefault:"256"`
	InstallConcurrency int    `env:"OFFLINEBOARD_INSTALL_CONCURRENCY" envDefault:"4"`
	ProxyURL           string `env:"OFFLINEBOARD_UPSTREAM_PROXY"`
	LogLevel           string `env:"OFFLINEBOARD_LOG_LEVEL" envDefault:"info"`
	LogFile            string `env:"OFFLINEBOARD_LOG_FILE"`
	LogJSON            bool   `env:"OFFLINEBOARD_LOG_JSON"`
	TelegramBotToken   string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID     string `env:"TELEGRAM_CHAT_ID"`
}

// Load parses the environment into a Config and validates it
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields that cannot be defaulted sensibly
func (c Config) Validate() error {
	if _, err := c.OriginURL(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Release) == "" {
		return fmt.Errorf("release identifier is required")
	}
	if c.InstallConcurrency < 1 {
		return fmt.Errorf("install concurrency must be positive, got %d", c.InstallConcurrency)
	}
	return nil
}

// OriginURL returns the hosting origin as a URL (scheme and host only)
func (c Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(c.Origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse origin %q: %w", c.Origin, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", c.Origin)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// Generations names the two logical cache stores for one release
type Generations struct {
	Static string
	Data   string
}

// GenerationsFor derives generation names from a release identifier
func GenerationsFor(release string) Generations {
	return Generations{
		Static: "static-" + release,
		Data:   "data-" + release,
	}
}

// Current reports whether name is one of the active generations
func (g Generations) Current(name string) bool {
	return name == g.Static || name == g.Data
}

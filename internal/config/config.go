// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Overpass   OverpassConfig   `koanf:"overpass"`
	Cache      CacheConfig      `koanf:"cache"`
	Postgres   PostgresConfig   `koanf:"postgres"`
	Discovery  DiscoveryConfig  `koanf:"discovery"`
	Model      ModelConfig      `koanf:"model"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Routing    RoutingConfig    `koanf:"routing"`
	Training   TrainingConfig   `koanf:"training"`
	Logging    LoggingConfig    `koanf:"logging"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type OverpassConfig struct {
	// Endpoints are equivalent interpreters tried in order.
	Endpoints         []string      `koanf:"endpoints"`
	MaxAttempts       int           `koanf:"max_attempts"`
	MinDelay          time.Duration `koanf:"min_delay"`
	Factor            float64       `koanf:"factor"`
	ListTimeout       time.Duration `koanf:"list_timeout"`
	DetailTimeout     time.Duration `koanf:"detail_timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	BreakerThreshold  int           `koanf:"breaker_threshold"`
	BreakerCooldown   time.Duration `koanf:"breaker_cooldown"`
}

type CacheConfig struct {
	// Driver is badger or postgres.
	Driver     string        `koanf:"driver"`
	Path       string        `koanf:"path"`
	InMemory   bool          `koanf:"in_memory"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

type PostgresConfig struct {
	URL string `koanf:"url"`
}

type DiscoveryConfig struct {
	ShowPlacesZoom int `koanf:"show_places_zoom"`
}

type ModelConfig struct {
	Path              string `koanf:"path"`
	ConfigPath        string `koanf:"config_path"`
	SharedLibraryPath string `koanf:"shared_library_path"`
	TopContributors   int    `koanf:"top_contributors"`
}

type ClassifierConfig struct {
	Endpoint    string        `koanf:"endpoint"`
	Model       string        `koanf:"model"`
	Task        string        `koanf:"task"`
	APIToken    string        `koanf:"api_token"`
	Timeout     time.Duration `koanf:"timeout"`
	Concurrency int           `koanf:"concurrency"`
	MemoTTL     time.Duration `koanf:"memo_ttl"`
	MemoSize    int           `koanf:"memo_size"`
}

type RoutingConfig struct {
	Endpoint string        `koanf:"endpoint"`
	APIKey   string        `koanf:"api_key"`
	Profile  string        `koanf:"profile"`
	Timeout  time.Duration `koanf:"timeout"`
	// AvoidRadius is the default buffer, in metres, around avoided points.
	AvoidRadius float64 `koanf:"avoid_radius"`
}

type TrainingConfig struct {
	SaveData bool `koanf:"save_data"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if len(c.Overpass.Endpoints) == 0 {
		errs = append(errs, errors.New("overpass.endpoints must not be empty"))
	}
	for _, ep := range c.Overpass.Endpoints {
		if _, err := url.ParseRequestURI(ep); err != nil {
			errs = append(errs, fmt.Errorf("overpass endpoint %q: %w", ep, err))
		}
	}
	if c.Overpass.MaxAttempts < 1 {
		errs = append(errs, errors.New("overpass.max_attempts must be at least 1"))
	}
	if c.Overpass.Factor < 1 {
		errs = append(errs, errors.New("overpass.factor must be at least 1"))
	}
	if c.Overpass.ListTimeout <= 0 || c.Overpass.DetailTimeout <= 0 {
		errs = append(errs, errors.New("overpass timeouts must be positive"))
	}

	switch c.Cache.Driver {
	case "badger":
		if c.Cache.Path == "" && !c.Cache.InMemory {
			errs = append(errs, errors.New("cache.path is required for the badger driver"))
		}
	case "postgres":
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("postgres.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.driver %q", c.Cache.Driver))
	}

	if c.Training.SaveData && c.Postgres.URL == "" {
		errs = append(errs, errors.New("training.save_data requires postgres.url"))
	}
	if c.Discovery.ShowPlacesZoom < 0 || c.Discovery.ShowPlacesZoom > 20 {
		errs = append(errs, fmt.Errorf("discovery.show_places_zoom %d out of range", c.Discovery.ShowPlacesZoom))
	}
	if c.Routing.AvoidRadius <= 0 {
		errs = append(errs, errors.New("routing.avoid_radius must be positive"))
	}

	return errors.Join(errs...)
}

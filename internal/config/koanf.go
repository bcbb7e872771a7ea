package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/places_service/config.yaml",
}

const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Timeout:         90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Overpass: OverpassConfig{
			Endpoints: []string{
				"https://overpass-api.de/api/interpreter",
				"https://overpass.kumi.systems/api/interpreter",
				"https://overpass.private.coffee/api/interpreter",
			},
			MaxAttempts:       3,
			MinDelay:          400 * time.Millisecond,
			Factor:            2,
			ListTimeout:       25 * time.Second,
			DetailTimeout:     60 * time.Second,
			RequestsPerSecond: 2,
			BreakerThreshold:  5,
			BreakerCooldown:   time.Minute,
		},
		Cache: CacheConfig{
			Driver:     "badger",
			Path:       "/data/features",
			GCInterval: 10 * time.Minute,
		},
		Discovery: DiscoveryConfig{
			ShowPlacesZoom: 13,
		},
		Model: ModelConfig{
			Path:            "models/accessibility_model.onnx",
			ConfigPath:      "models/model_config.json",
			TopContributors: 3,
		},
		Classifier: ClassifierConfig{
			Endpoint:    "https://api-inference.huggingface.co",
			Model:       "facebook/bart-large-mnli",
			Task:        "zero-shot-classification",
			Timeout:     30 * time.Second,
			Concurrency: 4,
			MemoTTL:     time.Hour,
			MemoSize:    10000,
		},
		Routing: RoutingConfig{
			Endpoint:    "https://api.openrouteservice.org",
			Profile:     "wheelchair",
			Timeout:     30 * time.Second,
			AvoidRadius: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf layers defaults, the config file and the environment, then
// validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"overpass.endpoints",
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values into lists.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_timeout":          "server.timeout",
	"cors_origins":          "server.cors_origins",
	"rate_limit_requests":   "server.rate_limit_reqs",
	"rate_limit_window":     "server.rate_limit_window",
	"overpass_url":          "overpass.endpoints",
	"overpass_endpoints":    "overpass.endpoints",
	"overpass_max_attempts": "overpass.max_attempts",
	"overpass_min_delay":    "overpass.min_delay",
	"overpass_rps":          "overpass.requests_per_second",
	"cache_driver":          "cache.driver",
	"cache_path":            "cache.path",
	"cache_in_memory":       "cache.in_memory",
	"postgres_url":          "postgres.url",
	"show_places_zoom":      "discovery.show_places_zoom",
	"model_path":            "model.path",
	"model_config_path":     "model.config_path",
	"onnxruntime_lib":       "model.shared_library_path",
	"ml_service_url":        "classifier.endpoint",
	"classifier_model":      "classifier.model",
	"hf_api_token":          "classifier.api_token",
	"routing_url":           "routing.endpoint",
	"ors_api_key":           "routing.api_key",
	"routing_profile":       "routing.profile",
	"avoid_radius":          "routing.avoid_radius",
	"save_training_data":    "training.save_data",
	"log_level":             "logging.level",
	"log_format":            "logging.format",
	"log_caller":            "logging.caller",
}

// envTransformFunc maps flat env names onto config paths. Unknown variables
// are dropped so the rest of the environment cannot leak into the config.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

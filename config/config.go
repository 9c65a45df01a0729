// Package config loads gateway configuration with layered precedence:
// environment variables over an optional YAML file over built-in defaults.
package config

import (
	"errors"
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

// ErrInvalidConfig marks hard configuration errors: the gateway refuses to
// start (or a handler refuses to serve) rather than guessing at defaults for
// the upstream URL or secrets.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// EnvPrefix namespaces the gateway's environment variables, e.g.
// FLEETGATE_UPSTREAM__BASE_URL maps to upstream.base_url.
const EnvPrefix = "FLEETGATE_"

type Config struct {
	Listen   string         `koanf:"listen"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Auth     AuthConfig     `koanf:"auth"`
	Postgres PostgresConfig `koanf:"postgres"`

	Endpoints EndpointsConfig `koanf:"endpoints"`
}

// EndpointsConfig carries per-endpoint cache and fan-out tuning.
type EndpointsConfig struct {
	Devices      EndpointConfig `koanf:"devices"`
	Applications EndpointConfig `koanf:"applications"`
	Events       EndpointConfig `koanf:"events"`
	Installs     EndpointConfig `koanf:"installs"`
	Inventory    EndpointConfig `koanf:"inventory"`
}

// All returns the endpoint configurations keyed by endpoint name.
func (e EndpointsConfig) All() map[string]EndpointConfig {
	return map[string]EndpointConfig{
		"devices":      e.Devices,
		"applications": e.Applications,
		"events":       e.Events,
		"installs":     e.Installs,
		"inventory":    e.Inventory,
	}
}

type UpstreamConfig struct {
	BaseURL      string        `koanf:"base_url"`
	Secret       string        `koanf:"secret"`
	SecretHeader string        `koanf:"secret_header"`
	Timeout      time.Duration `koanf:"timeout"`
}

type AuthConfig struct {
	// SecretHash is the bcrypt hash of the dashboard secret. The plaintext
	// secret never appears in configuration.
	SecretHash string        `koanf:"secret_hash"`
	SessionTTL time.Duration `koanf:"session_ttl"`
}

type PostgresConfig struct {
	// DSN is optional; when set, the events endpoint reads the local event
	// log instead of fanning out to the upstream API.
	DSN          string        `koanf:"dsn"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	MaxIdleConns int           `koanf:"max_idle_conns"`
	ConnLifetime time.Duration `koanf:"conn_lifetime"`
}

// EndpointConfig tunes one bulk endpoint's cache window and fan-out shape.
// TTLs and batch sizes are configuration, never computed.
type EndpointConfig struct {
	TTL         time.Duration `koanf:"ttl"`
	BatchSize   int           `koanf:"batch_size"`
	ItemTimeout time.Duration `koanf:"item_timeout"`
	BatchDelay  time.Duration `koanf:"batch_delay"`
	ListPath    string        `koanf:"list_path"`
	DetailPath  string        `koanf:"detail_path"`

	// Fields is the ordered sub-collection fallback list for the aggregator;
	// empty means the endpoint serves whole device documents.
	Fields []string `koanf:"fields"`
}

// Default returns the built-in configuration, including the observed cache
// windows and fan-out shapes for each bulk endpoint.
func Default() Config {
	return Config{
		Listen: ":8080",
		Upstream: UpstreamConfig{
			SecretHeader: "X-Internal-Secret",
			Timeout:      30 * time.Second,
		},
		Auth: AuthConfig{
			SessionTTL: time.Hour,
		},
		Postgres: PostgresConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnLifetime: 30 * time.Minute,
		},
		Endpoints: EndpointsConfig{
			Devices: EndpointConfig{
				TTL:         time.Minute,
				BatchSize:   75,
				ItemTimeout: 10 * time.Second,
				BatchDelay:  100 * time.Millisecond,
				ListPath:    "/api/v1/devices",
				DetailPath:  "/api/v1/device/{id}",
			},
			Applications: EndpointConfig{
				TTL:         5 * time.Minute,
				BatchSize:   25,
				ItemTimeout: 30 * time.Second,
				BatchDelay:  100 * time.Millisecond,
				ListPath:    "/api/v1/devices",
				DetailPath:  "/api/v1/device/{id}",
				Fields:      []string{"applications", "Applications", "installed_applications", "installedApplications"},
			},
			Events: EndpointConfig{
				TTL:         30 * time.Second,
				BatchSize:   50,
				ItemTimeout: 10 * time.Second,
				BatchDelay:  100 * time.Millisecond,
				ListPath:    "/api/v1/devices",
				DetailPath:  "/api/v1/device/{id}",
				Fields:      []string{"events", "Events", "recent_events", "recentEvents"},
			},
			Installs: EndpointConfig{
				TTL:         5 * time.Minute,
				BatchSize:   10,
				ItemTimeout: 30 * time.Second,
				BatchDelay:  100 * time.Millisecond,
				ListPath:    "/api/v1/devices",
				DetailPath:  "/api/v1/device/{id}",
				Fields:      []string{"managedInstalls", "ManagedInstalls", "managed_installs", "installs"},
			},
			Inventory: EndpointConfig{
				TTL:         2 * time.Minute,
				BatchSize:   50,
				ItemTimeout: 5 * time.Second,
				BatchDelay:  100 * time.Millisecond,
				ListPath:    "/api/v1/devices",
				DetailPath:  "/api/v1/device/{id}",
				Fields:      []string{"inventory", "Inventory", "system_info", "systemInfo"},
			},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// FLEETGATE_* environment variables, then validates it.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv is Load with the config file path taken from FLEETGATE_CONFIG.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv(EnvPrefix + "CONFIG"))
}

// Validate enforces the hard requirements: without an upstream base URL and
// secrets there is nothing meaningful the gateway can do.
func (c Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("%w: upstream base URL is required", ErrInvalidConfig)
	}
	if c.Upstream.Secret == "" {
		return fmt.Errorf("%w: upstream shared secret is required", ErrInvalidConfig)
	}
	if c.Auth.SecretHash == "" {
		return fmt.Errorf("%w: auth secret hash is required", ErrInvalidConfig)
	}
	for name, ep := range c.Endpoints.All() {
		if ep.TTL <= 0 {
			return fmt.Errorf("%w: endpoint %s: ttl must be positive", ErrInvalidConfig, name)
		}
		if ep.BatchSize <= 0 {
			return fmt.Errorf("%w: endpoint %s: batch size must be positive", ErrInvalidConfig, name)
		}
		if ep.ListPath == "" || ep.DetailPath == "" {
			return fmt.Errorf("%w: endpoint %s: list and detail paths are required", ErrInvalidConfig, name)
		}
	}
	return nil
}

// Double underscores separate nesting levels so single underscores survive
// inside key names: FLEETGATE_UPSTREAM__BASE_URL -> upstream.base_url.
func envTransform(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

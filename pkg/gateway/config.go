package gateway

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default knobs for fields a route leaves unset. Kept deliberately close to
// what a stock reverse proxy ships with.
const (
	DefaultDialTimeout           = 2 * time.Second
	DefaultResponseHeaderTimeout = 5 * time.Second
	DefaultOverallTimeout        = 40 * time.Second
	DefaultFailureThreshold      = 3
	DefaultFailureWindow         = 30 * time.Second
	DefaultCooldown              = 10 * time.Second
)

// Config is the gateway's whole declarative surface: one listener, any
// number of prefix-matched routes.
type Config struct {
	Listen string        `yaml:"listen"`
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps one inbound path prefix onto a set of replica backends.
type RouteConfig struct {
	Path     string        `yaml:"path"`
	Rewrite  string        `yaml:"rewrite"`
	Backends []string      `yaml:"backends"`
	Retries  int           `yaml:"retries"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Health   HealthConfig  `yaml:"health"`
	Cache    CacheConfig   `yaml:"cache"`
}

// TimeoutConfig carries the independent per-phase budgets: establishing the
// backend connection, waiting for its response headers, and the overall
// budget for one inbound request including retries.
type TimeoutConfig struct {
	Dial           Duration `yaml:"dial"`
	ResponseHeader Duration `yaml:"response_header"`
	Overall        Duration `yaml:"overall"`
}

// HealthConfig parameterizes passive health tracking for each backend of a
// route: Failures consecutive failures within Window mark the backend
// unavailable for Cooldown, after which one ordinary request probes it.
type HealthConfig struct {
	Failures uint32   `yaml:"failures"`
	Window   Duration `yaml:"window"`
	Cooldown Duration `yaml:"cooldown"`
}

// CacheConfig toggles response caching for a route. The cache key is the
// method plus the rewritten path, extended with the raw query string when
// VaryQuery is set.
type CacheConfig struct {
	Enabled   bool     `yaml:"enabled"`
	TTL       Duration `yaml:"ttl"`
	VaryQuery bool     `yaml:"vary_query"`
}

// Duration is a time.Duration that unmarshals from the usual "2s", "500ms"
// YAML string form.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LoadConfig reads, parses and validates a gateway configuration file.
// Defaults are applied to anything validation allows to be unset, so the
// returned Config is fully populated.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and fills in defaults. Anything wrong
// here is a configuration error; the gateway refuses to start rather than
// discovering the problem at request time.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}
	for i := range c.Routes {
		if err := c.Routes[i].validate(); err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
	}
	return nil
}

func (r *RouteConfig) validate() error {
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path %q must start with /", r.Path)
	}
	if r.Rewrite == "" {
		r.Rewrite = r.Path
	}
	if !strings.HasPrefix(r.Rewrite, "/") {
		return fmt.Errorf("rewrite %q must start with /", r.Rewrite)
	}
	if len(r.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}
	for _, b := range r.Backends {
		u, err := url.Parse(b)
		if err != nil {
			return fmt.Errorf("backend %q: %w", b, err)
		}
		if !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("backend %q must be an absolute URL", b)
		}
	}
	if r.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if r.Retries == 0 {
		r.Retries = len(r.Backends)
	}
	if r.Timeouts.Dial <= 0 {
		r.Timeouts.Dial = Duration(DefaultDialTimeout)
	}
	if r.Timeouts.ResponseHeader <= 0 {
		r.Timeouts.ResponseHeader = Duration(DefaultResponseHeaderTimeout)
	}
	if r.Timeouts.Overall <= 0 {
		r.Timeouts.Overall = Duration(DefaultOverallTimeout)
	}
	if r.Health.Failures == 0 {
		r.Health.Failures = DefaultFailureThreshold
	}
	if r.Health.Window <= 0 {
		r.Health.Window = Duration(DefaultFailureWindow)
	}
	if r.Health.Cooldown <= 0 {
		r.Health.Cooldown = Duration(DefaultCooldown)
	}
	if r.Cache.Enabled && r.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive when caching is enabled")
	}
	return nil
}

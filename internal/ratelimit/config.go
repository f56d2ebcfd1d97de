// config.go: policy configuration loading and defaults
package ratelimit

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds every policy knob of the admission subsystem. Loaded once at
// startup and treated as immutable afterwards.
type Config struct {
	ListenAddr    string `mapstructure:"listen_addr"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// FailureMode is "allow" (admit with a logged warning while the store
	// is down) or "deny". Fail-open is the default; silently admitting all
	// traffic during an outage is a policy choice operators must be able
	// to flip.
	FailureMode string `mapstructure:"failure_mode"`

	BypassPaths       []string `mapstructure:"bypass_paths"`
	MaintenanceRegion string   `mapstructure:"maintenance_region"`
	AdaptiveCeilings  bool     `mapstructure:"adaptive_ceilings"`

	HeavyContentBytes int64    `mapstructure:"heavy_content_bytes"`
	CostlyPaths       []string `mapstructure:"costly_paths"`
	Regions           []string `mapstructure:"regions"`

	Burst     WindowPolicy `mapstructure:"burst"`
	Sustained WindowPolicy `mapstructure:"sustained"`
	Adaptive  WindowPolicy `mapstructure:"adaptive"`

	ContentPolicies map[string]WindowPolicy `mapstructure:"content_policies"`
	GeoPolicies     map[string]WindowPolicy `mapstructure:"geo_policies"`

	// PolicyFile optionally overrides individual window policies from a
	// YAML file without touching the rest of the configuration.
	PolicyFile string `mapstructure:"policy_file"`

	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	IdleEviction  time.Duration `mapstructure:"idle_eviction"`
}

// Load reads configuration from an optional admission.yaml plus
// ADMISSION_-prefixed environment variables, applying defaults for anything
// unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ADMISSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("admission")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/admission")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// viper lowercases map keys on the way through; region tiers are keyed
	// by upper-case country code.
	if len(cfg.GeoPolicies) > 0 {
		geo := make(map[string]WindowPolicy, len(cfg.GeoPolicies))
		for region, p := range cfg.GeoPolicies {
			geo[strings.ToUpper(region)] = p
		}
		cfg.GeoPolicies = geo
	}

	if cfg.FailureMode != FailOpen && cfg.FailureMode != FailClosed {
		return nil, fmt.Errorf("invalid failure_mode %q: want %q or %q", cfg.FailureMode, FailOpen, FailClosed)
	}

	if cfg.PolicyFile != "" {
		if err := cfg.ApplyPolicyFile(cfg.PolicyFile); err != nil {
			return nil, fmt.Errorf("applying policy file: %w", err)
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_file", "")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("failure_mode", FailOpen)
	v.SetDefault("bypass_paths", []string{"/health", "/health/live", "/health/ready", "/ping"})
	v.SetDefault("maintenance_region", "")
	v.SetDefault("adaptive_ceilings", false)

	v.SetDefault("heavy_content_bytes", DefaultHeavyContentBytes)
	v.SetDefault("costly_paths", []string{"/api/analytics", "/api/search"})
	v.SetDefault("regions", []string{"US", "GB", "DE", "JP", "SG"})

	v.SetDefault("burst.window", "10s")
	v.SetDefault("burst.limit", 20)
	v.SetDefault("sustained.window", "60s")
	v.SetDefault("sustained.limit", 60)
	v.SetDefault("adaptive.window", "60s")
	v.SetDefault("adaptive.limit", 100)

	v.SetDefault("content_policies.light.window", "60s")
	v.SetDefault("content_policies.light.limit", 60)
	v.SetDefault("content_policies.heavy.window", "60s")
	v.SetDefault("content_policies.heavy.limit", 10)
	v.SetDefault("content_policies.expensive.window", "60s")
	v.SetDefault("content_policies.expensive.limit", 5)

	v.SetDefault("geo_policies.US.window", "60s")
	v.SetDefault("geo_policies.US.limit", 100)
	v.SetDefault("geo_policies.GB.window", "60s")
	v.SetDefault("geo_policies.GB.limit", 100)
	v.SetDefault("geo_policies.DE.window", "60s")
	v.SetDefault("geo_policies.DE.limit", 100)
	v.SetDefault("geo_policies.JP.window", "60s")
	v.SetDefault("geo_policies.JP.limit", 80)
	v.SetDefault("geo_policies.SG.window", "60s")
	v.SetDefault("geo_policies.SG.limit", 80)
	v.SetDefault("geo_policies.OTHER.window", "60s")
	v.SetDefault("geo_policies.OTHER.limit", 30)

	v.SetDefault("policy_file", "")
	v.SetDefault("sweep_interval", "1h")
	v.SetDefault("idle_eviction", "24h")
}

// UnmarshalYAML decodes a window policy whose window is a duration string
// ("10s", "1m"), which yaml.v3 will not parse into a time.Duration on its
// own.
func (p *WindowPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Window string `yaml:"window"`
		Limit  int64  `yaml:"limit"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Window != "" {
		d, err := time.ParseDuration(raw.Window)
		if err != nil {
			return fmt.Errorf("invalid window %q: %w", raw.Window, err)
		}
		p.Window = d
	}
	p.Limit = raw.Limit
	return nil
}

// policyFile is the on-disk shape of a policy override file.
type policyFile struct {
	Burst     *WindowPolicy           `yaml:"burst"`
	Sustained *WindowPolicy           `yaml:"sustained"`
	Adaptive  *WindowPolicy           `yaml:"adaptive"`
	Content   map[string]WindowPolicy `yaml:"content"`
	Geo       map[string]WindowPolicy `yaml:"geo"`
}

// ApplyPolicyFile overlays window policies from a YAML file onto the
// configuration. Only the policies present in the file change.
func (c *Config) ApplyPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if pf.Burst != nil {
		c.Burst = *pf.Burst
	}
	if pf.Sustained != nil {
		c.Sustained = *pf.Sustained
	}
	if pf.Adaptive != nil {
		c.Adaptive = *pf.Adaptive
	}
	for class, p := range pf.Content {
		if c.ContentPolicies == nil {
			c.ContentPolicies = make(map[string]WindowPolicy)
		}
		c.ContentPolicies[class] = p
	}
	for region, p := range pf.Geo {
		if c.GeoPolicies == nil {
			c.GeoPolicies = make(map[string]WindowPolicy)
		}
		c.GeoPolicies[strings.ToUpper(region)] = p
	}
	return nil
}

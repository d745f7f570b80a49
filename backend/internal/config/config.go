package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/safespeak/moderation-engine/backend/internal/fusion"
	"github.com/safespeak/moderation-engine/backend/internal/policy"
	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

// EnvPrefix prefixes every environment override, e.g. MODERATION_LOGGING_LEVEL
const EnvPrefix = "MODERATION"

// Config holds all application configuration
type Config struct {
	Taxonomy TaxonomyConfig `mapstructure:"taxonomy"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Fusion   FusionConfig   `mapstructure:"fusion"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TaxonomyConfig selects the category taxonomy. An empty path uses the
// built-in categories.
type TaxonomyConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// RulesConfig holds organization rule loading settings
type RulesConfig struct {
	Directory string `mapstructure:"directory"`
}

// FusionConfig holds per-tier weights and floors keyed by tier name
type FusionConfig struct {
	Weights   map[string]float64 `mapstructure:"weights"`
	TierFloor map[string]float64 `mapstructure:"tier_floor"`
}

// ThresholdConfig is the warn/block pair of one tier
type ThresholdConfig struct {
	Warn  float64 `mapstructure:"warn"`
	Block float64 `mapstructure:"block"`
}

// PolicyConfig holds decision policy settings
type PolicyConfig struct {
	HysteresisBand float64                    `mapstructure:"hysteresis_band"`
	Shards         int                        `mapstructure:"shards"`
	StateTTL       time.Duration              `mapstructure:"state_ttl"`
	Tiers          map[string]ThresholdConfig `mapstructure:"tiers"`
}

// AuditConfig selects the audit sinks. Both may be active at once.
type AuditConfig struct {
	File  string      `mapstructure:"file"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis stream sink; an empty Addr disables it
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`

	// BreakerFailures consecutive write failures open the breaker for
	// BreakerTimeout; 0 disables it
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"` // debug, info, warn, error
	Format string `mapstructure:"format"`
}

// Load reads config.yaml from configPath (or ./config, .) and applies
// MODERATION_* environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LoadFile reads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := policy.DefaultConfig()
	fdef := fusion.DefaultConfig()

	v.SetDefault("taxonomy.path", "")
	v.SetDefault("taxonomy.watch", false)
	v.SetDefault("rules.directory", "configs/rules")

	for sev, w := range fdef.Weights {
		v.SetDefault("fusion.weights."+sev.String(), w)
	}
	v.SetDefault("fusion.tier_floor", map[string]float64{})

	v.SetDefault("policy.hysteresis_band", def.HysteresisBand)
	v.SetDefault("policy.shards", policy.DefaultShards)
	v.SetDefault("policy.state_ttl", 30*time.Minute)
	for sev, th := range def.Tiers {
		v.SetDefault("policy.tiers."+sev.String()+".warn", th.Warn)
		v.SetDefault("policy.tiers."+sev.String()+".block", th.Block)
	}

	v.SetDefault("audit.file", "")
	v.SetDefault("audit.redis.addr", "")
	v.SetDefault("audit.redis.password", "")
	v.SetDefault("audit.redis.db", 0)
	v.SetDefault("audit.redis.stream", "moderation:decisions")
	v.SetDefault("audit.redis.max_len", 0)
	v.SetDefault("audit.redis.breaker_failures", 5)
	v.SetDefault("audit.redis.breaker_timeout", 30*time.Second)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// FusionSettings converts the tier-name keyed maps into a fusion.Config
func (c *Config) FusionSettings() (fusion.Config, error) {
	out := fusion.Config{
		Weights:   make(map[taxonomy.Severity]float64, len(c.Fusion.Weights)),
		TierFloor: make(map[taxonomy.Severity]float64, len(c.Fusion.TierFloor)),
	}
	for name, w := range c.Fusion.Weights {
		sev, err := taxonomy.ParseSeverity(name)
		if err != nil {
			return fusion.Config{}, fmt.Errorf("fusion.weights: %w", err)
		}
		out.Weights[sev] = w
	}
	for name, floor := range c.Fusion.TierFloor {
		sev, err := taxonomy.ParseSeverity(name)
		if err != nil {
			return fusion.Config{}, fmt.Errorf("fusion.tier_floor: %w", err)
		}
		out.TierFloor[sev] = floor
	}
	return out, out.Validate()
}

// PolicySettings converts the policy section into a policy.Config
func (c *Config) PolicySettings() (policy.Config, error) {
	out := policy.Config{
		Tiers:          make(map[taxonomy.Severity]policy.Thresholds, len(c.Policy.Tiers)),
		HysteresisBand: c.Policy.HysteresisBand,
	}
	for name, th := range c.Policy.Tiers {
		sev, err := taxonomy.ParseSeverity(name)
		if err != nil {
			return policy.Config{}, fmt.Errorf("policy.tiers: %w", err)
		}
		out.Tiers[sev] = policy.Thresholds{Warn: th.Warn, Block: th.Block}
	}
	return out, out.Validate()
}

// Package config loads and validates the router configuration. Validation
// failures here are the only errors allowed to terminate the process, and
// only at startup.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quorumhq/quorum/internal/embeddings"
	"github.com/quorumhq/quorum/internal/experts"
	"github.com/quorumhq/quorum/internal/llm"
	"github.com/quorumhq/quorum/internal/tracing"
)

// Selection strategy names accepted in routing.strategy.
const (
	StrategyCapability = "capability"
	StrategyEmbedding  = "embedding"
)

// RoutingConfig holds expert-selection tuning knobs. The relevance-gap and
// threshold values are hand-tuned; they are knobs rather than constants so
// deployments can adjust them without a rebuild.
type RoutingConfig struct {
	Strategy      string  `mapstructure:"strategy"`
	MaxExperts    int     `mapstructure:"max_experts"`
	Threshold     float64 `mapstructure:"threshold"`
	EmbeddingGap  float64 `mapstructure:"embedding_gap"`
	KeywordGap    float64 `mapstructure:"keyword_gap"`
	FallbackAgent string  `mapstructure:"fallback_agent"`
	FastPath      bool    `mapstructure:"fast_path"`
}

// ExecutorConfig bounds concurrent agent execution.
type ExecutorConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	AgentTimeout   time.Duration `mapstructure:"agent_timeout"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
}

// BreakerConfig tunes the per-agent circuit breaker.
type BreakerConfig struct {
	Threshold  float64       `mapstructure:"threshold"`
	Cooldown   time.Duration `mapstructure:"cooldown"`
	MinSamples int           `mapstructure:"min_samples"`
	WindowSize int           `mapstructure:"window_size"`
}

// CacheConfig tunes the result cache. An empty RedisAddr selects the
// in-memory backend.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	RedisAddr  string        `mapstructure:"redis_addr"`
}

// ServerConfig controls the public HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AgentsConfig points at the agent service hosting the remote agents.
type AgentsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GeocodeConfig points at the external geocoding helper.
type GeocodeConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ModelsConfig declares the required model roles.
type ModelsConfig struct {
	Synthesis llm.Config        `mapstructure:"synthesis"`
	Embedding embeddings.Config `mapstructure:"embedding"`
}

// ObservabilityConfig groups logging, metrics, and tracing settings.
type ObservabilityConfig struct {
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// Config is the validated process configuration. Expert groups come from the
// inline experts list, or from a standalone catalog when experts_file is set.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Experts       []experts.Group     `mapstructure:"experts"`
	ExpertsFile   string              `mapstructure:"experts_file"`
	Agents        AgentsConfig        `mapstructure:"agents"`
	Models        ModelsConfig        `mapstructure:"models"`
	Routing       RoutingConfig       `mapstructure:"routing"`
	Executor      ExecutorConfig      `mapstructure:"executor"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Geocode       GeocodeConfig       `mapstructure:"geocode"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("routing.strategy", StrategyCapability)
	v.SetDefault("routing.max_experts", 3)
	v.SetDefault("routing.threshold", 0.1)
	v.SetDefault("routing.embedding_gap", 0.15)
	v.SetDefault("routing.keyword_gap", 0.2)
	v.SetDefault("routing.fast_path", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("agents.timeout", 60*time.Second)
	v.SetDefault("executor.max_concurrency", 10)
	v.SetDefault("executor.agent_timeout", 25*time.Second)
	v.SetDefault("executor.batch_timeout", 30*time.Second)
	v.SetDefault("breaker.threshold", 0.5)
	v.SetDefault("breaker.cooldown", 5*time.Minute)
	v.SetDefault("breaker.min_samples", 10)
	v.SetDefault("breaker.window_size", 20)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 2112)
}

// ResolvePath applies the config path fallbacks: explicit path, then
// $QUORUM_CONFIG, then the bundled default location.
func ResolvePath(path string) string {
	if path == "" {
		path = os.Getenv("QUORUM_CONFIG")
	}
	if path == "" {
		path = "config/quorum.yaml"
	}
	return path
}

// Load reads the configuration file at path (or $QUORUM_CONFIG when path is
// empty), applies env overrides, and validates the result.
func Load(path string) (*Config, error) {
	path = ResolvePath(path)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("QUORUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.ExpertsFile != "" {
		groups, err := experts.LoadGroupsFile(cfg.ExpertsFile)
		if err != nil {
			return nil, err
		}
		cfg.Experts = groups
	}
	for i := range cfg.Experts {
		if cfg.Experts[i].Weight == 0 {
			cfg.Experts[i].Weight = 1.0
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the startup invariants: a non-empty expert group set with
// valid groups, required model roles, and a known fallback agent.
func (c *Config) Validate() error {
	if len(c.Experts) == 0 {
		return fmt.Errorf("configuration has zero expert groups")
	}
	for _, g := range c.Experts {
		if err := g.Validate(); err != nil {
			return err
		}
	}

	if c.Agents.BaseURL == "" {
		return fmt.Errorf("missing agent service base URL")
	}
	if c.Models.Synthesis.BaseURL == "" {
		return fmt.Errorf("missing required model role: synthesis")
	}
	if c.Routing.Strategy == StrategyEmbedding && c.Models.Embedding.BaseURL == "" {
		return fmt.Errorf("missing required model role: embedding (required by embedding strategy)")
	}
	if c.Routing.Strategy != StrategyCapability && c.Routing.Strategy != StrategyEmbedding {
		return fmt.Errorf("unknown routing strategy %q", c.Routing.Strategy)
	}
	if c.Routing.MaxExperts < 1 {
		return fmt.Errorf("routing.max_experts must be >= 1, got %d", c.Routing.MaxExperts)
	}

	if c.Routing.FallbackAgent != "" {
		known := false
		for _, g := range c.Experts {
			for _, id := range g.AgentIDs {
				if id == c.Routing.FallbackAgent {
					known = true
				}
			}
		}
		if !known {
			return fmt.Errorf("fallback agent %q not declared by any expert group", c.Routing.FallbackAgent)
		}
	}

	return nil
}

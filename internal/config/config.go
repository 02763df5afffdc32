// Package config loads the learning engine's process-wide configuration.
// A single immutable *Config is built once at startup and passed by
// reference to every component; nothing here is a package-level global.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable named in spec.md, defaulted the way the
// teacher's internal/config.Load() defaults server settings: env vars
// override built-in defaults, nothing is required.
type Config struct {
	LogLevel string

	// EmbeddingDim is fixed at boot for patterns and routing.
	EmbeddingDim int

	Trajectory TrajectoryConfig
	Weights    WeightsConfig
	Trainer    TrainerConfig
	Trigger    TriggerConfig
	Pattern    PatternConfig
	EWC        EWCConfig
	Routing    RoutingConfig
	Capability CapabilityConfig

	DataDir string // root of the .agentdb directory tree

	// AdminTokenSecret gates the debug HTTP surface. Empty disables auth.
	AdminTokenSecret string

	// HTTPAddr is the listen address for the debug/ops HTTP surface.
	HTTPAddr string
}

type TrajectoryConfig struct {
	MemoryWindowSize     int
	BatchWriteSize       int
	MaxMetadataEntries   int
	MaxConcurrentQueries int
	FormatVersion        int
	LZ4Compression       bool
}

type WeightsConfig struct {
	CheckpointIntervalUpdates int
	MaxCheckpoints            int
}

type TrainerConfig struct {
	MaxEpochs             int
	BatchSize             int
	ValidationSplit       float64
	MinImprovement        float64
	EarlyStoppingPatience int
	LearningRate          float64
	Beta1                 float64
	Beta2                 float64
	Epsilon               float64
	MaxGradientNorm       float64
	PositiveQuality       float64
	NegativeQuality       float64
	TripletMargin         float64
}

type TriggerConfig struct {
	MinSamples          int
	CooldownMs          int64
	MaxPendingSamples   int
	AutoCheckIntervalMs int64
	ForceWaitTimeoutMs  int64
}

type PatternConfig struct {
	MinSuccessRate       float64
	DuplicateSimilarity  float64
	HighQualityThreshold float64
	LowQualityThreshold  float64
}

type EWCConfig struct {
	FisherDecay float64 // alpha in F <- alpha*F + (1-alpha)*g^2
	Lambda      float64
}

type RoutingConfig struct {
	ColdStartKeywordOnlyMax int // n <= this -> keyword-only
	ColdStartBlendedMax     int // n <= this -> blended
	ColdStartConfidenceCap  float64
	DomainMatchWeight       float64
}

type CapabilityConfig struct {
	AgentsDir          string
	CacheFormatVersion int
}

// Load reads configuration from environment variables (prefix AGENTDB_)
// with sensible defaults, the same override-over-default shape as the
// teacher's config.Load().
func Load() *Config {
	v := viper.New()
	v.SetEnvPrefix("AGENTDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("embedding_dim", 1536)
	v.SetDefault("data_dir", ".agentdb")
	v.SetDefault("admin_token_secret", "")
	v.SetDefault("http_addr", ":8090")

	v.SetDefault("trajectory.memory_window_size", 1000)
	v.SetDefault("trajectory.batch_write_size", 100)
	v.SetDefault("trajectory.max_metadata_entries", 50000)
	v.SetDefault("trajectory.max_concurrent_queries", 8)
	v.SetDefault("trajectory.format_version", 2)
	v.SetDefault("trajectory.lz4_compression", false)

	v.SetDefault("weights.checkpoint_interval_updates", 100)
	v.SetDefault("weights.max_checkpoints", 5)

	v.SetDefault("trainer.max_epochs", 50)
	v.SetDefault("trainer.batch_size", 32)
	v.SetDefault("trainer.validation_split", 0.2)
	v.SetDefault("trainer.min_improvement", 1e-4)
	v.SetDefault("trainer.early_stopping_patience", 5)
	v.SetDefault("trainer.learning_rate", 1e-3)
	v.SetDefault("trainer.beta1", 0.9)
	v.SetDefault("trainer.beta2", 0.999)
	v.SetDefault("trainer.epsilon", 1e-8)
	v.SetDefault("trainer.max_gradient_norm", 5.0)
	v.SetDefault("trainer.positive_quality", 0.7)
	v.SetDefault("trainer.negative_quality", 0.3)
	v.SetDefault("trainer.triplet_margin", 0.2)

	v.SetDefault("trigger.min_samples", 50)
	v.SetDefault("trigger.cooldown_ms", int64(5*60*1000))
	v.SetDefault("trigger.max_pending_samples", 500)
	v.SetDefault("trigger.auto_check_interval_ms", int64(60*1000))
	v.SetDefault("trigger.force_wait_timeout_ms", int64(60*1000))

	v.SetDefault("pattern.min_success_rate", 0.8)
	v.SetDefault("pattern.duplicate_similarity", 0.95)
	v.SetDefault("pattern.high_quality_threshold", 0.9)
	v.SetDefault("pattern.low_quality_threshold", 0.8)

	v.SetDefault("ewc.fisher_decay", 0.9)
	v.SetDefault("ewc.lambda", 0.4)

	v.SetDefault("routing.cold_start_keyword_only_max", 25)
	v.SetDefault("routing.cold_start_blended_max", 100)
	v.SetDefault("routing.cold_start_confidence_cap", 0.6)
	v.SetDefault("routing.domain_match_weight", 0.05)

	v.SetDefault("capability.agents_dir", ".github/agents")
	v.SetDefault("capability.cache_format_version", 1)

	return &Config{
		LogLevel:         v.GetString("log_level"),
		EmbeddingDim:     v.GetInt("embedding_dim"),
		DataDir:          v.GetString("data_dir"),
		AdminTokenSecret: v.GetString("admin_token_secret"),
		HTTPAddr:         v.GetString("http_addr"),
		Trajectory: TrajectoryConfig{
			MemoryWindowSize:     v.GetInt("trajectory.memory_window_size"),
			BatchWriteSize:       v.GetInt("trajectory.batch_write_size"),
			MaxMetadataEntries:   v.GetInt("trajectory.max_metadata_entries"),
			MaxConcurrentQueries: v.GetInt("trajectory.max_concurrent_queries"),
			FormatVersion:        v.GetInt("trajectory.format_version"),
			LZ4Compression:       v.GetBool("trajectory.lz4_compression"),
		},
		Weights: WeightsConfig{
			CheckpointIntervalUpdates: v.GetInt("weights.checkpoint_interval_updates"),
			MaxCheckpoints:            v.GetInt("weights.max_checkpoints"),
		},
		Trainer: TrainerConfig{
			MaxEpochs:             v.GetInt("trainer.max_epochs"),
			BatchSize:             v.GetInt("trainer.batch_size"),
			ValidationSplit:       v.GetFloat64("trainer.validation_split"),
			MinImprovement:        v.GetFloat64("trainer.min_improvement"),
			EarlyStoppingPatience: v.GetInt("trainer.early_stopping_patience"),
			LearningRate:          v.GetFloat64("trainer.learning_rate"),
			Beta1:                 v.GetFloat64("trainer.beta1"),
			Beta2:                 v.GetFloat64("trainer.beta2"),
			Epsilon:               v.GetFloat64("trainer.epsilon"),
			MaxGradientNorm:       v.GetFloat64("trainer.max_gradient_norm"),
			PositiveQuality:       v.GetFloat64("trainer.positive_quality"),
			NegativeQuality:       v.GetFloat64("trainer.negative_quality"),
			TripletMargin:         v.GetFloat64("trainer.triplet_margin"),
		},
		Trigger: TriggerConfig{
			MinSamples:          v.GetInt("trigger.min_samples"),
			CooldownMs:          v.GetInt64("trigger.cooldown_ms"),
			MaxPendingSamples:   v.GetInt("trigger.max_pending_samples"),
			AutoCheckIntervalMs: v.GetInt64("trigger.auto_check_interval_ms"),
			ForceWaitTimeoutMs:  v.GetInt64("trigger.force_wait_timeout_ms"),
		},
		Pattern: PatternConfig{
			MinSuccessRate:       v.GetFloat64("pattern.min_success_rate"),
			DuplicateSimilarity:  v.GetFloat64("pattern.duplicate_similarity"),
			HighQualityThreshold: v.GetFloat64("pattern.high_quality_threshold"),
			LowQualityThreshold:  v.GetFloat64("pattern.low_quality_threshold"),
		},
		EWC: EWCConfig{
			FisherDecay: v.GetFloat64("ewc.fisher_decay"),
			Lambda:      v.GetFloat64("ewc.lambda"),
		},
		Routing: RoutingConfig{
			ColdStartKeywordOnlyMax: v.GetInt("routing.cold_start_keyword_only_max"),
			ColdStartBlendedMax:     v.GetInt("routing.cold_start_blended_max"),
			ColdStartConfidenceCap:  v.GetFloat64("routing.cold_start_confidence_cap"),
			DomainMatchWeight:       v.GetFloat64("routing.domain_match_weight"),
		},
		Capability: CapabilityConfig{
			AgentsDir:          v.GetString("capability.agents_dir"),
			CacheFormatVersion: v.GetInt("capability.cache_format_version"),
		},
	}
}

// ForceWaitTimeout returns the trigger's bounded force-training wait as a
// time.Duration.
func (c *TriggerConfig) ForceWaitTimeout() time.Duration {
	return time.Duration(c.ForceWaitTimeoutMs) * time.Millisecond
}

// Cooldown returns the trigger's cooldown as a time.Duration.
func (c *TriggerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// AutoCheckInterval returns the trigger's periodic check interval.
func (c *TriggerConfig) AutoCheckInterval() time.Duration {
	return time.Duration(c.AutoCheckIntervalMs) * time.Millisecond
}

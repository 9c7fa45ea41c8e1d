// Package config defines the configuration structures for DDI-Intelligence.
// No I/O lives here, only plain data types and validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/monitoring/logging"
)

// Invalid-structure policies applied by batch preprocessing.
const (
	InvalidStructureZeroFill = "zero_fill"
	InvalidStructureSkip     = "skip"
)

// Artifact sources.
const (
	ArtifactSourceLocal = "local"
	ArtifactSourceMinIO = "minio"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// FingerprintConfig fixes the encoder shape. Changing it invalidates every
// trained model.
type FingerprintConfig struct {
	Size            int `mapstructure:"size" yaml:"size"`
	Radius          int `mapstructure:"radius" yaml:"radius"`
	CacheMaxEntries int `mapstructure:"cache_max_entries" yaml:"cache_max_entries"`
}

// PreprocessConfig holds corpus preprocessing parameters.
type PreprocessConfig struct {
	ReferencePath          string  `mapstructure:"reference_path" yaml:"reference_path"`
	InteractionsPath       string  `mapstructure:"interactions_path" yaml:"interactions_path"`
	OutputDir              string  `mapstructure:"output_dir" yaml:"output_dir"`
	BatchSize              int     `mapstructure:"batch_size" yaml:"batch_size"`
	MaxSamples             int     `mapstructure:"max_samples" yaml:"max_samples"`
	TestFraction           float64 `mapstructure:"test_fraction" yaml:"test_fraction"`
	RandomSeed             int64   `mapstructure:"random_seed" yaml:"random_seed"`
	InvalidStructurePolicy string  `mapstructure:"invalid_structure_policy" yaml:"invalid_structure_policy"`
}

// ArtifactsConfig locates the scoring artifact and model weights.
type ArtifactsConfig struct {
	Source       string `mapstructure:"source" yaml:"source"` // "local" | "minio"
	Dir          string `mapstructure:"dir" yaml:"dir"`
	ArtifactFile string `mapstructure:"artifact_file" yaml:"artifact_file"`
	ModelFile    string `mapstructure:"model_file" yaml:"model_file"`
	ObjectPrefix string `mapstructure:"object_prefix" yaml:"object_prefix"`
}

// MinIOConfig holds object storage connection parameters.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"-"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
}

// RedisConfig holds the prediction cache connection parameters.
type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr          string        `mapstructure:"addr" yaml:"addr"`
	Password      string        `mapstructure:"password" yaml:"-"`
	DB            int           `mapstructure:"db" yaml:"db"`
	PoolSize      int           `mapstructure:"pool_size" yaml:"pool_size"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PredictionTTL time.Duration `mapstructure:"prediction_ttl" yaml:"prediction_ttl"`
	KeyPrefix     string        `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// PredictConfig tunes the inference path.
type PredictConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// MetricsConfig controls Prometheus metric export.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Textfile, when set, receives a node_exporter textfile dump at exit.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Log         logging.LogConfig `mapstructure:"log" yaml:"log"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint" yaml:"fingerprint"`
	Preprocess  PreprocessConfig  `mapstructure:"preprocess" yaml:"preprocess"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts" yaml:"artifacts"`
	MinIO       MinIOConfig       `mapstructure:"minio" yaml:"minio"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Predict     PredictConfig     `mapstructure:"predict" yaml:"predict"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of a fully-populated Config and
// returns the first error encountered.
func (c *Config) Validate() error {
	// Fingerprint
	if c.Fingerprint.Size < 1 {
		return fmt.Errorf("config: fingerprint.size must be ≥ 1, got %d", c.Fingerprint.Size)
	}
	if c.Fingerprint.Radius < 0 {
		return fmt.Errorf("config: fingerprint.radius must be ≥ 0, got %d", c.Fingerprint.Radius)
	}
	if c.Fingerprint.CacheMaxEntries < 0 {
		return fmt.Errorf("config: fingerprint.cache_max_entries must be ≥ 0, got %d", c.Fingerprint.CacheMaxEntries)
	}

	// Preprocess
	if c.Preprocess.BatchSize < 1 {
		return fmt.Errorf("config: preprocess.batch_size must be ≥ 1, got %d", c.Preprocess.BatchSize)
	}
	if c.Preprocess.MaxSamples < 1 {
		return fmt.Errorf("config: preprocess.max_samples must be ≥ 1, got %d", c.Preprocess.MaxSamples)
	}
	if c.Preprocess.TestFraction <= 0 || c.Preprocess.TestFraction >= 1 {
		return fmt.Errorf("config: preprocess.test_fraction %v must be in (0, 1)", c.Preprocess.TestFraction)
	}
	switch c.Preprocess.InvalidStructurePolicy {
	case InvalidStructureZeroFill, InvalidStructureSkip:
	default:
		return fmt.Errorf("config: preprocess.invalid_structure_policy %q is invalid; expected zero_fill|skip",
			c.Preprocess.InvalidStructurePolicy)
	}

	// Artifacts
	switch c.Artifacts.Source {
	case ArtifactSourceLocal:
	case ArtifactSourceMinIO:
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("config: minio.endpoint is required when artifacts.source is minio")
		}
		if c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.bucket is required when artifacts.source is minio")
		}
	default:
		return fmt.Errorf("config: artifacts.source %q is invalid; expected local|minio", c.Artifacts.Source)
	}
	if c.Artifacts.ArtifactFile == "" || c.Artifacts.ModelFile == "" {
		return fmt.Errorf("config: artifacts.artifact_file and artifacts.model_file are required")
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when redis.enabled is true")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
	}

	// Predict
	if c.Predict.Concurrency < 1 {
		return fmt.Errorf("config: predict.concurrency must be ≥ 1, got %d", c.Predict.Concurrency)
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}

package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultFingerprintSize   = 2048
	DefaultFingerprintRadius = 2
	DefaultCacheMaxEntries   = 5000

	DefaultBatchSize              = 10000
	DefaultMaxSamples             = 50000
	DefaultTestFraction           = 0.2
	DefaultRandomSeed             = 42
	DefaultInvalidStructurePolicy = InvalidStructureZeroFill
	DefaultOutputDir              = "models"

	DefaultArtifactSource = ArtifactSourceLocal
	DefaultArtifactsDir   = "models"
	DefaultArtifactFile   = "preprocessor.json"
	DefaultModelFile      = "model.json"

	DefaultMinIORegion = "us-east-1"

	DefaultRedisAddr          = "localhost:6379"
	DefaultRedisPoolSize      = 10
	DefaultRedisDialTimeout   = 5 * time.Second
	DefaultRedisReadTimeout   = 3 * time.Second
	DefaultRedisWriteTimeout  = 3 * time.Second
	DefaultRedisPredictionTTL = time.Hour
	DefaultRedisKeyPrefix     = "ddi:"

	DefaultPredictConcurrency = 4

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills every zero-value field in cfg with its default.
// Explicitly configured values are left unchanged.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Fingerprint ───────────────────────────────────────────────────────────
	if cfg.Fingerprint.Size == 0 {
		cfg.Fingerprint.Size = DefaultFingerprintSize
	}
	if cfg.Fingerprint.Radius == 0 {
		cfg.Fingerprint.Radius = DefaultFingerprintRadius
	}
	if cfg.Fingerprint.CacheMaxEntries == 0 {
		cfg.Fingerprint.CacheMaxEntries = DefaultCacheMaxEntries
	}

	// ── Preprocess ────────────────────────────────────────────────────────────
	if cfg.Preprocess.BatchSize == 0 {
		cfg.Preprocess.BatchSize = DefaultBatchSize
	}
	if cfg.Preprocess.MaxSamples == 0 {
		cfg.Preprocess.MaxSamples = DefaultMaxSamples
	}
	if cfg.Preprocess.TestFraction == 0 {
		cfg.Preprocess.TestFraction = DefaultTestFraction
	}
	if cfg.Preprocess.RandomSeed == 0 {
		cfg.Preprocess.RandomSeed = DefaultRandomSeed
	}
	if cfg.Preprocess.InvalidStructurePolicy == "" {
		cfg.Preprocess.InvalidStructurePolicy = DefaultInvalidStructurePolicy
	}
	if cfg.Preprocess.OutputDir == "" {
		cfg.Preprocess.OutputDir = DefaultOutputDir
	}

	// ── Artifacts ─────────────────────────────────────────────────────────────
	if cfg.Artifacts.Source == "" {
		cfg.Artifacts.Source = DefaultArtifactSource
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = DefaultArtifactsDir
	}
	if cfg.Artifacts.ArtifactFile == "" {
		cfg.Artifacts.ArtifactFile = DefaultArtifactFile
	}
	if cfg.Artifacts.ModelFile == "" {
		cfg.Artifacts.ModelFile = DefaultModelFile
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Region == "" {
		cfg.MinIO.Region = DefaultMinIORegion
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = DefaultRedisPoolSize
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = DefaultRedisReadTimeout
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = DefaultRedisWriteTimeout
	}
	if cfg.Redis.PredictionTTL == 0 {
		cfg.Redis.PredictionTTL = DefaultRedisPredictionTTL
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// ── Predict ───────────────────────────────────────────────────────────────
	if cfg.Predict.Concurrency == 0 {
		cfg.Predict.Concurrency = DefaultPredictConcurrency
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// Default returns a Config populated entirely with defaults.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

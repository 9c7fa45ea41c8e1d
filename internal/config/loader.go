package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "DDI"

// envKeys lists every leaf key so that AutomaticEnv can resolve it even when
// the key is absent from the config file.
var envKeys = []string{
	"log.level", "log.format",
	"fingerprint.size", "fingerprint.radius", "fingerprint.cache_max_entries",
	"preprocess.reference_path", "preprocess.interactions_path", "preprocess.output_dir",
	"preprocess.batch_size", "preprocess.max_samples", "preprocess.test_fraction",
	"preprocess.random_seed", "preprocess.invalid_structure_policy",
	"artifacts.source", "artifacts.dir", "artifacts.artifact_file", "artifacts.model_file", "artifacts.object_prefix",
	"minio.endpoint", "minio.access_key", "minio.secret_key", "minio.use_ssl", "minio.bucket", "minio.region",
	"redis.enabled", "redis.addr", "redis.password", "redis.db", "redis.pool_size",
	"redis.dial_timeout", "redis.read_timeout", "redis.write_timeout", "redis.prediction_ttl", "redis.key_prefix",
	"predict.concurrency",
	"metrics.enabled", "metrics.textfile",
}

// newViper builds a Viper instance with YAML file type, DDI_ env prefix and
// a "." → "_" key replacer so "redis.addr" resolves to DDI_REDIS_ADDR.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the YAML file at configPath, merges DDI_* environment overrides,
// applies defaults and validates the result. An empty configPath is
// equivalent to LoadFromEnv.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from DDI_* environment variables and defaults.
//
//	DDI_<SECTION>_<FIELD>   e.g.  DDI_FINGERPRINT_SIZE, DDI_REDIS_ADDR
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch monitors configPath and invokes onChange with the re-parsed Config
// whenever the file changes. Invalid intermediate states are reported to
// onError (when non-nil) and onChange is skipped. Only settings that are safe
// to change at runtime, such as log.level, should be applied by callers.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	v.OnConfigChange(func(ev fsnotify.Event) {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

package cli

import (
	"context"

	"github.com/turtacn/DDI-Intelligence/internal/config"
	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/storage/minio"
	"github.com/turtacn/DDI-Intelligence/internal/intelligence/deepddi"
)

// artifactStore opens the configured artifact location.
func artifactStore(cliCtx *CLIContext) (*deepddi.ArtifactStore, error) {
	cfg := cliCtx.Config
	var src deepddi.ArtifactSource
	switch cfg.Artifacts.Source {
	case config.ArtifactSourceMinIO:
		client, err := minio.NewClient(&cfg.MinIO, cfg.Artifacts.ObjectPrefix, cliCtx.Logger)
		if err != nil {
			return nil, err
		}
		src = client
	default:
		src = deepddi.DirSource{Dir: cfg.Artifacts.Dir}
	}
	return deepddi.NewArtifactStore(src, cfg.Artifacts.ArtifactFile, cfg.Artifacts.ModelFile), nil
}

// loadArtifact reads only the scoring artifact. Index lookups need nothing
// else.
func loadArtifact(ctx context.Context, cliCtx *CLIContext) (*deepddi.ScoringArtifact, error) {
	store, err := artifactStore(cliCtx)
	if err != nil {
		return nil, err
	}
	return store.LoadArtifact(ctx)
}

// newPredictor builds a predictor over the configured artifacts. When redis
// is enabled and reachable it also serves as the prediction cache; an
// unreachable redis only costs the cache. The returned func releases the
// redis pool.
func newPredictor(ctx context.Context, cliCtx *CLIContext) (*deepddi.Predictor, func(), error) {
	cfg := cliCtx.Config
	opts := []deepddi.PredictorOption{
		deepddi.WithLogger(cliCtx.Logger),
		deepddi.WithMetrics(cliCtx.Metrics),
		deepddi.WithFingerprintCacheSize(cfg.Fingerprint.CacheMaxEntries),
	}

	cleanup := func() {}
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(&cfg.Redis, cliCtx.Logger)
		if err != nil {
			cliCtx.Logger.Warn("prediction cache disabled", logging.Err(err))
		} else {
			cache := redis.NewPredictionCache(client, cliCtx.Logger,
				redis.WithPrefix(cfg.Redis.KeyPrefix),
				redis.WithTTL(cfg.Redis.PredictionTTL))
			opts = append(opts, deepddi.WithPredictionCache(cache))
			cleanup = func() { client.Close() }
		}
	}

	store, err := artifactStore(cliCtx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	p := deepddi.NewPredictor(opts...)
	if err := p.LoadFromStore(ctx, store); err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}

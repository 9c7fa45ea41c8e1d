package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

const (
	predictionNamespace = "pred:"
	defaultTTL          = time.Hour
	scanBatch           = 100
)

// PredictionCache stores translated prediction results as JSON under a key
// derived from the model scope and the ordered structure pair.
type PredictionCache struct {
	client *Client
	logger logging.Logger
	prefix string
	ttl    time.Duration
	jitter bool
}

// CacheOption customizes a PredictionCache.
type CacheOption func(*PredictionCache)

// WithPrefix sets the key prefix shared by every entry.
func WithPrefix(prefix string) CacheOption {
	return func(c *PredictionCache) { c.prefix = prefix }
}

// WithTTL sets the entry lifetime. Zero keeps entries until purged.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *PredictionCache) { c.ttl = ttl }
}

// WithoutJitter writes the exact TTL instead of spreading it by ±10%.
func WithoutJitter() CacheOption {
	return func(c *PredictionCache) { c.jitter = false }
}

// NewPredictionCache creates a cache over client.
func NewPredictionCache(client *Client, log logging.Logger, opts ...CacheOption) *PredictionCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &PredictionCache{
		client: client,
		logger: log.Named("prediction_cache"),
		prefix: "ddi:",
		ttl:    defaultTTL,
		jitter: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the redis key for the ordered pair under scope. (a, b) and
// (b, a) differ, and so do equal pairs under different scopes.
func (c *PredictionCache) Key(scope, smilesA, smilesB string) string {
	h := sha256.New()
	h.Write([]byte(smilesA))
	h.Write([]byte{0})
	h.Write([]byte(smilesB))
	return c.prefix + predictionNamespace + scope + ":" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the stored result. A miss is (nil, false, nil).
func (c *PredictionCache) Get(ctx context.Context, scope, smilesA, smilesB string) (*itypes.PredictionResult, bool, error) {
	data, err := c.client.Get(ctx, c.Key(scope, smilesA, smilesB)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeCacheError, "get prediction")
	}
	var res itypes.PredictionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeSerialization, "decode cached prediction")
	}
	return &res, true, nil
}

// Set stores result for the ordered pair under scope.
func (c *PredictionCache) Set(ctx context.Context, scope, smilesA, smilesB string, result *itypes.PredictionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode prediction")
	}
	if err := c.client.Set(ctx, c.Key(scope, smilesA, smilesB), data, c.expiry()).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "set prediction")
	}
	return nil
}

// Purge deletes every prediction under the prefix, for all scopes, and
// returns the count.
func (c *PredictionCache) Purge(ctx context.Context) (int64, error) {
	var (
		deleted int64
		cursor  uint64
	)
	match := c.prefix + predictionNamespace + "*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "scan predictions")
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "delete predictions")
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Info("prediction cache purged", logging.Int64("deleted", deleted))
	return deleted, nil
}

func (c *PredictionCache) expiry() time.Duration {
	if c.ttl <= 0 || !c.jitter {
		return c.ttl
	}
	j := float64(c.ttl) * 0.1 * (rand.Float64()*2 - 1)
	return c.ttl + time.Duration(j)
}

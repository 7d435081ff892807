package changefeed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hypoth/edi835/internal/db"
)

const dedupTTL = 24 * time.Hour

// IdempotencyCache answers "have we already successfully processed this
// change?" keyed by (tableName, rowId, hash(newValues)), the key §4.1
// requires handlers be idempotent on. IsSeen must never have a side
// effect — only MarkSeen, called after a handler actually succeeds, may
// record a key as seen. Marking on a cache miss (before the handler runs)
// would let a batch-level failure's redelivery find the key already
// present and skip a record that was never successfully handled.
type IdempotencyCache interface {
	IsSeen(ctx context.Context, tableName, rowID string, newValues []byte) (seen bool, err error)
	MarkSeen(ctx context.Context, tableName, rowID string, newValues []byte)
}

// RedisCache checks a Redis hot path first, falling back to the
// data_changes.processed column on a cache miss, keyed by a generic
// (table, rowId, hash) key.
type RedisCache struct {
	rdb    *redis.Client
	dbtx   db.DBTX
	logger *slog.Logger
}

// NewRedisCache builds a RedisCache.
func NewRedisCache(rdb *redis.Client, dbtx db.DBTX, logger *slog.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, dbtx: dbtx, logger: logger}
}

// IsSeen returns true if (tableName, rowID, hash(newValues)) was already
// marked processed, via the Redis hot path or, on a miss, the
// data_changes.processed column. It never writes to the cache itself.
func (c *RedisCache) IsSeen(ctx context.Context, tableName, rowID string, newValues []byte) (bool, error) {
	key := cacheKey(tableName, rowID, newValues)

	seen, err := c.rdb.Get(ctx, key).Result()
	if err == nil && seen == "1" {
		return true, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("idempotency cache read failed, falling back to database", "error", err)
	}

	return c.dbFallback(ctx, tableName, rowID, newValues)
}

// MarkSeen records (tableName, rowID, hash(newValues)) as processed. Call
// this only after the corresponding handler has run successfully.
func (c *RedisCache) MarkSeen(ctx context.Context, tableName, rowID string, newValues []byte) {
	c.warmCache(ctx, cacheKey(tableName, rowID, newValues))
}

func (c *RedisCache) dbFallback(ctx context.Context, tableName, rowID string, newValues []byte) (bool, error) {
	hash := hashNewValues(newValues)
	row := c.dbtx.QueryRow(ctx, `
		SELECT processed FROM data_changes
		WHERE table_name = $1 AND row_id = $2 AND new_values_hash = $3 AND processed = true
		LIMIT 1`, tableName, rowID, hash)

	var processed bool
	if err := row.Scan(&processed); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking idempotency fallback for %s/%s: %w", tableName, rowID, err)
	}
	return processed, nil
}

func (c *RedisCache) warmCache(ctx context.Context, key string) {
	if err := c.rdb.Set(ctx, key, "1", dedupTTL).Err(); err != nil {
		c.logger.Warn("idempotency cache warm failed", "error", err)
	}
}

func cacheKey(tableName, rowID string, newValues []byte) string {
	return fmt.Sprintf("changefeed:seen:%s:%s:%s", tableName, rowID, hashNewValues(newValues))
}

func hashNewValues(newValues []byte) string {
	sum := sha256.Sum256(newValues)
	return hex.EncodeToString(sum[:])
}

package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guarantees that only one transition may be in flight for a given
// bucket at any time (§4.6). The key is a bucket id or, from the
// aggregator, the bucket's (rule, payer, payee, bin, pcn) tuple.
type Locker interface {
	// Lock blocks (briefly) trying to acquire the lock for bucketID and
	// returns a release function. The caller must call release exactly
	// once, regardless of outcome.
	Lock(ctx context.Context, bucketID string) (release func(), err error)
}

// RedisLocker implements Locker on top of a Redis client using SET NX PX
// plus a token compare-and-delete on release, so a lock can never be
// released by a holder other than the one that acquired it.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	retry   time.Duration
	timeout time.Duration
}

// NewRedisLocker builds a RedisLocker. ttl bounds how long a lock survives
// a crashed holder; retry is the poll interval while waiting to acquire;
// timeout is the overall time budget for acquisition.
func NewRedisLocker(client *redis.Client, ttl, retry, timeout time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, retry: retry, timeout: timeout}
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

func (l *RedisLocker) Lock(ctx context.Context, bucketID string) (func(), error) {
	key := fmt.Sprintf("edi835:bucket-lock:%s", bucketID)
	token := uuid.New().String()

	deadline := time.Now().Add(l.timeout)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock for bucket %s: %w", bucketID, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				releaseScript.Run(releaseCtx, l.client, []string{key}, token)
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out acquiring lock for bucket %s", bucketID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

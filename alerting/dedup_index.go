package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DedupIndex is a fast fingerprint-to-alert lookup used ahead of the storage
// scan. Misses are always authoritative against storage, so an index that
// loses entries only costs an extra query.
type DedupIndex interface {
	Lookup(ctx context.Context, fingerprint string) (alertID string, ok bool, err error)
	Store(ctx context.Context, fingerprint, alertID string, ttl time.Duration) error
	Forget(ctx context.Context, fingerprint string) error
}

// RedisDedupIndex keys fingerprints in Redis with a TTL matching the dedup
// window, so entries expire exactly when merging stops.
type RedisDedupIndex struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisDedupIndex connects to Redis and verifies the connection.
func NewRedisDedupIndex(addr, password string, db int, logger *zap.SugaredLogger) (*RedisDedupIndex, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisDedupIndex{client: client, logger: logger}, nil
}

func dedupKey(fingerprint string) string {
	return "argus:dedup:" + fingerprint
}

// Lookup returns the alert ID recorded for the fingerprint, if any.
func (r *RedisDedupIndex) Lookup(ctx context.Context, fingerprint string) (string, bool, error) {
	alertID, err := r.client.Get(ctx, dedupKey(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return alertID, true, nil
}

// Store records the fingerprint for the dedup window.
func (r *RedisDedupIndex) Store(ctx context.Context, fingerprint, alertID string, ttl time.Duration) error {
	return r.client.Set(ctx, dedupKey(fingerprint), alertID, ttl).Err()
}

// Forget drops the fingerprint, e.g. when its alert reaches a terminal state
// and new triggers should open a fresh alert.
func (r *RedisDedupIndex) Forget(ctx context.Context, fingerprint string) error {
	return r.client.Del(ctx, dedupKey(fingerprint)).Err()
}

// Close releases the Redis connection.
func (r *RedisDedupIndex) Close() error {
	return r.client.Close()
}

// Package seen remembers which provider messages an account has finished with,
// so a re-run can skip them without touching the database.
package seen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache answers whether a message was already handled. A false answer is
// always safe: the store's unique key still prevents duplicates.
type Cache interface {
	Seen(ctx context.Context, accountID, providerMessageID string) bool
	Mark(ctx context.Context, accountID, providerMessageID string)
}

// Nop is a Cache that remembers nothing.
type Nop struct{}

func (Nop) Seen(context.Context, string, string) bool { return false }
func (Nop) Mark(context.Context, string, string)      {}

// Redis is a Cache backed by expiring Redis keys.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Options mirrors the connection settings in config.RedisConfig.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewClient opens a client and checks it with PING.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// NewRedis wraps rdb. Keys expire after ttl.
func NewRedis(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: rdb, ttl: ttl, logger: logger.With("component", "seen_cache")}
}

func key(accountID, providerMessageID string) string {
	return fmt.Sprintf("kharcha:seen:%s:%s", accountID, providerMessageID)
}

// Seen reports false when Redis is unreachable so processing falls through
// to the database.
func (r *Redis) Seen(ctx context.Context, accountID, providerMessageID string) bool {
	n, err := r.rdb.Exists(ctx, key(accountID, providerMessageID)).Result()
	if err != nil {
		r.logger.Warn("seen check failed, falling back to store",
			"account_id", accountID,
			"provider_message_id", providerMessageID,
			"error", err,
		)
		return false
	}
	return n == 1
}

// Mark records the message. Failures are logged and otherwise ignored.
func (r *Redis) Mark(ctx context.Context, accountID, providerMessageID string) {
	if _, err := r.rdb.SetNX(ctx, key(accountID, providerMessageID), 1, r.ttl).Result(); err != nil {
		r.logger.Warn("marking message seen failed",
			"account_id", accountID,
			"provider_message_id", providerMessageID,
			"error", err,
		)
	}
}

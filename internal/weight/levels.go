package weight

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LevelRepository reads levels written by the XP system.
type LevelRepository struct {
	pool *pgxpool.Pool
}

// NewLevelRepository creates a level repository.
func NewLevelRepository(pool *pgxpool.Pool) *LevelRepository {
	return &LevelRepository{pool: pool}
}

// Level returns the user's level in the guild, or 0 when no row exists.
func (r *LevelRepository) Level(ctx context.Context, guildID, userID string) (int, error) {
	const query = `SELECT level FROM user_xp WHERE user_id = $1 AND guild_id = $2`
	var level int
	err := r.pool.QueryRow(ctx, query, userID, guildID).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return level, nil
}

// CachedLevels caches another LevelSource in Redis.
type CachedLevels struct {
	next   LevelSource
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedLevels wraps next with a Redis cache of the given TTL.
func NewCachedLevels(next LevelSource, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedLevels {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedLevels{next: next, client: client, ttl: ttl, logger: logger}
}

// LevelCacheKey returns the Redis key caching a user's level.
func LevelCacheKey(guildID, userID string) string {
	return fmt.Sprintf("poll:level:%s:%s", guildID, userID)
}

// Level serves from cache and falls through to the wrapped source on miss or cache failure.
func (c *CachedLevels) Level(ctx context.Context, guildID, userID string) (int, error) {
	key := LevelCacheKey(guildID, userID)
	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			return n, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Debug("level cache read failed", zap.String("key", key), zap.Error(err))
	}

	level, err := c.next.Level(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}
	if err := c.client.Set(ctx, key, level, c.ttl).Err(); err != nil {
		c.logger.Debug("level cache write failed", zap.String("key", key), zap.Error(err))
	}
	return level, nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const redisSessionPrefix = "session:user:"

// Redis resolves sessions against a shared Redis instance, for
// deployments where the session table lives outside the process.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing go-redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// LookupUser maps a session id to a user id.
func (r *Redis) LookupUser(ctx context.Context, sessionID string) (int64, bool, error) {
	val, err := r.client.Get(ctx, redisSessionPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup session: %w", err)
	}

	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse session user id %q: %w", val, err)
	}
	return userID, true, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

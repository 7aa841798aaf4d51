package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Monadical-SAS/socketrouter/internal/transport"
)

// Redis key layout:
//
//	socket:conn:<id>      hash of record fields
//	socket:handle:<name>  handle -> record id
//	socket:by_ping        zset of ids scored by last ping (unix ms)
const (
	redisConnPrefix   = "socket:conn:"
	redisHandlePrefix = "socket:handle:"
	redisPingIndex    = "socket:by_ping"
)

// Redis is the Store for deployments where multiple dispatch processes
// share one registry.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing go-redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func connKey(id string) string {
	return redisConnPrefix + id
}

func handleKey(h transport.Handle) string {
	return redisHandlePrefix + string(h)
}

// Upsert creates or refreshes the record keyed by handle. SetNX on the
// handle key makes concurrent creates for the same handle converge on
// one record id.
func (r *Redis) Upsert(ctx context.Context, conn Connection) (Connection, bool, error) {
	id, err := r.client.Get(ctx, handleKey(conn.Handle)).Result()
	created := false
	if errors.Is(err, redis.Nil) {
		id = uuid.NewString()
		ok, err := r.client.SetNX(ctx, handleKey(conn.Handle), id, 0).Result()
		if err != nil {
			return Connection{}, false, fmt.Errorf("claim socket handle: %w", err)
		}
		if ok {
			created = true
		} else {
			// Lost the race; adopt the winner's record.
			id, err = r.client.Get(ctx, handleKey(conn.Handle)).Result()
			if err != nil {
				return Connection{}, false, fmt.Errorf("resolve socket handle: %w", err)
			}
		}
	} else if err != nil {
		return Connection{}, false, fmt.Errorf("lookup socket handle: %w", err)
	}

	fields := map[string]any{
		"handle":    string(conn.Handle),
		"user_id":   conn.UserID,
		"path":      conn.Path,
		"active":    boolField(conn.Active),
		"last_ping": conn.LastPing.UnixMilli(),
	}
	if conn.SessionID != "" {
		fields["session_id"] = conn.SessionID
	}
	if conn.UserIP != "" {
		fields["user_ip"] = conn.UserIP
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, connKey(id), fields)
	pipe.ZAdd(ctx, redisPingIndex, redis.Z{Score: float64(conn.LastPing.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return Connection{}, false, fmt.Errorf("write socket record: %w", err)
	}

	stored, ok, err := r.Get(ctx, id)
	if err != nil {
		return Connection{}, false, err
	}
	if !ok {
		return Connection{}, false, fmt.Errorf("socket record %s vanished during upsert", id)
	}
	return stored, created, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func recordFromHash(id string, h map[string]string) Connection {
	userID, _ := strconv.ParseInt(h["user_id"], 10, 64)
	pingMs, _ := strconv.ParseInt(h["last_ping"], 10, 64)
	return Connection{
		ID:        id,
		Handle:    transport.Handle(h["handle"]),
		UserID:    userID,
		SessionID: h["session_id"],
		Path:      h["path"],
		Active:    h["active"] == "1",
		LastPing:  time.UnixMilli(pingMs),
		UserIP:    h["user_ip"],
	}
}

// Get returns the record with the given ID.
func (r *Redis) Get(ctx context.Context, id string) (Connection, bool, error) {
	h, err := r.client.HGetAll(ctx, connKey(id)).Result()
	if err != nil {
		return Connection{}, false, fmt.Errorf("get socket record: %w", err)
	}
	if len(h) == 0 {
		return Connection{}, false, nil
	}
	return recordFromHash(id, h), true, nil
}

// GetByHandle returns the record addressing the given handle.
func (r *Redis) GetByHandle(ctx context.Context, handle transport.Handle) (Connection, bool, error) {
	id, err := r.client.Get(ctx, handleKey(handle)).Result()
	if errors.Is(err, redis.Nil) {
		return Connection{}, false, nil
	}
	if err != nil {
		return Connection{}, false, fmt.Errorf("lookup socket handle: %w", err)
	}
	return r.Get(ctx, id)
}

// Delete removes the record and its indexes. Idempotent.
func (r *Redis) Delete(ctx context.Context, id string) (bool, error) {
	conn, ok, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, connKey(id))
	pipe.Del(ctx, handleKey(conn.Handle))
	pipe.ZRem(ctx, redisPingIndex, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("delete socket record: %w", err)
	}
	return true, nil
}

// ids returns every record id in the registry.
func (r *Redis) ids(ctx context.Context) ([]string, error) {
	ids, err := r.client.ZRange(ctx, redisPingIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan socket index: %w", err)
	}
	return ids, nil
}

// List returns a snapshot of the records matching q.
func (r *Redis) List(ctx context.Context, q Query) ([]Connection, error) {
	ids, err := r.ids(ctx)
	if err != nil {
		return nil, err
	}

	var out []Connection
	for _, id := range ids {
		conn, ok, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok && q.matches(conn) {
			out = append(out, conn)
		}
	}
	return out, nil
}

// MarkPending flips active records matching q and returns the flipped
// set. The flips are batched into one pipeline so a concurrent sweep of
// the same scope does not double-ping.
func (r *Redis) MarkPending(ctx context.Context, q Query) ([]Connection, error) {
	q.ActiveOnly = true
	flipped, err := r.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(flipped) == 0 {
		return nil, nil
	}

	pipe := r.client.TxPipeline()
	for i := range flipped {
		flipped[i].Active = false
		pipe.HSet(ctx, connKey(flipped[i].ID), "active", "0")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("mark sockets pending: %w", err)
	}
	return flipped, nil
}

// PurgeInactive deletes pending records whose last ping predates the
// cutoff.
func (r *Redis) PurgeInactive(ctx context.Context, olderThan time.Time) (int, error) {
	cutoff := strconv.FormatInt(olderThan.UnixMilli()-1, 10)
	ids, err := r.client.ZRangeByScore(ctx, redisPingIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan stale sockets: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		conn, ok, err := r.Get(ctx, id)
		if err != nil {
			return deleted, err
		}
		if !ok || conn.Active {
			continue
		}
		removed, err := r.Delete(ctx, id)
		if err != nil {
			return deleted, err
		}
		if removed {
			deleted++
		}
	}
	return deleted, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

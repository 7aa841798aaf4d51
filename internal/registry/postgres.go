package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Monadical-SAS/socketrouter/internal/transport"
)

// Postgres is the durable Store, keyed by the unique handle column.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the sockets table if it does not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sockets (
			id         UUID PRIMARY KEY,
			handle     TEXT NOT NULL UNIQUE,
			user_id    BIGINT NOT NULL DEFAULT 0,
			session_id TEXT NOT NULL DEFAULT '',
			path       TEXT NOT NULL DEFAULT '',
			active     BOOLEAN NOT NULL DEFAULT FALSE,
			last_ping  TIMESTAMPTZ NOT NULL,
			user_ip    TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS sockets_user_path_idx ON sockets (user_id, path);
		CREATE INDEX IF NOT EXISTS sockets_last_ping_idx ON sockets (last_ping) WHERE NOT active;
	`)
	if err != nil {
		return fmt.Errorf("ensure sockets schema: %w", err)
	}
	return nil
}

const socketColumns = "id, handle, user_id, session_id, path, active, last_ping, user_ip"

func scanConnection(row pgx.Row) (Connection, error) {
	var c Connection
	var handle string
	err := row.Scan(&c.ID, &handle, &c.UserID, &c.SessionID, &c.Path, &c.Active, &c.LastPing, &c.UserIP)
	c.Handle = transport.Handle(handle)
	return c, err
}

// Upsert creates or refreshes the record keyed by handle. The conflict
// clause keeps the upsert a single atomic statement.
func (p *Postgres) Upsert(ctx context.Context, conn Connection) (Connection, bool, error) {
	row := p.db.QueryRow(ctx, `
		INSERT INTO sockets (`+socketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (handle) DO UPDATE SET
			user_id    = EXCLUDED.user_id,
			path       = EXCLUDED.path,
			active     = EXCLUDED.active,
			last_ping  = EXCLUDED.last_ping,
			session_id = CASE WHEN EXCLUDED.session_id = '' THEN sockets.session_id ELSE EXCLUDED.session_id END,
			user_ip    = CASE WHEN EXCLUDED.user_ip = '' THEN sockets.user_ip ELSE EXCLUDED.user_ip END
		RETURNING `+socketColumns+`, (xmax = 0) AS inserted`,
		uuid.NewString(), string(conn.Handle), conn.UserID, conn.SessionID,
		conn.Path, conn.Active, conn.LastPing, conn.UserIP,
	)

	var c Connection
	var handle string
	var inserted bool
	err := row.Scan(&c.ID, &handle, &c.UserID, &c.SessionID, &c.Path, &c.Active, &c.LastPing, &c.UserIP, &inserted)
	if err != nil {
		return Connection{}, false, fmt.Errorf("upsert socket: %w", err)
	}
	c.Handle = transport.Handle(handle)
	return c, inserted, nil
}

// Get returns the record with the given ID.
func (p *Postgres) Get(ctx context.Context, id string) (Connection, bool, error) {
	row := p.db.QueryRow(ctx, `SELECT `+socketColumns+` FROM sockets WHERE id = $1`, id)
	c, err := scanConnection(row)
	if err == pgx.ErrNoRows {
		return Connection{}, false, nil
	}
	if err != nil {
		return Connection{}, false, fmt.Errorf("get socket: %w", err)
	}
	return c, true, nil
}

// GetByHandle returns the record addressing the given handle.
func (p *Postgres) GetByHandle(ctx context.Context, h transport.Handle) (Connection, bool, error) {
	row := p.db.QueryRow(ctx, `SELECT `+socketColumns+` FROM sockets WHERE handle = $1`, string(h))
	c, err := scanConnection(row)
	if err == pgx.ErrNoRows {
		return Connection{}, false, nil
	}
	if err != nil {
		return Connection{}, false, fmt.Errorf("get socket by handle: %w", err)
	}
	return c, true, nil
}

// Delete removes the record. Idempotent.
func (p *Postgres) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM sockets WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete socket: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// whereClause builds the filter for a Query, starting placeholders at $1.
func whereClause(q Query) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.UserID != 0 {
		add("user_id = $%d", q.UserID)
	}
	if q.Path != "" {
		add("path = $%d", q.Path)
	}
	if q.ExcludeID != "" {
		add("id <> $%d", q.ExcludeID)
	}
	if q.ActiveOnly {
		conds = append(conds, "active")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns a snapshot of the records matching q.
func (p *Postgres) List(ctx context.Context, q Query) ([]Connection, error) {
	where, args := whereClause(q)
	rows, err := p.db.Query(ctx, `SELECT `+socketColumns+` FROM sockets`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list sockets: %w", err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan socket: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkPending flips active records matching q in a single UPDATE.
func (p *Postgres) MarkPending(ctx context.Context, q Query) ([]Connection, error) {
	q.ActiveOnly = true
	where, args := whereClause(q)

	rows, err := p.db.Query(ctx,
		`UPDATE sockets SET active = FALSE`+where+` RETURNING `+socketColumns, args...)
	if err != nil {
		return nil, fmt.Errorf("mark sockets pending: %w", err)
	}
	defer rows.Close()

	var flipped []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan socket: %w", err)
		}
		flipped = append(flipped, c)
	}
	return flipped, rows.Err()
}

// PurgeInactive deletes pending records older than the cutoff.
func (p *Postgres) PurgeInactive(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM sockets WHERE NOT active AND last_ping < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge inactive sockets: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op; the pool is owned by the caller.
func (p *Postgres) Close() error {
	return nil
}

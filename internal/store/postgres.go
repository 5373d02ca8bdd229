package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sana-health/procsync/internal/procedure"
)

// postgresSchema is safe to execute multiple times.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS procedures (
    id          BIGSERIAL PRIMARY KEY,
    guid        TEXT NOT NULL,
    title       TEXT NOT NULL,
    author      TEXT NOT NULL DEFAULT '',
    body        TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    modified_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_procedures_title_author ON procedures (title, author)`,
	`CREATE INDEX IF NOT EXISTS idx_procedures_guid ON procedures (guid)`,
	`CREATE INDEX IF NOT EXISTS idx_procedures_modified ON procedures (modified_at)`,
}

// Postgres is a Backend on a pgx connection pool, for nodes that share one
// procedure store. It implements KeyLocker with session advisory locks, so
// dedup decisions for one key are serialized across processes.
type Postgres struct {
	pool *pgxpool.Pool
	// locks holds the connections that own advisory locks; lock holders
	// never starve pool of the connections they need to write.
	locks *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	locks, err := pgxpool.NewWithConfig(ctx, cfg.Copy())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create lock pool: %w", err)
	}

	return &Postgres{pool: pool, locks: locks}, nil
}

// Close closes both pools.
func (p *Postgres) Close() error {
	p.locks.Close()
	p.pool.Close()
	return nil
}

// LockKey implements KeyLocker with pg_advisory_lock. The lock is owned by a
// connection held until the returned function is called.
func (p *Postgres) LockKey(ctx context.Context, key string) (func(), error) {
	conn, err := p.locks.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	return func() {
		ctx := context.Background()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			// Closing the session drops every lock it holds.
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}

// InitSchema implements Backend.InitSchema.
func (p *Postgres) InitSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
	}
	return nil
}

// Insert implements Backend.Insert.
func (p *Postgres) Insert(ctx context.Context, doc *procedure.Document) (int64, error) {
	const query = `INSERT INTO procedures (guid, title, author, body, created_at, modified_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`

	var id int64
	err := p.pool.QueryRow(ctx, query,
		doc.GUID, doc.Title, doc.Author, doc.Body, doc.CreatedAt, doc.ModifiedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert procedure: %w", err)
	}
	return id, nil
}

// Update implements Backend.Update.
func (p *Postgres) Update(ctx context.Context, id int64, doc *procedure.Document) (bool, error) {
	const query = `UPDATE procedures SET
    guid = COALESCE(NULLIF($1, ''), guid),
    author = $2,
    body = $3,
    modified_at = $4
WHERE id = $5`

	tag, err := p.pool.Exec(ctx, query, doc.GUID, doc.Author, doc.Body, doc.ModifiedAt, id)
	if err != nil {
		return false, fmt.Errorf("update procedure %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

const pgSelect = `SELECT id, guid, title, author, body, created_at, modified_at FROM procedures`

// Get implements Backend.Get.
func (p *Postgres) Get(ctx context.Context, id int64) (*procedure.Document, error) {
	return scanPostgresRow(p.pool.QueryRow(ctx, pgSelect+` WHERE id = $1`, id))
}

// GetByGUID implements Backend.GetByGUID.
func (p *Postgres) GetByGUID(ctx context.Context, guid string) (*procedure.Document, error) {
	return scanPostgresRow(p.pool.QueryRow(ctx, pgSelect+` WHERE guid = $1 ORDER BY id ASC LIMIT 1`, guid))
}

// FindFirst implements Backend.FindFirst.
func (p *Postgres) FindFirst(ctx context.Context, f Filter) (*procedure.Document, error) {
	query := pgSelect + ` WHERE title = $1`
	args := []any{f.Title}
	if f.Author != nil {
		query += ` AND author = $2`
		args = append(args, *f.Author)
	}
	query += ` ORDER BY id ASC LIMIT 1`
	return scanPostgresRow(p.pool.QueryRow(ctx, query, args...))
}

// List implements Backend.List.
func (p *Postgres) List(ctx context.Context, f ListFilter) ([]*procedure.Document, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !f.ModifiedSince.IsZero() {
		where = append(where, "modified_at >= "+arg(f.ModifiedSince))
	}

	query := pgSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY modified_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	defer rows.Close()

	var docs []*procedure.Document
	for rows.Next() {
		doc, err := scanPostgresRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedures: %w", err)
	}
	return docs, nil
}

// Delete implements Backend.Delete.
func (p *Postgres) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM procedures WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete procedure %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Clear implements Backend.Clear.
func (p *Postgres) Clear(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM procedures`)
	if err != nil {
		return 0, fmt.Errorf("clear procedures: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count implements Backend.Count.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM procedures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count procedures: %w", err)
	}
	return n, nil
}

func scanPostgresRow(row pgx.Row) (*procedure.Document, error) {
	var doc procedure.Document
	err := row.Scan(&doc.ID, &doc.GUID, &doc.Title, &doc.Author, &doc.Body, &doc.CreatedAt, &doc.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan procedure: %w", err)
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.ModifiedAt = doc.ModifiedAt.UTC()
	return &doc, nil
}

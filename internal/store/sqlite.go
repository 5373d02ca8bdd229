package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/sana-health/procsync/internal/procedure"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is the embedded Backend, the default for a device-local store.
// WAL mode lets readers proceed during writes.
type SQLite struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database file at path.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	db, err := store.OpenSQLite(".procsync/procedures.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func OpenSQLite(path string) (*SQLite, error) {
	path = strings.TrimPrefix(path, "file:")

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &SQLite{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (db *SQLite) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *SQLite) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *SQLite) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the procedures table and its indexes. Idempotent.
func (db *SQLite) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS procedures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guid TEXT NOT NULL,
		title TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		created_at TEXT NOT NULL,
		modified_at TEXT NOT NULL
	);

	-- Dedup lookups
	CREATE INDEX IF NOT EXISTS idx_procedures_title_author ON procedures(title, author);
	CREATE INDEX IF NOT EXISTS idx_procedures_guid ON procedures(guid);
	CREATE INDEX IF NOT EXISTS idx_procedures_modified ON procedures(modified_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Insert implements Backend.Insert.
func (db *SQLite) Insert(ctx context.Context, doc *procedure.Document) (int64, error) {
	query := `
	INSERT INTO procedures (guid, title, author, body, created_at, modified_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	res, err := db.conn.ExecContext(ctx, query,
		doc.GUID,
		doc.Title,
		doc.Author,
		doc.Body,
		doc.CreatedAt.UTC().Format(timeFormat),
		doc.ModifiedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert procedure: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return id, nil
}

// Update implements Backend.Update.
func (db *SQLite) Update(ctx context.Context, id int64, doc *procedure.Document) (bool, error) {
	query := `
	UPDATE procedures SET
		guid = COALESCE(NULLIF(?, ''), guid),
		author = ?,
		body = ?,
		modified_at = ?
	WHERE id = ?
	`

	res, err := db.conn.ExecContext(ctx, query,
		doc.GUID,
		doc.Author,
		doc.Body,
		doc.ModifiedAt.UTC().Format(timeFormat),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update procedure %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

const selectColumns = `SELECT id, guid, title, author, body, created_at, modified_at FROM procedures`

// Get implements Backend.Get.
func (db *SQLite) Get(ctx context.Context, id int64) (*procedure.Document, error) {
	row := db.conn.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	return scanSQLiteRow(row)
}

// GetByGUID implements Backend.GetByGUID.
func (db *SQLite) GetByGUID(ctx context.Context, guid string) (*procedure.Document, error) {
	row := db.conn.QueryRowContext(ctx, selectColumns+` WHERE guid = ? ORDER BY id ASC LIMIT 1`, guid)
	return scanSQLiteRow(row)
}

// FindFirst implements Backend.FindFirst.
//
// Matching uses bound parameters with '=', so quote and LIKE wildcard
// characters in titles only ever match themselves.
func (db *SQLite) FindFirst(ctx context.Context, f Filter) (*procedure.Document, error) {
	conditions := []string{"title = ?"}
	args := []interface{}{f.Title}

	if f.Author != nil {
		conditions = append(conditions, "author = ?")
		args = append(args, *f.Author)
	}

	query := selectColumns + ` WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY id ASC LIMIT 1`
	row := db.conn.QueryRowContext(ctx, query, args...)
	return scanSQLiteRow(row)
}

// List implements Backend.List.
func (db *SQLite) List(ctx context.Context, f ListFilter) ([]*procedure.Document, error) {
	var conditions []string
	var args []interface{}

	if !f.ModifiedSince.IsZero() {
		conditions = append(conditions, "modified_at >= ?")
		args = append(args, f.ModifiedSince.UTC().Format(timeFormat))
	}

	query := selectColumns
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY modified_at DESC, id DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list procedures: %w", err)
	}
	defer rows.Close()

	var docs []*procedure.Document
	for rows.Next() {
		doc, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating procedures: %w", err)
	}
	return docs, nil
}

// Delete implements Backend.Delete.
func (db *SQLite) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM procedures WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete procedure %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// Clear implements Backend.Clear.
func (db *SQLite) Clear(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM procedures`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear procedures: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// Count implements Backend.Count.
func (db *SQLite) Count(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM procedures").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count procedures: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSQLiteRow scans one procedure row; sql.ErrNoRows becomes ErrNotFound.
func scanSQLiteRow(row rowScanner) (*procedure.Document, error) {
	var doc procedure.Document
	var createdAt, modifiedAt string

	err := row.Scan(
		&doc.ID,
		&doc.GUID,
		&doc.Title,
		&doc.Author,
		&doc.Body,
		&createdAt,
		&modifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan procedure: %w", err)
	}

	if doc.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if doc.ModifiedAt, err = time.Parse(timeFormat, modifiedAt); err != nil {
		return nil, fmt.Errorf("failed to parse modified_at: %w", err)
	}
	return &doc, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresBackend keeps records in a single table
type PostgresBackend struct {
	db *sql.DB
}

// OpenPostgres connects with a lib/pq DSN and creates the table
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	b := NewPostgresBackend(db)
	if err := b.CreateTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackend uses an open database
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// CreateTables creates the records table
func (b *PostgresBackend) CreateTables(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS capscout_records (
		key VARCHAR(255) PRIMARY KEY,
		kind VARCHAR(32) NOT NULL,
		body BYTEA NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Put inserts a record; an existing key is left untouched
func (b *PostgresBackend) Put(ctx context.Context, key string, data []byte) error {
	query := `INSERT INTO capscout_records (key, kind, body) VALUES ($1, $2, $3) ON CONFLICT (key) DO NOTHING`
	res, err := b.db.ExecContext(ctx, query, key, string(KindOf(key)), data)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, key)
	}
	return nil
}

// Get reads a record body
func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT body FROM capscout_records WHERE key = $1`

	var data []byte
	err := b.db.QueryRowContext(ctx, query, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("select record: %w", err)
	}
	return data, nil
}

// List returns every key in insertion order
func (b *PostgresBackend) List(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM capscout_records ORDER BY created_at, key`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close closes the database connection
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteDSNParams configures WAL, a busy timeout and write-locking
// transactions using the modernc.org/sqlite query syntax.
const sqliteDSNParams = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

// SQLiteDB is a shared SQLite handle holding every bucket.
type SQLiteDB struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dbPath and ensures the schema.
func OpenSQLite(dbPath string) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas are applied by the driver to every pooled connection.
	dsn := dbPath + sqliteDSNParams
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteDB{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteDB) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS kv_records (
		bucket TEXT NOT NULL,
		key TEXT NOT NULL,
		value_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (bucket, key)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteDB) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SQLiteKV implements KV for one bucket of a SQLiteDB.
type SQLiteKV[T any] struct {
	db     *SQLiteDB
	bucket string
}

// NewSQLiteKV returns the KV stored under bucket.
func NewSQLiteKV[T any](db *SQLiteDB, bucket string) *SQLiteKV[T] {
	return &SQLiteKV[T]{db: db, bucket: bucket}
}

// Load returns every record in the bucket.
func (s *SQLiteKV[T]) Load(ctx context.Context) (map[string]T, error) {
	var records map[string]T
	err := withConflictRetry(ctx, "load "+s.bucket, func() error {
		var loadErr error
		records, loadErr = s.loadOnce(ctx)
		return loadErr
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *SQLiteKV[T]) loadOnce(ctx context.Context) (map[string]T, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT key, value_json FROM kv_records WHERE bucket = ?`, s.bucket)
	if err != nil {
		return nil, fmt.Errorf("query %s records: %w", s.bucket, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close kv rows", "bucket", s.bucket, "error", closeErr)
		}
	}()

	records := make(map[string]T)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan %s record: %w", s.bucket, err)
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			slog.Warn("malformed record, loading store as empty", "bucket", s.bucket, "key", key, "error", err)
			return make(map[string]T), nil
		}
		records[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s records: %w", s.bucket, err)
	}
	return records, nil
}

// ReplaceAll overwrites the bucket inside a single transaction.
func (s *SQLiteKV[T]) ReplaceAll(ctx context.Context, records map[string]T) error {
	encoded := make(map[string]string, len(records))
	for k, v := range records {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s record %q: %w", s.bucket, k, err)
		}
		encoded[k] = string(data)
	}

	return withConflictRetry(ctx, "replace "+s.bucket, func() error {
		return s.replaceOnce(ctx, encoded)
	})
}

func (s *SQLiteKV[T]) replaceOnce(ctx context.Context, encoded map[string]string) (err error) {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Debug("rollback failed", "bucket", s.bucket, "error", rbErr)
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM kv_records WHERE bucket = ?`, s.bucket); err != nil {
		return fmt.Errorf("clear %s: %w", s.bucket, err)
	}

	if len(encoded) > 0 {
		stmt, prepErr := tx.PrepareContext(ctx, `INSERT INTO kv_records (bucket, key, value_json, updated_at) VALUES (?, ?, ?, ?)`)
		if prepErr != nil {
			err = prepErr
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := time.Now().Unix()
		for k, v := range encoded {
			if _, err = stmt.ExecContext(ctx, s.bucket, k, v, now); err != nil {
				return fmt.Errorf("insert %s record %q: %w", s.bucket, k, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", s.bucket, err)
	}
	return nil
}

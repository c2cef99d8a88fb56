package kv

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	goerrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/errors"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStore keeps records of one bucket in the records table of a SQLite database.
// Several stores may share a database file, each with its own bucket.
type SQLiteStore struct {
	db     *sql.DB
	bucket string
}

func NewSQLiteStore(path, bucket string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create state directory")
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrap(err, "open state database")
	}
	db.SetMaxOpenConns(1)

	if err = runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, bucket: bucket}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.Wrap(err, "goose set dialect")
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return errors.Wrap(err, "goose up")
	}

	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	if s.db == nil {
		return false, ErrClosed
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM records WHERE bucket = ? AND key = ?`, s.bucket, key).Scan(&value)
	if err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrap(err, "read record")
	}

	if err = json.Unmarshal([]byte(value), dst); err != nil {
		return false, errors.Wrapf(err, "decode record %s", key)
	}
	return true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, v any) error {
	if s.db == nil {
		return ErrClosed
	}

	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode record %s", key)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO records (bucket, key, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.bucket, key, string(b), time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "write record")
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE bucket = ? AND key = ?`, s.bucket, key); err != nil {
		return errors.Wrap(err, "delete record")
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM records WHERE bucket = ? ORDER BY key`, s.bucket)
	if err != nil {
		return nil, errors.Wrap(err, "list records")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err = rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "scan record key")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

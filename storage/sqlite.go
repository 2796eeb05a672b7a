package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/glebarez/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
    key BLOB PRIMARY KEY,
    value BLOB NOT NULL
);`

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"

// SQLiteDB keeps the key space in a single table. Batches run inside one SQL
// transaction.
type SQLiteDB struct {
	db *sql.DB
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("storage: sqlite path required")
	}
	if strings.HasPrefix(trimmed, "file:") {
		return trimmed, nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("storage: resolve sqlite path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// NewSQLiteDB opens the database at path (a filesystem path or file: DSN).
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	dsn, err := FileDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// Single writer connection keeps batch transactions from contending.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite get: %w", err)
	}
	return value, nil
}

func (s *SQLiteDB) Has(key []byte) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteDB) Put(key []byte, value []byte) error {
	_, err := s.db.Exec(upsertKV, key, value)
	if err != nil {
		return fmt.Errorf("storage: sqlite put: %w", err)
	}
	return nil
}

func (s *SQLiteDB) Delete(key []byte) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage: sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLiteDB) NewBatch() Batch {
	return &opBatch{apply: s.applyBatch}
}

func (s *SQLiteDB) applyBatch(ops []batchOp) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("storage: sqlite begin: %w", err)
	}
	for _, op := range ops {
		if op.delete {
			_, err = tx.Exec(`DELETE FROM kv WHERE key = ?`, op.key)
		} else {
			_, err = tx.Exec(upsertKV, op.key, op.value)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("storage: sqlite batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: sqlite commit: %w", err)
	}
	return nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

const upsertKV = `INSERT INTO kv(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`

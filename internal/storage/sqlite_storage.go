package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apperrors "pos-offline-sync/internal/errors"
	"pos-offline-sync/internal/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (collection, key)
);`

// SQLiteStore keeps all collections in a single kv table.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLiteStore opens (or creates) the database file at dataDir/pos-sync.db.
// The pure-Go driver needs no CGO, which matters on POS hardware images.
func OpenSQLiteStore(dataDir string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperrors.Storage("create data directory", err)
	}
	return OpenSQLiteFile(filepath.Join(dataDir, "pos-sync.db"), logger)
}

// OpenSQLiteFile opens the database at path
func OpenSQLiteFile(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Storage("open database", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, apperrors.Storage("configure database", fmt.Errorf("%s: %w", pragma, err))
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, apperrors.Storage("migrate database", err)
	}

	s := &SQLiteStore{db: db, path: path, logger: utils.OrDefault(logger)}
	s.logger.Info("SQLite store opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) Put(collection, key string, value []byte) error {
	if err := validateName("put", collection, key, true); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO kv (collection, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		collection, key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return apperrors.Storage("put "+collection, err)
	}
	return nil
}

func (s *SQLiteStore) Get(collection, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE collection = ? AND key = ?`, collection, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.Storage("get "+collection, err)
	}
	return value, nil
}

func (s *SQLiteStore) GetAll(collection string) ([]Entry, error) {
	rows, err := s.db.Query(`SELECT key, value FROM kv WHERE collection = ? ORDER BY key`, collection)
	if err != nil {
		return nil, apperrors.Storage("get all "+collection, err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, apperrors.Storage("scan "+collection, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("get all "+collection, err)
	}
	return entries, nil
}

func (s *SQLiteStore) Delete(collection, key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE collection = ? AND key = ?`, collection, key); err != nil {
		return apperrors.Storage("delete "+collection, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(collection string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE collection = ?`, collection); err != nil {
		return apperrors.Storage("clear "+collection, err)
	}
	return nil
}

// Replace deletes and rewrites the collection inside one transaction
func (s *SQLiteStore) Replace(collection string, entries map[string][]byte) (err error) {
	if err := validateName("replace", collection, "", false); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Storage("replace "+collection, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM kv WHERE collection = ?`, collection); err != nil {
		return apperrors.Storage("replace "+collection, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO kv (collection, key, value, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return apperrors.Storage("replace "+collection, err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for k, v := range entries {
		if _, err = stmt.Exec(collection, k, v, now); err != nil {
			return apperrors.Storage("replace "+collection+"/"+k, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.Storage("replace "+collection, err)
	}
	return nil
}

func (s *SQLiteStore) Count(collection string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM kv WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, apperrors.Storage("count "+collection, err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	s.logger.Info("Closing SQLite store", "path", s.path)
	return s.db.Close()
}

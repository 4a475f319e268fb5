package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"lexitrend-go/apperr"
	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore is a Store backed by a single SQLite table.
type SQLiteStore struct {
	mu         sync.RWMutex
	db         *sql.DB
	dbPath  string
	backups backupDir
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath, backupPath string) (*SQLiteStore, error) {
	s := &SQLiteStore{dbPath: dbPath, backups: backupDir{dir: backupPath, ext: ".sqlite"}}
	if err := prepareDirs(dbPath, s.backups); err != nil {
		return nil, err
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	log.Infof("%s SQLite store initialized at %s", logcolors.LogCacheSQLite, dbPath)
	return s, nil
}

func (s *SQLiteStore) open() error {
	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open cache db: %w", err)
	}
	// one writer keeps SQLITE_BUSY out of concurrent Sets
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createEntriesTable); err != nil {
		db.Close()
		return fmt.Errorf("migrate cache db: %w", err)
	}
	s.db = db
	return nil
}

func storageErr(op string, err error) error {
	return apperr.Storage(err.Error(), apperr.WithOperation(op), apperr.WithCause(err))
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cache_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("get", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return storageErr("set", err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return storageErr("remove", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return storageErr("clear", err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// Backup writes a consistent snapshot with VACUUM INTO.
func (s *SQLiteStore) Backup() (string, error) {
	path, err := s.backups.next()
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	quoted := strings.ReplaceAll(path, "'", "''")
	if _, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return "", fmt.Errorf("vacuum into backup: %w", err)
	}
	log.Infof("%s Backup written to %s", logcolors.LogCacheBackup, path)
	return path, nil
}

func (s *SQLiteStore) ListBackups() ([]BackupInfo, error) {
	return s.backups.list()
}

func (s *SQLiteStore) RestoreFromBackup(fileName string) error {
	path, err := s.backups.resolve(fileName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database before restore: %w", err)
	}
	swapErr := replaceFile(s.dbPath, path)
	if err := s.open(); err != nil {
		return fmt.Errorf("reopen database after restore: %w", err)
	}
	if swapErr != nil {
		return fmt.Errorf("restore %s: %w", fileName, swapErr)
	}
	log.Infof("%s Restored from %s", logcolors.LogCacheRestore, fileName)
	return nil
}

func (s *SQLiteStore) DeleteBackup(fileName string) error {
	return s.backups.remove(fileName)
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

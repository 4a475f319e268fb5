package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"lexitrend-go/apperr"
	"lexitrend-go/logcolors"
	"lexitrend-go/utils"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// DefaultBucket is the bucket insight entries live in.
const DefaultBucket = "lexitrend-cache"

// openTimeout bounds the wait for the file lock held by another process.
const openTimeout = 2 * time.Second

// record is the on-disk form of a value (base64 gzip when compression is on)
type record struct {
	Value string `json:"value"`
}

// BoltStore wraps BoltDB with an in-memory mirror for fast reads
type BoltStore struct {
	mu                 sync.RWMutex
	db                 *bolt.DB
	memCache           sync.Map
	bucket             []byte
	dbPath             string
	backups            backupDir
	compressionEnabled bool
}

// BoltOptions configures a BoltStore.
type BoltOptions struct {
	Path        string
	BackupPath  string
	Bucket      string
	Compression bool
}

// NewBoltStore opens (or creates) the database at opts.Path and preloads
// every entry into memory.
func NewBoltStore(opts BoltOptions) (*BoltStore, error) {
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	backups := backupDir{dir: opts.BackupPath, ext: ".db"}
	if err := prepareDirs(opts.Path, backups); err != nil {
		return nil, err
	}

	if info, err := os.Stat(opts.Path); err == nil {
		log.Infof("%s Found existing database file at: %s (size: %d bytes)", logcolors.LogCacheInit, opts.Path, info.Size())
	} else {
		log.Infof("%s Creating new database file at: %s", logcolors.LogCacheInit, opts.Path)
	}

	s := &BoltStore{
		bucket:             []byte(opts.Bucket),
		dbPath:             opts.Path,
		backups:            backups,
		compressionEnabled: opts.Compression,
	}
	if err := s.open(); err != nil {
		return nil, err
	}

	log.Infof("%s Bolt store initialized at %s (bucket: %s, compression: %v)", logcolors.LogCache, opts.Path, opts.Bucket, opts.Compression)
	return s, nil
}

func (s *BoltStore) open() error {
	db, err := bolt.Open(s.dbPath, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create cache bucket: %w", err)
	}
	s.db = db

	if err := s.loadToMemory(); err != nil {
		log.Warnf("%s Failed to preload cache to memory: %v", logcolors.LogCache, err)
	}
	return nil
}

// loadToMemory replaces the memory mirror with the bucket's contents
func (s *BoltStore) loadToMemory() error {
	s.memCache.Range(func(k, _ any) bool {
		s.memCache.Delete(k)
		return true
	})

	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				log.Warnf("%s Failed to unmarshal entry for key %s: %v", logcolors.LogCache, string(k), err)
				return nil
			}
			s.memCache.Store(string(k), rec)
			count++
			return nil
		})
	})
	if err != nil {
		return err
	}

	log.Infof("%s Loaded %d entries from disk to memory", logcolors.LogCache, count)
	return nil
}

// errCorrupt marks a stored record that cannot be decoded. Get reports such
// records as misses and drops them.
var errCorrupt = errors.New("corrupted cache record")

func (s *BoltStore) decode(rec record) ([]byte, error) {
	if !s.compressionEnabled {
		return []byte(rec.Value), nil
	}
	decompressed, err := utils.DecompressString(rec.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return []byte(decompressed), nil
}

// parse decodes a raw bucket value into its record and payload.
func (s *BoltStore) parse(data []byte) (record, []byte, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	value, err := s.decode(rec)
	return rec, value, err
}

// Get checks memory first, then disk. A corrupted record is a miss.
func (s *BoltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if v, ok := s.memCache.Load(key); ok {
		value, err := s.decode(v.(record))
		if err != nil {
			s.discard(key, err)
			return nil, false, nil
		}
		return value, true, nil
	}

	value, found, err := s.readDisk(key)
	if errors.Is(err, errCorrupt) {
		s.discard(key, err)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Storage(err.Error(), apperr.WithOperation("get"), apperr.WithCause(err))
	}
	return value, found, nil
}

// readDisk loads key from the bucket and mirrors it in memory.
func (s *BoltStore) readDisk(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		if v := b.Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, false, err
	}

	rec, value, err := s.parse(data)
	if err != nil {
		return nil, false, err
	}
	s.memCache.Store(key, rec)
	return value, true, nil
}

// discard drops a corrupted record from the mirror and the bucket, unless a
// valid value was written in the meantime.
func (s *BoltStore) discard(key string, cause error) {
	log.Warnf("%s Dropping corrupted entry %s: %v", logcolors.LogCache, logcolors.Term(key), cause)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			if rec, _, err := s.parse(v); err == nil {
				s.memCache.Store(key, rec)
				return nil
			}
		}
		s.memCache.Delete(key)
		if v == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		log.Warnf("%s Failed to drop corrupted entry %s: %v", logcolors.LogCache, key, err)
	}
}

// Set writes to disk, then to the memory mirror. Mutations hold the write
// lock so the mirror never disagrees with the bucket.
func (s *BoltStore) Set(_ context.Context, key string, value []byte) error {
	rec := record{Value: string(value)}
	if s.compressionEnabled {
		compressed, err := utils.CompressString(string(value))
		if err != nil {
			return apperr.Storage(fmt.Sprintf("compress %s: %v", key, err),
				apperr.WithOperation("set"), apperr.WithCause(err))
		}
		rec.Value = compressed
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return apperr.Storage(err.Error(), apperr.WithOperation("set"), apperr.WithCause(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return apperr.Storage(err.Error(), apperr.WithOperation("set"), apperr.WithCause(err))
	}
	s.memCache.Store(key, rec)
	return nil
}

// Remove deletes a key. Removing a missing key is not an error.
func (s *BoltStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return apperr.Storage(err.Error(), apperr.WithOperation("remove"), apperr.WithCause(err))
	}
	s.memCache.Delete(key)
	return nil
}

// Clear removes all entries
func (s *BoltStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
	if err != nil {
		return apperr.Storage(err.Error(), apperr.WithOperation("clear"), apperr.WithCause(err))
	}
	s.memCache.Range(func(k, _ any) bool {
		s.memCache.Delete(k)
		return true
	})
	return nil
}

// Count returns the number of keys on disk.
func (s *BoltStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		n = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, apperr.Storage(err.Error(), apperr.WithOperation("count"), apperr.WithCause(err))
	}
	return n, nil
}

// Stats returns the number of keys and approximate size of the memory mirror
func (s *BoltStore) Stats() (numKeys int, sizeInKB int) {
	s.memCache.Range(func(k, v any) bool {
		numKeys++
		sizeInKB += len(k.(string)) + len(v.(record).Value)
		return true
	})
	sizeInKB = sizeInKB / 1024
	return
}

// Backup copies the database to the backup directory while it stays open.
func (s *BoltStore) Backup() (string, error) {
	path, err := s.backups.next()
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(path, 0600)
	}); err != nil {
		return "", fmt.Errorf("copy database file: %w", err)
	}
	log.Infof("%s Backup written to %s", logcolors.LogCacheBackup, path)
	return path, nil
}

func (s *BoltStore) ListBackups() ([]BackupInfo, error) {
	return s.backups.list()
}

// RestoreFromBackup closes the database, swaps in the backup file, reopens
// it and reloads the memory mirror. The database is reopened even when the
// swap fails.
func (s *BoltStore) RestoreFromBackup(fileName string) error {
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

func (s *BoltStore) DeleteBackup(fileName string) error {
	return s.backups.remove(fileName)
}

// Close closes the database connection
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

package cache

import (
	"fmt"

	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// Backend names accepted by Open.
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// OpenOptions selects and configures a Store backend.
type OpenOptions struct {
	Backend     string
	Path        string
	BackupPath  string
	Bucket      string
	Compression bool
	// MemoryFallback returns a MemoryStore instead of an error when the
	// durable backend cannot be opened.
	MemoryFallback bool
}

// Open creates the configured Store.
func Open(opts OpenOptions) (Store, error) {
	var (
		store Store
		err   error
	)
	switch opts.Backend {
	case "", BackendBolt:
		store, err = NewBoltStore(BoltOptions{
			Path:        opts.Path,
			BackupPath:  opts.BackupPath,
			Bucket:      opts.Bucket,
			Compression: opts.Compression,
		})
	case BackendSQLite:
		store, err = NewSQLiteStore(opts.Path, opts.BackupPath)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}

	if err != nil {
		if opts.MemoryFallback {
			log.Warnf("%s %s store unavailable, using memory fallback: %v", logcolors.LogWarning, opts.Backend, err)
			return NewMemoryStore(), nil
		}
		return nil, err
	}
	return store, nil
}

// Package cache holds the durable key/value stores and the typed cache
// service built on them.
package cache

import (
	"context"
	"time"
)

// Store is a durable key/value store. A Get right after a Set on the same
// key returns the value just written; Count is the number of distinct keys.
// Failures are storage-kind errors.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Backupper is implemented by stores that can snapshot their backing file.
type Backupper interface {
	Backup() (string, error)
	ListBackups() ([]BackupInfo, error)
	RestoreFromBackup(fileName string) error
	DeleteBackup(fileName string) error
}

// BackupInfo contains metadata about a backup file
type BackupInfo struct {
	FileName  string    `json:"fileName"`
	FilePath  string    `json:"filePath"`
	Size      int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

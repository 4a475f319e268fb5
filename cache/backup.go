package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
)

var errBackupsDisabled = errors.New("backups are not configured")

// backupDir holds the snapshots of one store. Files are named
// cache_backup_<timestamp><ext>.
type backupDir struct {
	dir string
	ext string
}

func (b backupDir) enabled() bool { return b.dir != "" }

// next returns the path for a new snapshot.
func (b backupDir) next() (string, error) {
	if !b.enabled() {
		return "", errBackupsDisabled
	}
	name := "cache_backup_" + time.Now().Format("2006-01-02_15-04-05.000") + b.ext
	return filepath.Join(b.dir, name), nil
}

// list returns the snapshots, newest first.
func (b backupDir) list() ([]BackupInfo, error) {
	if !b.enabled() {
		return nil, nil
	}
	entries, err := os.ReadDir(b.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var out []BackupInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), b.ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			log.Warnf("%s Skipping %s: %v", logcolors.LogCacheBackups, e.Name(), err)
			continue
		}
		out = append(out, BackupInfo{
			FileName:  e.Name(),
			FilePath:  filepath.Join(b.dir, e.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// resolve maps a bare file name to its path. Names with a directory part
// or the wrong extension are rejected.
func (b backupDir) resolve(name string) (string, error) {
	if !b.enabled() {
		return "", errBackupsDisabled
	}
	if name == "" || filepath.Base(name) != name || filepath.Ext(name) != b.ext {
		return "", fmt.Errorf("invalid backup file %q: expected a %s file name", name, b.ext)
	}
	path := filepath.Join(b.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("backup file not found: %s", name)
	}
	return path, nil
}

func (b backupDir) remove(name string) error {
	path, err := b.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	log.Infof("%s Deleted %s", logcolors.LogCacheBackup, name)
	return nil
}

// replaceFile copies src next to dst and renames it over dst, so dst is
// either fully old or fully new.
func replaceFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".restore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// prepareDirs creates the parent of dbPath and the backup directory.
func prepareDirs(dbPath string, backups backupDir) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if backups.enabled() {
		if err := os.MkdirAll(backups.dir, 0755); err != nil {
			return fmt.Errorf("create backup directory: %w", err)
		}
	}
	return nil
}

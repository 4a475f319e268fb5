package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
)

func (a *app) cacheStorage(r *http.Request) CacheStorage {
	storage := CacheStorage{Backend: a.conf.Configuration.CacheBackend}
	if n, err := a.cache.Size(r.Context()); err == nil {
		storage.NumberOfKeys = n
	}
	if sized, ok := a.store.(interface{ Stats() (int, int) }); ok {
		_, kb := sized.Stats()
		storage.SizeInKB = kb
		storage.SizeInMB = float64(kb) / 1024
	}
	return storage
}

func (a *app) getCacheDump(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}

	resp := CacheDumpResponse{
		Storage: a.cacheStorage(r),
		Performance: CachePerformance{
			Hits:      a.stats.CacheHits.Load(),
			Misses:    a.stats.CacheMisses.Load(),
			Coalesced: a.stats.CoalescedRequests.Load(),
			HitRate:   a.stats.CacheHitRate(),
		},
		InFlight: a.coordinator.Pending(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": msg})
}

func (a *app) backupCache(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	b, ok := a.backupper()
	if !ok {
		writeJSONError(w, http.StatusNotImplemented, "The cache backend does not support backups")
		return
	}

	backupPath, err := b.Backup()
	if err != nil {
		log.Errorf("%s Failed to create backup: %v", logcolors.LogCacheBackup, err)
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create backup: %v", err))
		return
	}

	log.Infof("%s Backup created successfully at: %s", logcolors.LogCacheBackup, backupPath)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":     "Backup created successfully",
		"backup_path": backupPath,
	})
}

func (a *app) listBackups(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	b, ok := a.backupper()
	if !ok {
		writeJSONError(w, http.StatusNotImplemented, "The cache backend does not support backups")
		return
	}

	backups, err := b.ListBackups()
	if err != nil {
		log.Errorf("%s Failed to list backups: %v", logcolors.LogCacheBackups, err)
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list backups: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BackupsResponse{Backups: backups, Count: len(backups)})
}

func (a *app) restoreCache(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	b, ok := a.backupper()
	if !ok {
		writeJSONError(w, http.StatusNotImplemented, "The cache backend does not support backups")
		return
	}

	backupFileName := r.URL.Query().Get("backup")
	if backupFileName == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing 'backup' query parameter. Use /cache/backups to list available backups.")
		return
	}

	if err := b.RestoreFromBackup(backupFileName); err != nil {
		log.Errorf("%s Failed to restore from backup %s: %v", logcolors.LogCacheRestore, backupFileName, err)
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to restore from backup: %v", err))
		return
	}

	size, _ := a.cache.Size(r.Context())
	log.Infof("%s Cache restored from backup: %s", logcolors.LogCacheRestore, backupFileName)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":       "Cache restored successfully",
		"restored_from": backupFileName,
		"keys_restored": size,
	})
}

// clearCache backs the cache up (when the backend can) and then empties it
func (a *app) clearCache(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := map[string]interface{}{"message": "Cache cleared successfully"}
	if b, ok := a.backupper(); ok {
		backupPath, err := b.Backup()
		if err != nil {
			log.Errorf("%s Backup before clear failed: %v", logcolors.LogCacheClear, err)
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to back up cache before clearing: %v", err))
			return
		}
		resp["backup_path"] = backupPath
	}

	if err := a.cache.Clear(r.Context()); err != nil {
		Respond(w, r).Fail(err)
		return
	}

	log.Infof("%s Cache cleared", logcolors.LogCacheClear)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (a *app) removeCacheKey(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing 'key' query parameter")
		return
	}
	if err := a.cache.Remove(r.Context(), key); err != nil {
		Respond(w, r).Fail(err)
		return
	}

	log.Infof("%s Removed key %s", logcolors.LogCache, key)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Key removed",
		"key":     key,
	})
}

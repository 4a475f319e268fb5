package stats

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	s := New()
	for _, ep := range []string{"/analyze", "/analyze/enhanced", "/message", "/cache", "/stats", "/health", "/nope"} {
		s.RecordRequest(ep)
	}

	if got := s.TotalRequests.Load(); got != 7 {
		t.Errorf("Expected 7 total requests, got %d", got)
	}
	counters := map[string]int64{
		"analyze":  s.AnalyzeRequests.Load(),
		"enhanced": s.EnhancedRequests.Load(),
		"message":  s.MessageRequests.Load(),
		"other":    s.OtherRequests.Load(),
	}
	for name, got := range counters {
		if got != 1 {
			t.Errorf("Expected 1 %s request, got %d", name, got)
		}
	}
}

func TestCacheHitRate(t *testing.T) {
	s := New()
	if s.CacheHitRate() != 0 {
		t.Errorf("Expected 0 hit rate with no traffic, got %f", s.CacheHitRate())
	}
	s.RecordCacheHit()
	s.RecordCacheHit()
	s.RecordCacheHit()
	s.RecordCacheMiss()
	if s.CacheHitRate() != 75 {
		t.Errorf("Expected 75%% hit rate, got %f", s.CacheHitRate())
	}
}

func TestEngineCounters(t *testing.T) {
	s := New()
	s.RecordGeneration(false)
	s.RecordGeneration(true)
	s.RecordGeneration(true)
	s.RecordSearch(true)
	s.RecordSearch(false)
	s.RecordError("api")
	s.RecordError("api")
	s.RecordError("validation")

	if s.BasicGenerations.Load() != 1 || s.EnhancedGenerations.Load() != 2 {
		t.Errorf("Unexpected generation counts: %d/%d", s.BasicGenerations.Load(), s.EnhancedGenerations.Load())
	}
	if s.Searches.Load() != 2 || s.SearchFailures.Load() != 1 {
		t.Errorf("Unexpected search counts: %d/%d", s.Searches.Load(), s.SearchFailures.Load())
	}
	errs := s.ErrorCounts()
	if errs["api"] != 2 || errs["validation"] != 1 {
		t.Errorf("Unexpected error counts: %v", errs)
	}
}

func TestResponseTimes(t *testing.T) {
	s := New()
	if s.MinResponseTime() != 0 {
		t.Errorf("Expected 0 min before any response, got %v", s.MinResponseTime())
	}

	s.RecordResponseTime(10*time.Millisecond, "/analyze")
	s.RecordResponseTime(30*time.Millisecond, "/health")

	if s.MinResponseTime() != 10*time.Millisecond {
		t.Errorf("Expected min 10ms, got %v", s.MinResponseTime())
	}
	if s.MaxResponseTime() != 30*time.Millisecond {
		t.Errorf("Expected max 30ms, got %v", s.MaxResponseTime())
	}
	if s.AvgResponseTime() != 20*time.Millisecond {
		t.Errorf("Expected avg 20ms, got %v", s.AvgResponseTime())
	}
	if s.AvgAnalyzeResponseTime() != 10*time.Millisecond {
		t.Errorf("Expected analyze avg 10ms, got %v", s.AvgAnalyzeResponseTime())
	}
}

func TestStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")

	s := New()
	s.RecordRequest("/analyze")
	s.RecordCacheHit()
	s.RecordCoalesced()
	s.RecordStructureFallback()
	s.RecordError("network")
	s.RecordResponseTime(5*time.Millisecond, "/analyze")

	store, err := NewStore(path, s)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	loaded := New()
	store, err = NewStore(path, loaded)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer store.Close()
	if err := store.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.AnalyzeRequests.Load() != 1 || loaded.CacheHits.Load() != 1 || loaded.CoalescedRequests.Load() != 1 {
		t.Error("Expected counters to survive a restart")
	}
	if loaded.StructureFallbacks.Load() != 1 {
		t.Errorf("Expected 1 structure fallback, got %d", loaded.StructureFallbacks.Load())
	}
	if loaded.ErrorCounts()["network"] != 1 {
		t.Errorf("Expected network error count to persist, got %v", loaded.ErrorCounts())
	}
	if loaded.MinResponseTime() != 5*time.Millisecond {
		t.Errorf("Expected min 5ms after load, got %v", loaded.MinResponseTime())
	}
	if !loaded.StartTime.Equal(s.StartTime) {
		t.Errorf("Expected first start time to persist")
	}
}

func TestSnapshotShape(t *testing.T) {
	snap := New().Snapshot()
	for _, section := range []string{"server", "requests", "cache", "engine", "errors", "rate_limiting", "responses", "response_times"} {
		if _, ok := snap[section]; !ok {
			t.Errorf("Expected snapshot section %q", section)
		}
	}
}

func TestRecordStatusCode(t *testing.T) {
	s := New()
	for _, code := range []int{200, 204, 301, 404, 429, 500, 503} {
		s.RecordStatusCode(code)
	}
	if s.Status2xx.Load() != 2 || s.Status4xx.Load() != 2 || s.Status5xx.Load() != 2 {
		t.Errorf("Unexpected buckets: 2xx=%d 4xx=%d 5xx=%d", s.Status2xx.Load(), s.Status4xx.Load(), s.Status5xx.Load())
	}
}

func TestSnapshotSections(t *testing.T) {
	s := New()
	s.RecordRequest("/analyze/enhanced")
	s.RecordCacheMiss()
	s.RecordSearchFallback()

	snap := s.Snapshot()
	requests := snap["requests"].(map[string]interface{})
	if requests["enhanced"] != int64(1) || requests["total"] != int64(1) {
		t.Errorf("Unexpected request section: %v", requests)
	}
	engine := snap["engine"].(map[string]interface{})
	if engine["search_fallbacks"] != int64(1) {
		t.Errorf("Unexpected engine section: %v", engine)
	}
	cache := snap["cache"].(map[string]interface{})
	if cache["misses"] != int64(1) || cache["hit_rate"] != float64(0) {
		t.Errorf("Unexpected cache section: %v", cache)
	}
}

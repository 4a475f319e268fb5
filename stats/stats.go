// Package stats keeps process-wide counters for the server and the engine.
package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// latency accumulates response durations in microseconds.
type latency struct {
	total atomic.Int64
	count atomic.Int64
	min   atomic.Int64 // 0 until the first observation
	max   atomic.Int64
}

type latencyState struct {
	Total int64 `json:"total_us"`
	Count int64 `json:"count"`
	Min   int64 `json:"min_us"`
	Max   int64 `json:"max_us"`
}

func (l *latency) observe(d time.Duration) {
	us := d.Microseconds()
	if us < 1 {
		us = 1
	}
	l.total.Add(us)
	l.count.Add(1)
	for {
		cur := l.min.Load()
		if (cur != 0 && us >= cur) || l.min.CompareAndSwap(cur, us) {
			break
		}
	}
	for {
		cur := l.max.Load()
		if us <= cur || l.max.CompareAndSwap(cur, us) {
			break
		}
	}
}

func (l *latency) avg() time.Duration {
	n := l.count.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(l.total.Load()/n) * time.Microsecond
}

func (l *latency) state() latencyState {
	return latencyState{Total: l.total.Load(), Count: l.count.Load(), Min: l.min.Load(), Max: l.max.Load()}
}

func (l *latency) restore(st latencyState) {
	l.total.Store(st.Total)
	l.count.Store(st.Count)
	l.min.Store(st.Min)
	l.max.Store(st.Max)
}

// Stats holds server and engine statistics with atomic counters
type Stats struct {
	StartTime time.Time

	TotalRequests    atomic.Int64
	AnalyzeRequests  atomic.Int64
	EnhancedRequests atomic.Int64
	MessageRequests  atomic.Int64
	CacheRequests    atomic.Int64
	StatsRequests    atomic.Int64
	HealthRequests   atomic.Int64
	OtherRequests    atomic.Int64

	CacheHits   atomic.Int64
	CacheMisses atomic.Int64

	CoalescedRequests   atomic.Int64 // callers that joined an in-flight job
	BasicGenerations    atomic.Int64
	EnhancedGenerations atomic.Int64
	Searches            atomic.Int64
	SearchFailures      atomic.Int64
	StructureFallbacks  atomic.Int64 // structured call failed, text parser used
	SearchFallbacks     atomic.Int64 // search unavailable, basic analysis used
	CircuitTrips        atomic.Int64

	RateLimitAllowed  atomic.Int64
	RateLimitExceeded atomic.Int64

	Status2xx atomic.Int64
	Status4xx atomic.Int64
	Status5xx atomic.Int64

	errorsByKind sync.Map // kind -> *atomic.Int64

	all      latency
	analysis latency // /analyze and /analyze/enhanced
}

// New creates an empty Stats starting now.
func New() *Stats {
	return &Stats{StartTime: time.Now()}
}

var global = New()

// Get returns the process-wide instance used by the HTTP layer.
func Get() *Stats {
	return global
}

// counters names every cumulative counter. The names are the persisted keys.
func (s *Stats) counters() map[string]*atomic.Int64 {
	return map[string]*atomic.Int64{
		"requests.total":              &s.TotalRequests,
		"requests.analyze":            &s.AnalyzeRequests,
		"requests.enhanced":           &s.EnhancedRequests,
		"requests.message":            &s.MessageRequests,
		"requests.cache":              &s.CacheRequests,
		"requests.stats":              &s.StatsRequests,
		"requests.health":             &s.HealthRequests,
		"requests.other":              &s.OtherRequests,
		"cache.hits":                  &s.CacheHits,
		"cache.misses":                &s.CacheMisses,
		"engine.coalesced":            &s.CoalescedRequests,
		"engine.basic_generations":    &s.BasicGenerations,
		"engine.enhanced_generations": &s.EnhancedGenerations,
		"engine.searches":             &s.Searches,
		"engine.search_failures":      &s.SearchFailures,
		"engine.structure_fallbacks":  &s.StructureFallbacks,
		"engine.search_fallbacks":     &s.SearchFallbacks,
		"engine.circuit_trips":        &s.CircuitTrips,
		"ratelimit.allowed":           &s.RateLimitAllowed,
		"ratelimit.exceeded":          &s.RateLimitExceeded,
		"status.2xx":                  &s.Status2xx,
		"status.4xx":                  &s.Status4xx,
		"status.5xx":                  &s.Status5xx,
	}
}

func (s *Stats) endpointCounter(path string) *atomic.Int64 {
	switch path {
	case "/analyze":
		return &s.AnalyzeRequests
	case "/analyze/enhanced":
		return &s.EnhancedRequests
	case "/message":
		return &s.MessageRequests
	case "/cache":
		return &s.CacheRequests
	case "/stats":
		return &s.StatsRequests
	case "/health":
		return &s.HealthRequests
	}
	return &s.OtherRequests
}

func isAnalysis(path string) bool {
	return path == "/analyze" || path == "/analyze/enhanced"
}

// RecordRequest counts a request against its endpoint.
func (s *Stats) RecordRequest(endpoint string) {
	s.TotalRequests.Add(1)
	s.endpointCounter(endpoint).Add(1)
}

func (s *Stats) RecordCacheHit()          { s.CacheHits.Add(1) }
func (s *Stats) RecordCacheMiss()         { s.CacheMisses.Add(1) }
func (s *Stats) RecordCoalesced()         { s.CoalescedRequests.Add(1) }
func (s *Stats) RecordStructureFallback() { s.StructureFallbacks.Add(1) }
func (s *Stats) RecordSearchFallback()    { s.SearchFallbacks.Add(1) }
func (s *Stats) RecordCircuitTrip()       { s.CircuitTrips.Add(1) }

// RecordGeneration counts one workflow run.
func (s *Stats) RecordGeneration(enhanced bool) {
	if enhanced {
		s.EnhancedGenerations.Add(1)
		return
	}
	s.BasicGenerations.Add(1)
}

// RecordSearch counts a search tool invocation and whether it failed.
func (s *Stats) RecordSearch(ok bool) {
	s.Searches.Add(1)
	if !ok {
		s.SearchFailures.Add(1)
	}
}

func (s *Stats) errorCounter(kind string) *atomic.Int64 {
	c, _ := s.errorsByKind.LoadOrStore(kind, new(atomic.Int64))
	return c.(*atomic.Int64)
}

// RecordError counts an error of the given kind.
func (s *Stats) RecordError(kind string) {
	s.errorCounter(kind).Add(1)
}

// ErrorCounts returns a copy of the per-kind error counters.
func (s *Stats) ErrorCounts() map[string]int64 {
	out := make(map[string]int64)
	s.errorsByKind.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

func (s *Stats) RecordRateLimit(allowed bool) {
	if allowed {
		s.RateLimitAllowed.Add(1)
		return
	}
	s.RateLimitExceeded.Add(1)
}

// RecordStatusCode buckets a response status. 1xx and 3xx are not counted.
func (s *Stats) RecordStatusCode(code int) {
	switch code / 100 {
	case 2:
		s.Status2xx.Add(1)
	case 4:
		s.Status4xx.Add(1)
	case 5:
		s.Status5xx.Add(1)
	}
}

func (s *Stats) RecordResponseTime(d time.Duration, endpoint string) {
	s.all.observe(d)
	if isAnalysis(endpoint) {
		s.analysis.observe(d)
	}
}

func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// CacheHitRate is the percentage of lookups served from the cache.
func (s *Stats) CacheHitRate() float64 {
	hits := s.CacheHits.Load()
	total := hits + s.CacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

func (s *Stats) AvgResponseTime() time.Duration { return s.all.avg() }
func (s *Stats) MinResponseTime() time.Duration {
	return time.Duration(s.all.min.Load()) * time.Microsecond
}
func (s *Stats) MaxResponseTime() time.Duration {
	return time.Duration(s.all.max.Load()) * time.Microsecond
}
func (s *Stats) AvgAnalyzeResponseTime() time.Duration { return s.analysis.avg() }

// Snapshot groups the counters by section for the /stats endpoint.
func (s *Stats) Snapshot() map[string]interface{} {
	uptime := s.Uptime()
	sections := map[string]map[string]interface{}{}
	for name, c := range s.counters() {
		section, key := splitName(name)
		if sections[section] == nil {
			sections[section] = map[string]interface{}{}
		}
		sections[section][key] = c.Load()
	}
	sections["cache"]["hit_rate"] = s.CacheHitRate()

	return map[string]interface{}{
		"server": map[string]interface{}{
			"start_time":     s.StartTime.Format(time.RFC3339),
			"uptime":         uptime.String(),
			"uptime_seconds": int64(uptime.Seconds()),
		},
		"requests":      sections["requests"],
		"cache":         sections["cache"],
		"engine":        sections["engine"],
		"rate_limiting": sections["ratelimit"],
		"responses":     sections["status"],
		"errors":        s.ErrorCounts(),
		"response_times": map[string]interface{}{
			"avg":         s.AvgResponseTime().String(),
			"min":         s.MinResponseTime().String(),
			"max":         s.MaxResponseTime().String(),
			"avg_analyze": s.AvgAnalyzeResponseTime().String(),
		},
	}
}

func splitName(name string) (string, string) {
	section, key, _ := strings.Cut(name, ".")
	return section, key
}

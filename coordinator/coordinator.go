// Package coordinator is the entry point for term analysis. It answers from
// the cache when it can, coalesces concurrent identical requests into one
// workflow run, and writes successful results back to the cache.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"lexitrend-go/apperr"
	"lexitrend-go/cache"
	"lexitrend-go/insight"
	"lexitrend-go/logcolors"
	"lexitrend-go/settings"
	"lexitrend-go/stats"
	"lexitrend-go/workflow"

	log "github.com/sirupsen/logrus"
)

// Analyzer produces results on a cache miss.
type Analyzer interface {
	Basic(ctx context.Context, term, lang, modelID string) (*insight.Result, error)
	Enhanced(ctx context.Context, term, lang, modelID string) (*insight.EnhancedResult, error)
}

// inFlight is one shared workflow run. result and err are written once,
// before done is closed.
type inFlight struct {
	done   chan struct{}
	result any
	err    error
}

type Coordinator struct {
	cache    *cache.Service
	analyzer Analyzer
	settings settings.Provider
	models   insight.Models
	stats    *stats.Stats
	errors   *apperr.Recorder

	mu      sync.Mutex
	pending map[string]*inFlight
}

type Option func(*Coordinator)

func WithModels(m insight.Models) Option {
	return func(c *Coordinator) { c.models = m }
}

func WithStats(s *stats.Stats) Option {
	return func(c *Coordinator) { c.stats = s }
}

// WithRecorder keeps every error that leaves the coordinator.
func WithRecorder(r *apperr.Recorder) Option {
	return func(c *Coordinator) { c.errors = r }
}

func New(svc *cache.Service, analyzer Analyzer, provider settings.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{
		cache:    svc,
		analyzer: analyzer,
		settings: provider,
		models:   insight.DefaultModels(),
		stats:    stats.New(),
		errors:   apperr.NewRecorder(apperr.DefaultRecorderSize),
		pending:  make(map[string]*inFlight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Errors returns the recorder of failed requests.
func (c *Coordinator) Errors() *apperr.Recorder {
	return c.errors
}

// Pending reports how many shared runs are in flight.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// request is a validated analysis request.
type request struct {
	op       string
	term     string
	lang     string
	userLang string
	modelID  string
	cacheKey string
	reqKey   string
}

func (c *Coordinator) prepare(ctx context.Context, op, term, lang string, enhanced bool) (*request, error) {
	configured := c.settings.Language(ctx)
	r := &request{op: op, term: insight.NormalizeTerm(term), userLang: configured}
	if r.term == "" {
		return nil, c.fail(r, apperr.Validation("keyword cannot be empty", apperr.WithOperation(op)))
	}

	if strings.TrimSpace(lang) == "" {
		lang = configured
	}
	r.lang = insight.ResolveLanguage(lang)
	r.modelID = c.models.Select(r.term)
	r.reqKey = insight.RequestKey(r.term, r.lang, enhanced)
	if enhanced {
		r.cacheKey = insight.EnhancedCacheKey(r.term, r.lang, r.modelID)
	} else {
		r.cacheKey = insight.CacheKey(r.term, r.lang, r.modelID)
	}
	return r, nil
}

// fail normalizes err, resolves its user message and records it.
func (c *Coordinator) fail(r *request, err error) *apperr.Error {
	opts := []apperr.Option{apperr.WithOperation(r.op)}
	if r.term != "" {
		opts = append(opts, apperr.WithDetail("keyword", r.term))
	}
	e := apperr.Normalize(err, opts...).Resolve(r.userLang)

	c.errors.Record(e)
	c.stats.RecordError(string(e.Kind))
	if e.Kind == apperr.KindValidation {
		log.Debugf("%s %s rejected: %v", logcolors.LogCoordinator, r.op, e)
	} else {
		log.Errorf("%s %s failed for %s: %v", logcolors.LogCoordinator, r.op, logcolors.Term(r.term), e)
	}
	return e
}

// Analyze returns the basic analysis of term in lang. An empty lang means
// the configured language.
func (c *Coordinator) Analyze(ctx context.Context, term, lang string) (*insight.Result, error) {
	r, err := c.prepare(ctx, workflow.OpAnalyze, term, lang, false)
	if err != nil {
		return nil, err
	}
	return analyze(ctx, c, r, func(ctx context.Context) (*insight.Result, error) {
		return c.analyzer.Basic(ctx, r.term, r.lang, r.modelID)
	})
}

// AnalyzeEnhanced returns the search-augmented analysis of term in lang.
func (c *Coordinator) AnalyzeEnhanced(ctx context.Context, term, lang string) (*insight.EnhancedResult, error) {
	r, err := c.prepare(ctx, workflow.OpAnalyzeEnhanced, term, lang, true)
	if err != nil {
		return nil, err
	}
	return analyze(ctx, c, r, func(ctx context.Context) (*insight.EnhancedResult, error) {
		return c.analyzer.Enhanced(ctx, r.term, r.lang, r.modelID)
	})
}

func analyze[T any](ctx context.Context, c *Coordinator, r *request, work func(context.Context) (T, error)) (T, error) {
	var zero T

	var cached T
	hit, err := c.cache.Get(ctx, r.cacheKey, &cached)
	if err != nil {
		return zero, c.fail(r, err)
	}
	if hit {
		c.stats.RecordCacheHit()
		log.Debugf("%s Hit for %s", logcolors.LogCache, r.cacheKey)
		return cached, nil
	}
	c.stats.RecordCacheMiss()

	f := c.join(ctx, r, func(ctx context.Context) (any, error) {
		return work(ctx)
	})

	select {
	case <-f.done:
		if f.err != nil {
			return zero, f.err
		}
		res, ok := f.result.(T)
		if !ok {
			return zero, c.fail(r, apperr.Unknown(fmt.Sprintf("in-flight result for %s has type %T", r.reqKey, f.result)))
		}
		return res, nil
	case <-ctx.Done():
		return zero, c.fail(r, ctx.Err())
	}
}

// join attaches to the run registered under r.reqKey or starts a new one.
// Registration happens under the lock before the run starts, so two misses
// for the same key never both start work.
func (c *Coordinator) join(ctx context.Context, r *request, work func(context.Context) (any, error)) *inFlight {
	c.mu.Lock()
	if f, ok := c.pending[r.reqKey]; ok {
		c.mu.Unlock()
		c.stats.RecordCoalesced()
		log.Debugf("%s Joined in-flight request %s", logcolors.LogCoalesce, r.reqKey)
		return f
	}
	f := &inFlight{done: make(chan struct{})}
	c.pending[r.reqKey] = f
	c.mu.Unlock()

	go c.execute(context.WithoutCancel(ctx), r, f, work)
	return f
}

func (c *Coordinator) execute(ctx context.Context, r *request, f *inFlight, work func(context.Context) (any, error)) {
	defer func() {
		c.mu.Lock()
		delete(c.pending, r.reqKey)
		c.mu.Unlock()
		close(f.done)
	}()

	log.Infof("%s Running %s for %s [%s, %s]", logcolors.LogCoordinator, r.op, logcolors.Term(r.term), r.lang, r.modelID)
	result, err := work(ctx)
	if err != nil {
		f.err = c.fail(r, err)
		return
	}

	if err := c.cache.Set(ctx, r.cacheKey, result); err != nil {
		log.Warnf("%s Result for %s not cached: %v", logcolors.LogCoordinator, r.cacheKey, err)
	}
	f.result = result
}

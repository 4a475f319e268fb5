package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lexitrend-go/apperr"
	"lexitrend-go/cache"
	"lexitrend-go/insight"
	"lexitrend-go/retry"
	"lexitrend-go/stats"
	"lexitrend-go/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

type fakeProvider struct{ lang string }

func (p fakeProvider) APIKey(context.Context) (string, error) { return "k", nil }
func (p fakeProvider) Language(context.Context) string         { return p.lang }
func (p fakeProvider) SearchEnabled(context.Context) bool      { return true }
func (p fakeProvider) SearchAPIKey(context.Context) string     { return "" }

type call struct{ term, lang, model string }

// fakeAnalyzer blocks every run until release is closed, when set.
type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []call
	count   atomic.Int32
	release chan struct{}
	err     error
}

func (a *fakeAnalyzer) record(term, lang, model string) error {
	a.mu.Lock()
	a.calls = append(a.calls, call{term, lang, model})
	a.mu.Unlock()
	a.count.Add(1)
	if a.release != nil {
		<-a.release
	}
	return a.err
}

func (a *fakeAnalyzer) Basic(_ context.Context, term, lang, model string) (*insight.Result, error) {
	if err := a.record(term, lang, model); err != nil {
		return nil, err
	}
	return &insight.Result{Definition: "def of " + term, CulturalContext: "ctx", Confidence: 0.8, Language: lang, Timestamp: 1}, nil
}

func (a *fakeAnalyzer) Enhanced(_ context.Context, term, lang, model string) (*insight.EnhancedResult, error) {
	if err := a.record(term, lang, model); err != nil {
		return nil, err
	}
	return &insight.EnhancedResult{
		Result:         insight.Result{Definition: "enhanced " + term, CulturalContext: "ctx", Confidence: 0.9, Language: lang},
		SearchMetadata: insight.SearchMetadata{SearchPerformed: true, SearchQuery: term, Sources: []insight.Source{}},
	}, nil
}

func (a *fakeAnalyzer) lastCall() call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[len(a.calls)-1]
}

func newTestCoordinator(t *testing.T, store cache.Store, a *fakeAnalyzer, lang string) (*Coordinator, *cache.Service, *stats.Stats) {
	t.Helper()
	if store == nil {
		store = cache.NewMemoryStore()
	}
	svc := cache.NewService(store, retry.NewRunner(retry.WithSleep(noSleep)))
	st := stats.New()
	return New(svc, a, fakeProvider{lang: lang}, WithStats(st)), svc, st
}

func TestAnalyzeCoalescesConcurrentRequests(t *testing.T) {
	a := &fakeAnalyzer{release: make(chan struct{})}
	c, _, st := newTestCoordinator(t, nil, a, "en")

	const callers = 5
	results := make([]*insight.Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Analyze(context.Background(), "synergy", "en")
		}(i)
	}

	require.Eventually(t, func() bool {
		return st.CoalescedRequests.Load() == callers-1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.Pending())
	close(a.release)
	wg.Wait()

	assert.Equal(t, int32(1), a.count.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 0, c.Pending())
}

func TestAnalyzeCacheRoundTrip(t *testing.T) {
	a := &fakeAnalyzer{}
	c, svc, st := newTestCoordinator(t, nil, a, "en")
	ctx := context.Background()

	first, err := c.Analyze(ctx, "  synergy ", "en")
	require.NoError(t, err)
	assert.Equal(t, call{"synergy", "en", insight.DefaultFastModel}, a.lastCall())

	var stored insight.Result
	found, err := svc.Get(ctx, "insight:synergy:en:gemini-1.5-flash", &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, *first, stored)

	second, err := c.Analyze(ctx, "synergy", "en")
	require.NoError(t, err)
	assert.Equal(t, *first, *second)
	assert.Equal(t, int32(1), a.count.Load())
	assert.Equal(t, int64(1), st.CacheHits.Load())
	assert.Equal(t, int64(1), st.CacheMisses.Load())
}

func TestAnalyzeEnhancedUsesSeparateKeys(t *testing.T) {
	a := &fakeAnalyzer{}
	c, svc, _ := newTestCoordinator(t, nil, a, "en")
	ctx := context.Background()

	_, err := c.Analyze(ctx, "GOAT", "en")
	require.NoError(t, err)
	res, err := c.AnalyzeEnhanced(ctx, "GOAT", "en")
	require.NoError(t, err)

	assert.Equal(t, "enhanced GOAT", res.Definition)
	assert.Equal(t, int32(2), a.count.Load())
	assert.Equal(t, insight.DefaultCapableModel, a.lastCall().model)

	var stored insight.EnhancedResult
	found, err := svc.Get(ctx, "enhanced-insight:GOAT:en:gemini-2.0-flash-lite", &stored)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, stored.SearchMetadata.SearchPerformed)
}

func TestAnalyzeBasicAndEnhancedDoNotShareRuns(t *testing.T) {
	a := &fakeAnalyzer{release: make(chan struct{})}
	c, _, st := newTestCoordinator(t, nil, a, "en")
	ctx := context.Background()

	var enhanced *insight.EnhancedResult
	var enhancedErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		enhanced, enhancedErr = c.AnalyzeEnhanced(ctx, "foo", "en")
	}()
	require.Eventually(t, func() bool { return a.count.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	var basic *insight.Result
	var basicErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		basic, basicErr = c.Analyze(ctx, "enhanced-foo", "en")
	}()
	require.Eventually(t, func() bool { return a.count.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, c.Pending())
	assert.Equal(t, int64(0), st.CoalescedRequests.Load())

	close(a.release)
	wg.Wait()

	require.NoError(t, enhancedErr)
	require.NoError(t, basicErr)
	require.NotNil(t, basic)
	assert.Equal(t, "def of enhanced-foo", basic.Definition)
	require.NotNil(t, enhanced)
	assert.Equal(t, "enhanced foo", enhanced.Definition)
}

func TestAnalyzeEmptyTerm(t *testing.T) {
	a := &fakeAnalyzer{}
	c, _, st := newTestCoordinator(t, nil, a, "zh")

	for _, term := range []string{"", "   "} {
		_, err := c.AnalyzeEnhanced(context.Background(), term, "en")
		var e *apperr.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, apperr.KindValidation, e.Kind)
		assert.False(t, e.Retryable)
		assert.Equal(t, apperr.UserMessage(apperr.KindValidation, "zh"), e.UserMessage)
	}
	assert.Equal(t, int32(0), a.count.Load())
	assert.Equal(t, int64(2), st.ErrorCounts()["validation"])
}

func TestAnalyzeResolvesLanguage(t *testing.T) {
	tests := []struct {
		requested string
		want      string
	}{
		{"", "ja"},
		{"zh-CN", "zh"},
		{"ko", "ko"},
		{"xx-invalid-tag!", insight.DefaultLanguage},
	}
	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			a := &fakeAnalyzer{}
			c, _, _ := newTestCoordinator(t, nil, a, "ja")
			_, err := c.Analyze(context.Background(), "synergy", tt.requested)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.lastCall().lang)
		})
	}
}

func TestAnalyzeNormalizesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"plain", errors.New("boom"), apperr.KindUnknown},
		{"deadline", context.DeadlineExceeded, apperr.KindNetwork},
		{"typed", apperr.API("quota", apperr.WithOperation(workflow.OpAnalyze)), apperr.KindAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAnalyzer{err: tt.err}
			c, _, _ := newTestCoordinator(t, nil, a, "en")

			_, err := c.Analyze(context.Background(), "synergy", "en")
			var e *apperr.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.want, e.Kind)
			assert.Equal(t, workflow.OpAnalyze, e.Context.Operation)
			assert.NotEmpty(t, e.UserMessage)

			recent := c.Errors().Recent()
			require.Len(t, recent, 1)
			assert.Same(t, e, recent[0])
		})
	}
}

func TestAnalyzeClearsPendingAfterFailure(t *testing.T) {
	a := &fakeAnalyzer{err: errors.New("boom")}
	c, svc, _ := newTestCoordinator(t, nil, a, "en")
	ctx := context.Background()

	_, err := c.Analyze(ctx, "synergy", "en")
	require.Error(t, err)
	assert.Equal(t, 0, c.Pending())

	size, err := svc.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	a.err = nil
	_, err = c.Analyze(ctx, "synergy", "en")
	require.NoError(t, err)
	assert.Equal(t, int32(2), a.count.Load())
}

func TestAnalyzeAbandonedCallerStillPopulatesCache(t *testing.T) {
	a := &fakeAnalyzer{release: make(chan struct{})}
	c, svc, _ := newTestCoordinator(t, nil, a, "en")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Analyze(ctx, "synergy", "en")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return a.count.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	close(a.release)
	require.Eventually(t, func() bool { return c.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	var stored insight.Result
	found, err := svc.Get(context.Background(), "insight:synergy:en:gemini-1.5-flash", &stored)
	require.NoError(t, err)
	assert.True(t, found)
}

// flakyStore fails reads or writes on demand.
type flakyStore struct {
	*cache.MemoryStore
	failGet, failSet bool
}

var errStore = errors.New("store offline")

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.failGet {
		return nil, false, errStore
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if f.failSet {
		return errStore
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func TestAnalyzeCacheReadFailure(t *testing.T) {
	a := &fakeAnalyzer{}
	c, _, _ := newTestCoordinator(t, &flakyStore{MemoryStore: cache.NewMemoryStore(), failGet: true}, a, "en")

	_, err := c.Analyze(context.Background(), "synergy", "en")
	assert.True(t, apperr.Is(err, apperr.KindCache))
	assert.Equal(t, int32(0), a.count.Load())
}

func TestAnalyzeCacheWriteFailureStillAnswers(t *testing.T) {
	a := &fakeAnalyzer{}
	c, _, _ := newTestCoordinator(t, &flakyStore{MemoryStore: cache.NewMemoryStore(), failSet: true}, a, "en")

	res, err := c.Analyze(context.Background(), "synergy", "en")
	require.NoError(t, err)
	assert.Equal(t, "def of synergy", res.Definition)
	assert.Equal(t, 0, c.Pending())
}

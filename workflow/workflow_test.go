package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"lexitrend-go/apperr"
	"lexitrend-go/services/generation"
	"lexitrend-go/services/search"
	"lexitrend-go/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	key       string
	keyErr    error
	lang      string
	search    bool
	searchKey string
}

func (p *fakeProvider) APIKey(context.Context) (string, error) { return p.key, p.keyErr }
func (p *fakeProvider) Language(context.Context) string         { return p.lang }
func (p *fakeProvider) SearchEnabled(context.Context) bool      { return p.search }
func (p *fakeProvider) SearchAPIKey(context.Context) string     { return p.searchKey }

// fakeGenerator replays canned structured replies and, for tool loops,
// invokes the offered tool once per entry in toolQueries.
type fakeGenerator struct {
	mu           sync.Mutex
	structured   []json.RawMessage
	structErrs   []error
	toolText     string
	toolQueries  []string
	toolErr      error
	structReqs   []generation.StructuredRequest
	toolReqs     []generation.ToolRequest
	toolCallsOut []generation.ToolCall
}

func (g *fakeGenerator) GenerateStructured(_ context.Context, req generation.StructuredRequest) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := len(g.structReqs)
	g.structReqs = append(g.structReqs, req)
	if i < len(g.structErrs) && g.structErrs[i] != nil {
		return nil, g.structErrs[i]
	}
	if i < len(g.structured) {
		return g.structured[i], nil
	}
	return nil, errors.New("no canned reply")
}

func (g *fakeGenerator) GenerateWithTools(ctx context.Context, req generation.ToolRequest) (*generation.ToolResult, error) {
	g.mu.Lock()
	g.toolReqs = append(g.toolReqs, req)
	g.mu.Unlock()
	if g.toolErr != nil {
		return nil, g.toolErr
	}

	res := &generation.ToolResult{Text: g.toolText, Steps: 1}
	for _, q := range g.toolQueries {
		args, _ := json.Marshal(map[string]string{"query": q})
		out, err := req.Tools[0].Execute(ctx, args)
		if err != nil {
			return nil, err
		}
		data, _ := json.Marshal(out)
		res.ToolCalls = append(res.ToolCalls, generation.ToolCall{Name: req.Tools[0].Name, Args: args, Result: data})
		res.Steps++
	}
	g.toolCallsOut = res.ToolCalls
	return res, nil
}

type fakeSearcher struct {
	resp    *search.Response
	err     error
	queries []search.Query
}

func (s *fakeSearcher) Search(_ context.Context, q search.Query) (*search.Response, error) {
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

const goodReply = `{"definition":"Working together","culturalContext":"Corporate jargon","confidence":0.85}`

func TestBasicSuccess(t *testing.T) {
	gen := &fakeGenerator{structured: []json.RawMessage{json.RawMessage(goodReply)}}
	w := New(gen, &fakeProvider{key: "k"}, WithClock(clock))

	res, err := w.Basic(context.Background(), "synergy", "en", "gemini-1.5-flash")
	require.NoError(t, err)

	assert.Equal(t, "Working together", res.Definition)
	assert.Equal(t, "Corporate jargon", res.CulturalContext)
	assert.Equal(t, 0.85, res.Confidence)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, fixedNow.UnixMilli(), res.Timestamp)

	require.Len(t, gen.structReqs, 1)
	req := gen.structReqs[0]
	assert.Equal(t, "gemini-1.5-flash", req.Model)
	assert.Equal(t, "k", req.Credential)
	assert.Equal(t, 0.3, req.Temperature)
	assert.Contains(t, req.Prompt, "synergy")
	assert.True(t, json.Valid(req.Schema))
}

func TestBasicClampsConfidence(t *testing.T) {
	gen := &fakeGenerator{structured: []json.RawMessage{
		json.RawMessage(`{"definition":"d","culturalContext":"c","confidence":1.7}`),
	}}
	w := New(gen, &fakeProvider{key: "k"})

	res, err := w.Basic(context.Background(), "x", "en", "m")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestBasicMissingKey(t *testing.T) {
	gen := &fakeGenerator{}
	w := New(gen, &fakeProvider{key: "  "})

	_, err := w.Basic(context.Background(), "synergy", "en", "m")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, gen.structReqs)
}

func TestBasicSettingsFailurePropagates(t *testing.T) {
	storageErr := apperr.Storage("settings getApiKey failed")
	w := New(&fakeGenerator{}, &fakeProvider{keyErr: storageErr})

	_, err := w.Basic(context.Background(), "synergy", "en", "m")
	assert.True(t, apperr.Is(err, apperr.KindStorage))
}

func TestBasicInvalidKey(t *testing.T) {
	gen := &fakeGenerator{structErrs: []error{
		&generation.APIError{Provider: "gemini", Status: 400, Message: "API key not valid. Please pass a valid API key."},
	}}
	w := New(gen, &fakeProvider{key: "bad"})

	_, err := w.Basic(context.Background(), "synergy", "en", "m")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestBasicAPIErrorDetails(t *testing.T) {
	gen := &fakeGenerator{structErrs: []error{
		&generation.APIError{Provider: "gemini", Status: 500, Message: "internal"},
	}}
	w := New(gen, &fakeProvider{key: "k"})

	_, err := w.Basic(context.Background(), "synergy", "ja", "m")
	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, apperr.KindAPI, e.Kind)
	assert.Equal(t, OpAnalyze, e.Context.Operation)
	assert.Equal(t, "synergy", e.Context.Details["keyword"])
	assert.Equal(t, "ja", e.Context.Details["language"])
	assert.Contains(t, e.Message, "keyword analysis failed")
}

func TestBasicRejectsIncompleteReply(t *testing.T) {
	gen := &fakeGenerator{structured: []json.RawMessage{json.RawMessage(`{"definition":"only"}`)}}
	w := New(gen, &fakeProvider{key: "k"})

	_, err := w.Basic(context.Background(), "synergy", "en", "m")
	assert.True(t, apperr.Is(err, apperr.KindAPI))
}

func searchResponse() *search.Response {
	return &search.Response{
		Query:  "synergy meaning",
		Answer: "It means cooperation.",
		Results: []search.Result{
			{Title: "Dictionary", URL: "https://dict.example/synergy", Content: "Synergy is...", Score: 0.92},
			{Title: "Blog", URL: "https://blog.example/synergy", Content: "People say...", Score: 0.41},
		},
	}
}

func enhancedSetup(gen *fakeGenerator, s *fakeSearcher, opts ...Option) *Workflow {
	provider := &fakeProvider{key: "k", search: true, searchKey: "tvly"}
	all := append([]Option{WithSearcher(s), WithClock(clock)}, opts...)
	return New(gen, provider, all...)
}

func TestEnhancedStateSequence(t *testing.T) {
	gen := &fakeGenerator{
		toolText:    "Synergy refers to cooperation.",
		toolQueries: []string{"synergy meaning"},
		structured:  []json.RawMessage{json.RawMessage(goodReply)},
	}
	var seen []State
	w := enhancedSetup(gen, &fakeSearcher{resp: searchResponse()},
		WithTransitionHook(func(_ string, from, to State) {
			if len(seen) == 0 {
				seen = append(seen, from)
			}
			seen = append(seen, to)
		}))

	_, err := w.Enhanced(context.Background(), "synergy", "en", "gemini-2.0-flash-lite")
	require.NoError(t, err)
	assert.Equal(t, []State{StateInit, StateGenerateWithTools, StateStructure, StateFinalize}, seen)
}

func TestEnhancedCollectsSources(t *testing.T) {
	gen := &fakeGenerator{
		toolText:    "Synergy refers to cooperation.",
		toolQueries: []string{"synergy meaning", "synergy slang"},
		structured:  []json.RawMessage{json.RawMessage(goodReply)},
	}
	s := &fakeSearcher{resp: searchResponse()}
	st := stats.New()
	w := enhancedSetup(gen, s, WithStats(st))

	res, err := w.Enhanced(context.Background(), "synergy", "en", "m")
	require.NoError(t, err)

	meta := res.SearchMetadata
	assert.True(t, meta.SearchPerformed)
	assert.Equal(t, "synergy meaning", meta.SearchQuery)
	assert.Equal(t, fixedNow.Format(time.RFC3339), meta.LastUpdated)
	require.Len(t, meta.Sources, 4)
	assert.Equal(t, "Dictionary", meta.Sources[0].Title)
	assert.Equal(t, "https://dict.example/synergy", meta.Sources[0].URL)
	assert.Equal(t, "relevance score: 0.92", meta.Sources[0].Relevance)

	require.Len(t, s.queries, 2)
	assert.Equal(t, search.DepthAdvanced, s.queries[0].SearchDepth)
	assert.Equal(t, search.ToolMaxResults, s.queries[0].MaxResults)

	require.Len(t, gen.toolReqs, 1)
	assert.Equal(t, generation.DefaultMaxSteps, gen.toolReqs[0].MaxSteps)
	require.Len(t, gen.structReqs, 1)
	assert.Equal(t, 0.2, gen.structReqs[0].Temperature)
	assert.Contains(t, gen.structReqs[0].Prompt, "Synergy refers to cooperation.")

	assert.Equal(t, int64(1), st.EnhancedGenerations.Load())
	assert.Equal(t, int64(2), st.Searches.Load())
}

func TestEnhancedSearchFailureIsReadableByModel(t *testing.T) {
	gen := &fakeGenerator{
		toolText:    "No search available.",
		toolQueries: []string{"synergy meaning"},
		structured:  []json.RawMessage{json.RawMessage(goodReply)},
	}
	w := enhancedSetup(gen, &fakeSearcher{err: errors.New("tavily down")})

	res, err := w.Enhanced(context.Background(), "synergy", "en", "m")
	require.NoError(t, err)

	require.Len(t, gen.toolCallsOut, 1)
	var failure map[string]string
	require.NoError(t, json.Unmarshal(gen.toolCallsOut[0].Result, &failure))
	assert.Equal(t, "Search failed", failure["error"])
	assert.Equal(t, "tavily down", failure["message"])

	assert.True(t, res.SearchMetadata.SearchPerformed)
	assert.Empty(t, res.SearchMetadata.Sources)
}

func TestEnhancedNoToolCalls(t *testing.T) {
	gen := &fakeGenerator{
		toolText:   "Synergy is cooperation.",
		structured: []json.RawMessage{json.RawMessage(goodReply)},
	}
	w := enhancedSetup(gen, &fakeSearcher{resp: searchResponse()})

	res, err := w.Enhanced(context.Background(), "synergy", "en", "m")
	require.NoError(t, err)
	assert.False(t, res.SearchMetadata.SearchPerformed)
	assert.Empty(t, res.SearchMetadata.SearchQuery)
	assert.NotNil(t, res.SearchMetadata.Sources)
}

func TestEnhancedStructureFallback(t *testing.T) {
	gen := &fakeGenerator{
		toolText:    "Definition: Working together\nCultural: Corporate jargon since the 90s",
		toolQueries: []string{"synergy meaning"},
		structErrs:  []error{errors.New("schema rejected")},
	}
	st := stats.New()
	w := enhancedSetup(gen, &fakeSearcher{resp: searchResponse()}, WithStats(st))

	res, err := w.Enhanced(context.Background(), "synergy", "en", "m")
	require.NoError(t, err)

	assert.Equal(t, "Working together", res.Definition)
	assert.Equal(t, "Corporate jargon since the 90s", res.CulturalContext)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.Len(t, res.SearchMetadata.Sources, 2)
	assert.Equal(t, int64(1), st.StructureFallbacks.Load())
}

func TestEnhancedToolLoopError(t *testing.T) {
	gen := &fakeGenerator{toolErr: &generation.APIError{Provider: "gemini", Status: 503, Message: "overloaded"}}
	w := enhancedSetup(gen, &fakeSearcher{resp: searchResponse()})

	_, err := w.Enhanced(context.Background(), "synergy", "en", "m")
	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, apperr.KindAPI, e.Kind)
	assert.Equal(t, OpAnalyzeEnhanced, e.Context.Operation)
	assert.Contains(t, e.Message, "enhanced keyword analysis failed")
}

func TestEnhancedWithoutSearch(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		searcher Searcher
	}{
		{"disabled", &fakeProvider{key: "k", search: false, searchKey: "tvly"}, &fakeSearcher{}},
		{"no search key", &fakeProvider{key: "k", search: true}, &fakeSearcher{}},
		{"no searcher", &fakeProvider{key: "k", search: true, searchKey: "tvly"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{structured: []json.RawMessage{json.RawMessage(goodReply)}}
			opts := []Option{WithClock(clock)}
			if tt.searcher != nil {
				opts = append(opts, WithSearcher(tt.searcher))
			}
			w := New(gen, tt.provider, opts...)

			res, err := w.Enhanced(context.Background(), "synergy", "en", "capable-model")
			require.NoError(t, err)

			assert.Empty(t, gen.toolReqs)
			require.Len(t, gen.structReqs, 1)
			assert.Equal(t, DefaultConfig().Models.Fast, gen.structReqs[0].Model)
			assert.Equal(t, "Working together", res.Definition)
			assert.False(t, res.SearchMetadata.SearchPerformed)
			assert.NotNil(t, res.SearchMetadata.Sources)
			assert.Empty(t, res.SearchMetadata.Sources)
		})
	}
}

func TestEnhancedWithoutSearchKeepsEnhancedOperation(t *testing.T) {
	gen := &fakeGenerator{structErrs: []error{errors.New("boom")}}
	w := New(gen, &fakeProvider{key: "k"})

	_, err := w.Enhanced(context.Background(), "synergy", "en", "m")
	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, OpAnalyzeEnhanced, e.Context.Operation)
}

func TestEnhancedMissingKey(t *testing.T) {
	gen := &fakeGenerator{}
	w := enhancedSetup(gen, &fakeSearcher{})
	w.settings = &fakeProvider{}

	_, err := w.Enhanced(context.Background(), "synergy", "en", "m")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, gen.toolReqs)
	assert.Empty(t, gen.structReqs)
}

package workflow

import (
	"context"
	"encoding/json"
	"time"

	"lexitrend-go/insight"
	"lexitrend-go/logcolors"
	"lexitrend-go/services/generation"
	"lexitrend-go/services/search"

	log "github.com/sirupsen/logrus"
)

// run is the mutable state of one enhanced analysis.
type run struct {
	term, lang, model string
	key               string

	state      State
	toolResult *generation.ToolResult
	meta       insight.SearchMetadata
	structured structuredInsight
}

// toolOutput is what the search tool hands back to the model.
type toolOutput struct {
	Query   string           `json:"query"`
	Answer  string           `json:"answer,omitempty"`
	Sources []search.Summary `json:"sources"`
}

type toolFailure struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type toolArgs struct {
	Query string `json:"query"`
}

func (w *Workflow) advance(r *run, next State) {
	log.Debugf("%s %s: %s -> %s", logcolors.LogWorkflow, logcolors.Term(r.term), r.state, next)
	if w.transition != nil {
		w.transition(r.term, r.state, next)
	}
	r.state = next
}

// searchAvailable reports whether the search tool can be offered.
func (w *Workflow) searchAvailable(ctx context.Context) bool {
	return w.searcher != nil && w.settings.SearchEnabled(ctx) && w.settings.SearchAPIKey(ctx) != ""
}

// Enhanced runs INIT, GENERATE_WITH_TOOLS, STRUCTURE and FINALIZE in order.
// A failed structuring call falls back to local text parsing. When search is
// disabled or has no credential the result comes from basic analysis.
func (w *Workflow) Enhanced(ctx context.Context, term, lang, modelID string) (*insight.EnhancedResult, error) {
	r := &run{term: term, lang: lang, model: modelID, state: StateInit}

	// INIT
	key, err := w.credential(ctx, OpAnalyzeEnhanced)
	if err != nil {
		return nil, err
	}
	r.key = key

	if !w.searchAvailable(ctx) {
		return w.withoutSearch(ctx, r)
	}

	w.stats.RecordGeneration(true)

	w.advance(r, StateGenerateWithTools)
	if err := w.generateWithTools(ctx, r); err != nil {
		return nil, generationError(err, OpAnalyzeEnhanced, term, lang)
	}

	w.advance(r, StateStructure)
	w.structure(ctx, r)

	w.advance(r, StateFinalize)
	return w.finalize(r), nil
}

func (w *Workflow) withoutSearch(ctx context.Context, r *run) (*insight.EnhancedResult, error) {
	log.Infof("%s Search unavailable for %s, using basic analysis", logcolors.LogFallback, logcolors.Term(r.term))
	w.stats.RecordSearchFallback()

	basic, err := w.basic(ctx, OpAnalyzeEnhanced, r.key, r.term, r.lang, w.cfg.Models.Fast)
	if err != nil {
		return nil, err
	}
	return &insight.EnhancedResult{
		Result:         *basic,
		SearchMetadata: insight.SearchMetadata{SearchPerformed: false, Sources: []insight.Source{}},
	}, nil
}

func (w *Workflow) searchTool() generation.Tool {
	spec := w.prompts.SearchTool
	params, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": spec.QueryDescription},
		},
		"required": []string{"query"},
	})
	return generation.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  params,
		Execute:     w.executeSearch,
	}
}

// executeSearch never fails the loop: search errors become an error object
// the model can read.
func (w *Workflow) executeSearch(ctx context.Context, raw json.RawMessage) (any, error) {
	var args toolArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		w.stats.RecordSearch(false)
		return toolFailure{Error: "Search failed", Message: "invalid tool arguments: " + err.Error()}, nil
	}

	resp, err := w.searcher.Search(ctx, search.Query{
		Query:       args.Query,
		SearchDepth: w.cfg.SearchDepth,
		MaxResults:  w.cfg.SearchMaxResults,
	})
	if err != nil {
		log.Warnf("%s Search for %q failed: %v", logcolors.LogSearch, args.Query, err)
		w.stats.RecordSearch(false)
		return toolFailure{Error: "Search failed", Message: err.Error()}, nil
	}

	w.stats.RecordSearch(true)
	return toolOutput{
		Query:   resp.Query,
		Answer:  resp.Answer,
		Sources: search.Summarize(resp, w.cfg.SearchMaxResults, search.ToolContentLimit),
	}, nil
}

func (w *Workflow) generateWithTools(ctx context.Context, r *run) error {
	prompt := w.prompts.EnhancedPrompt(r.term, r.lang)
	tool := w.searchTool()

	res, err := w.generator.GenerateWithTools(ctx, generation.ToolRequest{
		Model:       r.model,
		Credential:  r.key,
		System:      prompt.System,
		Prompt:      prompt.User,
		Tools:       []generation.Tool{tool},
		MaxSteps:    w.cfg.MaxSteps,
		Temperature: w.cfg.ToolTemperature,
	})
	if err != nil {
		return err
	}
	r.toolResult = res
	r.meta = searchMetadata(res.ToolCalls, tool.Name)
	if r.meta.SearchPerformed {
		r.meta.LastUpdated = w.now().UTC().Format(time.RFC3339)
	}
	return nil
}

// searchMetadata derives what the model searched for and which sources came
// back. The query is taken from the first tool call.
func searchMetadata(calls []generation.ToolCall, toolName string) insight.SearchMetadata {
	meta := insight.SearchMetadata{
		SearchPerformed: len(calls) > 0,
		Sources:         []insight.Source{},
	}
	if !meta.SearchPerformed {
		return meta
	}

	var first toolArgs
	if json.Unmarshal(calls[0].Args, &first) == nil {
		meta.SearchQuery = first.Query
	}

	for _, call := range calls {
		if call.Name != toolName {
			continue
		}
		var out toolOutput
		if json.Unmarshal(call.Result, &out) != nil {
			continue
		}
		for _, s := range out.Sources {
			meta.Sources = append(meta.Sources, insight.Source{
				Title:     s.Title,
				URL:       s.URL,
				Relevance: search.Relevance(s.Score),
			})
		}
	}
	return meta
}

func (w *Workflow) structure(ctx context.Context, r *run) {
	prompt := w.prompts.StructurePrompt(insight.StructureInput{
		Term:            r.term,
		Language:        r.lang,
		Text:            r.toolResult.Text,
		SearchPerformed: r.meta.SearchPerformed,
		SearchQuery:     r.meta.SearchQuery,
		SourceCount:     len(r.meta.Sources),
	})

	raw, err := w.generator.GenerateStructured(ctx, generation.StructuredRequest{
		Model:       r.model,
		Credential:  r.key,
		System:      prompt.System,
		Prompt:      prompt.User,
		Schema:      json.RawMessage(enhancedSchema),
		Temperature: w.cfg.StructureTemperature,
	})
	if err == nil {
		var out structuredInsight
		if err = json.Unmarshal(raw, &out); err == nil && out.valid() {
			r.structured = out
			return
		}
	}

	log.Warnf("%s Structured generation failed for %s, parsing text instead: %v",
		logcolors.LogFallback, logcolors.Term(r.term), err)
	w.stats.RecordStructureFallback()
	parsed := ParseText(r.toolResult.Text, r.lang, r.meta.SearchPerformed, len(r.meta.Sources))
	r.structured = structuredInsight{
		Definition:      parsed.Definition,
		CulturalContext: parsed.CulturalContext,
		Confidence:      parsed.Confidence,
	}
}

func (w *Workflow) finalize(r *run) *insight.EnhancedResult {
	return &insight.EnhancedResult{
		Result: insight.Result{
			Definition:      r.structured.Definition,
			CulturalContext: r.structured.CulturalContext,
			Confidence:      insight.ClampConfidence(r.structured.Confidence),
			Language:        r.lang,
			Timestamp:       w.now().UnixMilli(),
		},
		SearchMetadata: r.meta,
	}
}

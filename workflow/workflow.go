// Package workflow runs term analyses against a generation backend: a
// single structured call for basic analysis, and a tool-augmented state
// machine for enhanced analysis.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lexitrend-go/apperr"
	"lexitrend-go/insight"
	"lexitrend-go/logcolors"
	"lexitrend-go/services/generation"
	"lexitrend-go/services/search"
	"lexitrend-go/settings"
	"lexitrend-go/stats"

	log "github.com/sirupsen/logrus"
)

// Operation names carried by errors.
const (
	OpAnalyze         = "analyzeKeyword"
	OpAnalyzeEnhanced = "analyzeKeywordEnhanced"
)

// State is a step of the enhanced analysis pipeline.
type State string

const (
	StateInit              State = "INIT"
	StateGenerateWithTools State = "GENERATE_WITH_TOOLS"
	StateStructure         State = "STRUCTURE"
	StateFinalize          State = "FINALIZE"
)

// Searcher runs a web search. The implementation owns the credential.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
}

// Config tunes generation.
type Config struct {
	Models               insight.Models
	MaxSteps             int
	BasicTemperature     float64
	ToolTemperature      float64
	StructureTemperature float64
	SearchDepth          string
	SearchMaxResults     int
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		Models:               insight.DefaultModels(),
		MaxSteps:             generation.DefaultMaxSteps,
		BasicTemperature:     0.3,
		ToolTemperature:      0.3,
		StructureTemperature: 0.2,
		SearchDepth:          search.DepthAdvanced,
		SearchMaxResults:     search.ToolMaxResults,
	}
}

// Workflow executes analyses. It is safe for concurrent use.
type Workflow struct {
	generator  generation.Generator
	settings   settings.Provider
	searcher   Searcher
	prompts    *insight.Prompts
	cfg        Config
	stats      *stats.Stats
	now        func() time.Time
	transition func(term string, from, to State)
}

type Option func(*Workflow)

// WithSearcher enables the search tool for enhanced analysis.
func WithSearcher(s Searcher) Option {
	return func(w *Workflow) { w.searcher = s }
}

func WithPrompts(p *insight.Prompts) Option {
	return func(w *Workflow) { w.prompts = p }
}

func WithConfig(cfg Config) Option {
	return func(w *Workflow) { w.cfg = cfg }
}

func WithStats(s *stats.Stats) Option {
	return func(w *Workflow) { w.stats = s }
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithTransitionHook observes every state change of an enhanced run.
func WithTransitionHook(fn func(term string, from, to State)) Option {
	return func(w *Workflow) { w.transition = fn }
}

func New(gen generation.Generator, provider settings.Provider, opts ...Option) *Workflow {
	w := &Workflow{
		generator: gen,
		settings:  provider,
		prompts:   insight.DefaultPrompts(),
		cfg:       DefaultConfig(),
		stats:     stats.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

const basicSchema = `{
	"type": "object",
	"properties": {
		"definition": {"type": "string", "description": "The definition of the keyword."},
		"culturalContext": {"type": "string", "description": "The cultural context and relevance of the keyword."},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1, "description": "A confidence score (0-1) for the analysis."}
	},
	"required": ["definition", "culturalContext", "confidence"]
}`

const enhancedSchema = `{
	"type": "object",
	"properties": {
		"definition": {"type": "string", "description": "The definition of the keyword."},
		"culturalContext": {"type": "string", "description": "The cultural context and relevance of the keyword."},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1, "description": "A confidence score (0-1) for the analysis."},
		"searchPerformed": {"type": "boolean", "description": "Whether real-time search was performed."},
		"searchQuery": {"type": "string", "description": "The search query used if search was performed."},
		"sources": {
			"type": "array",
			"description": "Sources used for the analysis.",
			"items": {
				"type": "object",
				"properties": {
					"title": {"type": "string"},
					"url": {"type": "string"},
					"relevance": {"type": "string"}
				},
				"required": ["title", "url", "relevance"]
			}
		}
	},
	"required": ["definition", "culturalContext", "confidence", "searchPerformed"]
}`

type structuredInsight struct {
	Definition      string  `json:"definition"`
	CulturalContext string  `json:"culturalContext"`
	Confidence      float64 `json:"confidence"`
}

func (s structuredInsight) valid() bool {
	return strings.TrimSpace(s.Definition) != "" && strings.TrimSpace(s.CulturalContext) != ""
}

// credential reads the generation key; a missing key is a validation error.
func (w *Workflow) credential(ctx context.Context, op string) (string, error) {
	key, err := w.settings.APIKey(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(key) == "" {
		return "", apperr.Validation("API key is not set", apperr.WithOperation(op))
	}
	return key, nil
}

// generationError classifies a backend failure. A rejected credential is a
// validation error; everything else is an api error with the inputs attached.
func generationError(err error, op, term, lang string) error {
	var apiErr *generation.APIError
	if strings.Contains(err.Error(), "API key not valid") || (errors.As(err, &apiErr) && apiErr.InvalidKey()) {
		return apperr.Validation("API key is invalid or expired", apperr.WithOperation(op), apperr.WithCause(err))
	}
	prefix := "keyword analysis failed"
	if op == OpAnalyzeEnhanced {
		prefix = "enhanced keyword analysis failed"
	}
	return apperr.API(fmt.Sprintf("%s: %v", prefix, err),
		apperr.WithOperation(op),
		apperr.WithDetail("keyword", term),
		apperr.WithDetail("language", lang),
		apperr.WithCause(err))
}

// Basic runs a single structured generation.
func (w *Workflow) Basic(ctx context.Context, term, lang, modelID string) (*insight.Result, error) {
	key, err := w.credential(ctx, OpAnalyze)
	if err != nil {
		return nil, err
	}
	return w.basic(ctx, OpAnalyze, key, term, lang, modelID)
}

func (w *Workflow) basic(ctx context.Context, op, key, term, lang, modelID string) (*insight.Result, error) {
	w.stats.RecordGeneration(false)
	prompt := w.prompts.BasicPrompt(term, lang)

	log.Debugf("%s Basic analysis of %s with %s", logcolors.LogWorkflow, logcolors.Term(term), modelID)
	raw, err := w.generator.GenerateStructured(ctx, generation.StructuredRequest{
		Model:       modelID,
		Credential:  key,
		System:      prompt.System,
		Prompt:      prompt.User,
		Schema:      json.RawMessage(basicSchema),
		Temperature: w.cfg.BasicTemperature,
	})
	if err != nil {
		return nil, generationError(err, op, term, lang)
	}

	var out structuredInsight
	if err := json.Unmarshal(raw, &out); err != nil || !out.valid() {
		if err == nil {
			err = errors.New("definition or cultural context missing")
		}
		return nil, generationError(fmt.Errorf("invalid structured response: %w", err), op, term, lang)
	}

	return &insight.Result{
		Definition:      out.Definition,
		CulturalContext: out.CulturalContext,
		Confidence:      insight.ClampConfidence(out.Confidence),
		Language:        lang,
		Timestamp:       w.now().UnixMilli(),
	}, nil
}

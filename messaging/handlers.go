package messaging

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"lexitrend-go/apperr"
	"lexitrend-go/insight"
	"lexitrend-go/logcolors"
	"lexitrend-go/services/search"
	"lexitrend-go/stats"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Key validation throttle: 5 attempts per minute.
const (
	ValidationBurst    = 5
	ValidationInterval = time.Minute / ValidationBurst
)

const (
	msgMissingKey  = "API key is missing."
	msgRateLimited = "Too many validation attempts. Please wait a minute."
)

// SearchBackend is the provider behind TAVILY_SEARCH and VALIDATE_TAVILY_KEY.
type SearchBackend interface {
	Search(ctx context.Context, key string, q search.Query) (*search.Response, error)
	ValidateKey(ctx context.Context, key string) (bool, error)
}

// SearchCredentials yields the stored search credential.
type SearchCredentials interface {
	SearchAPIKey(ctx context.Context) string
}

// KeyValidator checks a generation credential.
type KeyValidator interface {
	ValidateKey(ctx context.Context, key string) (bool, error)
}

// Analyzer serves the analysis messages.
type Analyzer interface {
	Analyze(ctx context.Context, term, lang string) (*insight.Result, error)
	AnalyzeEnhanced(ctx context.Context, term, lang string) (*insight.EnhancedResult, error)
}

// Services are the capabilities handlers are registered for. Nil members
// leave their message types unregistered.
type Services struct {
	Search      SearchBackend
	Credentials SearchCredentials
	Generation  KeyValidator
	Analyzer    Analyzer
	// Limiter throttles VALIDATE_API_KEY; nil means 5 per minute.
	Limiter *rate.Limiter
	Stats   *stats.Stats
}

type keyPayload struct {
	APIKey string `json:"apiKey"`
}

type analyzePayload struct {
	Keyword  string `json:"keyword"`
	Language string `json:"language,omitempty"`
}

// Register installs the handlers for every capability in svc.
func Register(b *Bus, svc Services) {
	if svc.Stats == nil {
		svc.Stats = stats.New()
	}
	if svc.Search != nil && svc.Credentials != nil {
		b.Handle(TypeTavilySearch, searchHandler(svc.Search, svc.Credentials))
	}
	if svc.Search != nil {
		b.Handle(TypeValidateTavilyKey, validateSearchKeyHandler(svc.Search))
	}
	if svc.Generation != nil {
		limiter := svc.Limiter
		if limiter == nil {
			limiter = rate.NewLimiter(rate.Every(ValidationInterval), ValidationBurst)
		}
		b.Handle(TypeValidateAPIKey, validateAPIKeyHandler(svc.Generation, limiter, svc.Stats))
	}
	if svc.Analyzer != nil {
		b.Handle(TypeAnalyzeKeyword, analyzeHandler(svc.Analyzer, false))
		b.Handle(TypeAnalyzeKeywordEnhanced, analyzeHandler(svc.Analyzer, true))
	}
}

func searchHandler(backend SearchBackend, creds SearchCredentials) Handler {
	return func(ctx context.Context, payload json.RawMessage) Response {
		var q search.Query
		if err := json.Unmarshal(payload, &q); err != nil {
			return ErrorResponse(err)
		}
		key := creds.SearchAPIKey(ctx)
		if key == "" {
			return ErrorResponse(search.ErrMissingKey)
		}

		resp, err := backend.Search(ctx, key, q)
		if err != nil {
			log.Errorf("%s Tavily search error: %v", logcolors.LogMessaging, err)
			return ErrorResponse(err)
		}
		return DataResponse(resp)
	}
}

func validateSearchKeyHandler(backend SearchBackend) Handler {
	return func(ctx context.Context, payload json.RawMessage) Response {
		var p keyPayload
		_ = json.Unmarshal(payload, &p)
		if strings.TrimSpace(p.APIKey) == "" {
			return ValidResponse(false, msgMissingKey)
		}

		valid, err := backend.ValidateKey(ctx, p.APIKey)
		if err != nil {
			log.Errorf("%s Tavily key validation error: %v", logcolors.LogMessaging, err)
			return ValidResponse(false, err.Error())
		}
		if !valid {
			return ValidResponse(false, search.ErrInvalidKey.Error())
		}
		return ValidResponse(true, "")
	}
}

func validateAPIKeyHandler(v KeyValidator, limiter *rate.Limiter, st *stats.Stats) Handler {
	return func(ctx context.Context, payload json.RawMessage) Response {
		allowed := limiter.Allow()
		st.RecordRateLimit(allowed)
		if !allowed {
			log.Warnf("%s Rate limit exceeded for API key validation", logcolors.LogRateLimit)
			return ValidResponse(false, msgRateLimited)
		}

		var p keyPayload
		_ = json.Unmarshal(payload, &p)
		if strings.TrimSpace(p.APIKey) == "" {
			return ValidResponse(false, "")
		}

		valid, err := v.ValidateKey(ctx, p.APIKey)
		if err != nil {
			log.Errorf("%s API key validation failed: %v", logcolors.LogMessaging, err)
			return ValidResponse(false, err.Error())
		}
		return ValidResponse(valid, "")
	}
}

func analyzeHandler(a Analyzer, enhanced bool) Handler {
	return func(ctx context.Context, payload json.RawMessage) Response {
		var p analyzePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return ErrorResponse(apperr.Validation("invalid analyze payload", apperr.WithCause(err)))
		}

		var (
			result any
			err    error
		)
		if enhanced {
			result, err = a.AnalyzeEnhanced(ctx, p.Keyword, p.Language)
		} else {
			result, err = a.Analyze(ctx, p.Keyword, p.Language)
		}
		if err != nil {
			return ErrorResponse(err)
		}
		return DataResponse(result)
	}
}

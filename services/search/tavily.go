// Package search is the web search capability used by enhanced analysis.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lexitrend-go/circuitbreaker"
	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultURL is the Tavily search endpoint
	DefaultURL = "https://api.tavily.com/search"

	DepthBasic    = "basic"
	DepthAdvanced = "advanced"

	defaultTimeout = 30 * time.Second
)

var (
	ErrMissingKey = errors.New("Tavily API key not found. Please set it in the extension settings.")
	ErrInvalidKey = errors.New("The provided Tavily API key is invalid or has expired.")
	ErrEmptyQuery = errors.New("Tavily search query cannot be empty.")
)

// Query is a search request as it travels over the message boundary.
type Query struct {
	Query          string   `json:"query"`
	SearchDepth    string   `json:"searchDepth,omitempty"`
	MaxResults     int      `json:"maxResults,omitempty"`
	IncludeDomains []string `json:"includeDomains,omitempty"`
	ExcludeDomains []string `json:"excludeDomains,omitempty"`
}

// Result is a single hit.
type Result struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
	RawContent string  `json:"raw_content,omitempty"`
}

// Response is the provider's reply, passed through unchanged.
type Response struct {
	Query        string          `json:"query"`
	Answer       string          `json:"answer,omitempty"`
	Images       []string        `json:"images,omitempty"`
	Results      []Result        `json:"results"`
	ResponseTime json.RawMessage `json:"response_time,omitempty"`
}

// APIError is a non-2xx reply.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Tavily API error (%d): %s", e.Status, e.Detail)
}

// Tavily is the HTTP client for the Tavily search API.
type Tavily struct {
	url        string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	validate   singleflight.Group
}

// NewTavily creates a client. A nil breaker disables circuit breaking.
func NewTavily(url string, httpClient *http.Client, breaker *circuitbreaker.CircuitBreaker) *Tavily {
	if url == "" {
		url = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Tavily{url: url, httpClient: httpClient, breaker: breaker}
}

// Breaker returns the client's circuit breaker, or nil.
func (t *Tavily) Breaker() *circuitbreaker.CircuitBreaker {
	return t.breaker
}

type requestBody struct {
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth,omitempty"`
	MaxResults     int      `json:"max_results,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
	ExcludeDomains []string `json:"exclude_domains,omitempty"`
}

// Search posts q to the provider.
func (t *Tavily) Search(ctx context.Context, key string, q Query) (*Response, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrMissingKey
	}
	if strings.TrimSpace(q.Query) == "" {
		return nil, ErrEmptyQuery
	}

	var out *Response
	call := func() error {
		var err error
		out, err = t.post(ctx, key, requestBody{
			Query:          q.Query,
			SearchDepth:    q.SearchDepth,
			MaxResults:     q.MaxResults,
			IncludeDomains: q.IncludeDomains,
			ExcludeDomains: q.ExcludeDomains,
		})
		return err
	}

	var err error
	if t.breaker != nil {
		err = t.breaker.Execute(call, isClientError)
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			log.Warnf("%s Circuit open, skipping search (retry in %v)", logcolors.LogSearch, t.breaker.TimeUntilRetry().Round(time.Second))
		}
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	log.Debugf("%s %q returned %d result(s)", logcolors.LogSearch, q.Query, len(out.Results))
	return out, nil
}

// ValidateKey runs a minimal query with key. Concurrent checks of the same
// key share one request.
func (t *Tavily) ValidateKey(ctx context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, ErrMissingKey
	}

	v, err, shared := t.validate.Do(key, func() (any, error) {
		_, err := t.post(context.WithoutCancel(ctx), key, requestBody{Query: "test", SearchDepth: DepthBasic, MaxResults: 1})
		if errors.Is(err, ErrInvalidKey) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if shared {
		log.Debugf("%s Shared an in-flight key validation", logcolors.LogSearch)
	}
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (t *Tavily) post(ctx context.Context, key string, body requestBody) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidKey
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Detail: errorDetail(data, resp.StatusCode)}
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return &out, nil
}

// errorDetail pulls "detail" from an error body. It may be a string or an
// object carrying "error".
func errorDetail(data []byte, status int) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body.Detail, &obj) == nil && obj.Error != "" {
			return obj.Error
		}
		return string(body.Detail)
	}
	return http.StatusText(status)
}

// isClientError reports errors caused by the request rather than the
// provider; they do not count against the breaker.
func isClientError(err error) bool {
	if errors.Is(err, ErrInvalidKey) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
	}
	return false
}

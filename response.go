package main

import (
	"encoding/json"
	"net/http"

	"lexitrend-go/apperr"
	"lexitrend-go/middleware"
)

// APIResponse handles consistent header setting and JSON responses.
// It sets X-Model, Content-Language and X-RateLimit-Type from what the
// handler and the request context know.
type APIResponse struct {
	w        http.ResponseWriter
	r        *http.Request
	model    string
	language string
}

// Respond creates a response helper from request context
func Respond(w http.ResponseWriter, r *http.Request) *APIResponse {
	return &APIResponse{w: w, r: r}
}

// SetModel sets the X-Model header value
func (a *APIResponse) SetModel(model string) *APIResponse {
	a.model = model
	return a
}

// SetLanguage sets the Content-Language header value
func (a *APIResponse) SetLanguage(lang string) *APIResponse {
	a.language = lang
	return a
}

func (a *APIResponse) writeHeaders() {
	a.w.Header().Set("Content-Type", "application/json")

	if a.model != "" {
		a.w.Header().Set("X-Model", a.model)
	}
	if a.language != "" {
		a.w.Header().Set("Content-Language", a.language)
	}
	if rateLimitType, ok := a.r.Context().Value(middleware.RateLimitTypeKey).(string); ok && rateLimitType != "" {
		a.w.Header().Set("X-RateLimit-Type", rateLimitType)
	}
}

// JSON writes headers and encodes data as JSON (200 OK)
func (a *APIResponse) JSON(data interface{}) error {
	a.writeHeaders()
	return json.NewEncoder(a.w).Encode(data)
}

// Error writes headers, sets status code, and encodes error response
func (a *APIResponse) Error(statusCode int, data interface{}) error {
	a.writeHeaders()
	a.w.WriteHeader(statusCode)
	return json.NewEncoder(a.w).Encode(data)
}

// Fail reports an analysis error with the status its kind maps to.
func (a *APIResponse) Fail(err error) error {
	e := apperr.Normalize(err)
	return a.Error(statusForKind(e.Kind), map[string]interface{}{
		"error": map[string]interface{}{
			"message":     e.Message,
			"type":        e.Kind,
			"userMessage": e.UserMessage,
			"retryable":   e.Retryable,
		},
	})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAPI:
		return http.StatusBadGateway
	case apperr.KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Package messaging is the request/response boundary between the engine and
// its host. Every external capability that needs a host-held credential, such
// as web search, is reached through it.
package messaging

import (
	"context"
	"encoding/json"
	"errors"

	"lexitrend-go/apperr"
)

// Message types
const (
	TypeTavilySearch           = "TAVILY_SEARCH"
	TypeValidateTavilyKey      = "VALIDATE_TAVILY_KEY"
	TypeValidateAPIKey         = "VALIDATE_API_KEY"
	TypeAnalyzeKeyword         = "ANALYZE_KEYWORD"
	TypeAnalyzeKeywordEnhanced = "ANALYZE_KEYWORD_ENHANCED"
)

// errorName is the name carried by engine errors on the wire.
const errorName = "LexiTrendError"

type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response carries exactly one of the reply shapes: {data}, {error},
// {isValid, error?} or {success, error?}.
type Response struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
	IsValid *bool           `json:"isValid,omitempty"`
	Success *bool           `json:"success,omitempty"`
}

// ErrorBody is either an object {message, name, ...} or, for validation and
// dispatch replies, a plain string.
type ErrorBody struct {
	Message     string `json:"message"`
	Name        string `json:"name,omitempty"`
	Kind        string `json:"type,omitempty"`
	UserMessage string `json:"userMessage,omitempty"`

	plain bool
}

// PlainError is an ErrorBody that serializes as a bare string.
func PlainError(msg string) *ErrorBody {
	return &ErrorBody{Message: msg, plain: true}
}

// Plain reports whether the body is the string form.
func (e *ErrorBody) Plain() bool {
	return e.plain
}

type errorObject ErrorBody

func (e ErrorBody) MarshalJSON() ([]byte, error) {
	if e.plain {
		return json.Marshal(e.Message)
	}
	return json.Marshal(errorObject(e))
}

func (e *ErrorBody) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = ErrorBody{Message: s, plain: true}
		return nil
	}
	var obj errorObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = ErrorBody(obj)
	return nil
}

// Transport delivers a request and returns its reply. A transport error
// means the reply never arrived; failures of the handler itself are reported
// inside the Response.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// NewRequest encodes payload into a Request of type t.
func NewRequest(t string, payload any) (Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}
	return Request{Type: t, Payload: data}, nil
}

// DataResponse wraps v as {data: v}.
func DataResponse(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorResponse(err)
	}
	return Response{Data: data}
}

// ErrorResponse wraps err as {error: {message, name}}. Engine errors also
// carry their kind and localized message.
func ErrorResponse(err error) Response {
	body := &ErrorBody{Message: err.Error(), Name: "Error"}
	var e *apperr.Error
	if errors.As(err, &e) {
		body = &ErrorBody{Message: e.Message, Name: errorName, Kind: string(e.Kind), UserMessage: e.UserMessage}
	}
	return Response{Error: body}
}

// ValidResponse is the reply of a key validation.
func ValidResponse(valid bool, msg string) Response {
	r := Response{IsValid: &valid}
	if msg != "" {
		r.Error = PlainError(msg)
	}
	return r
}

// StatusResponse is a {success, error?} reply.
func StatusResponse(success bool, msg string) Response {
	r := Response{Success: &success}
	if msg != "" {
		r.Error = PlainError(msg)
	}
	return r
}

// Decode unmarshals the data of r into dst.
func (r Response) Decode(dst any) error {
	if len(r.Data) == 0 {
		return errors.New("response carries no data")
	}
	return json.Unmarshal(r.Data, dst)
}

// Package generation talks to language model backends. It offers a
// structured-output call and a bounded tool-calling loop.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// DefaultMaxSteps caps model round trips in a tool loop.
const DefaultMaxSteps = 3

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object.
	Parameters json.RawMessage
	Execute    func(ctx context.Context, args json.RawMessage) (any, error)
}

// ToolCall records one executed tool invocation.
type ToolCall struct {
	Name   string          `json:"toolName"`
	Args   json.RawMessage `json:"args"`
	Result json.RawMessage `json:"result"`
}

// ToolResult is the outcome of a tool loop.
type ToolResult struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"toolCalls"`
	Steps     int        `json:"steps"`
}

// StructuredRequest asks for JSON matching Schema.
type StructuredRequest struct {
	Model       string
	Credential  string
	System      string
	Prompt      string
	Schema      json.RawMessage
	Temperature float64
}

// ToolRequest runs a tool loop of at most MaxSteps model calls.
type ToolRequest struct {
	Model       string
	Credential  string
	System      string
	Prompt      string
	Tools       []Tool
	MaxSteps    int
	Temperature float64
}

// Generator is a language model backend.
type Generator interface {
	GenerateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error)
	GenerateWithTools(ctx context.Context, req ToolRequest) (*ToolResult, error)
}

// KeyValidator checks whether a credential is accepted by the backend.
type KeyValidator interface {
	ValidateKey(ctx context.Context, key string) (bool, error)
}

// APIError is a non-success reply from a backend.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.Status, e.Message)
}

// InvalidKey reports whether the backend rejected the credential.
func (e *APIError) InvalidKey() bool {
	return strings.Contains(e.Message, "API key not valid") || e.Status == 401 || e.Status == 403
}

func maxSteps(n int) int {
	if n <= 0 {
		return DefaultMaxSteps
	}
	return n
}

func findTool(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// executeTool runs one call. Unknown tools and tool errors become an error
// object the model can read; they never abort the loop.
func executeTool(ctx context.Context, tools []Tool, name string, args json.RawMessage) ToolCall {
	call := ToolCall{Name: name, Args: args}
	if len(call.Args) == 0 {
		call.Args = json.RawMessage(`{}`)
	}

	tool, ok := findTool(tools, name)
	if !ok {
		call.Result = errorObject(fmt.Sprintf("unknown tool %q", name))
		return call
	}

	log.Debugf("%s Executing tool %s with %s", logcolors.LogGeneration, name, string(call.Args))
	out, err := tool.Execute(ctx, call.Args)
	if err != nil {
		call.Result = errorObject(err.Error())
		return call
	}
	data, err := json.Marshal(out)
	if err != nil {
		call.Result = errorObject(err.Error())
		return call
	}
	call.Result = data
	return call
}

func errorObject(msg string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return data
}

// asObject wraps non-object JSON so it can be sent where an object is required.
func asObject(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		return raw
	}
	data, _ := json.Marshal(map[string]json.RawMessage{"result": raw})
	return data
}

// extractJSON strips a markdown code fence some models wrap JSON in.
func extractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" || !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("model returned invalid JSON")
	}
	return json.RawMessage(s), nil
}

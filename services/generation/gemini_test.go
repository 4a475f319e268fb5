package generation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// geminiServer replays canned replies and records request bodies.
type geminiServer struct {
	mu       sync.Mutex
	replies  []string
	status   int
	requests []map[string]any
	paths    []string
	keys     []string
}

func (s *geminiServer) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	var decoded map[string]any
	json.Unmarshal(body, &decoded)
	s.requests = append(s.requests, decoded)
	s.paths = append(s.paths, r.URL.Path)
	s.keys = append(s.keys, r.Header.Get("x-goog-api-key"))

	if s.status != 0 {
		w.WriteHeader(s.status)
	}
	reply := `{"candidates":[]}`
	if len(s.replies) > 0 {
		reply = s.replies[0]
		s.replies = s.replies[1:]
	}
	w.Write([]byte(reply))
}

func newGeminiTest(t *testing.T, s *geminiServer) *Gemini {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	t.Cleanup(srv.Close)
	return NewGemini(srv.URL, srv.Client())
}

const structuredSchema = `{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"definition":{"type":"string"},
		"sources":{"type":"array","items":{"type":"object","properties":{"url":{"type":"string"}}}}
	},
	"required":["definition"]
}`

func TestGeminiGenerateStructured(t *testing.T) {
	s := &geminiServer{replies: []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"definition\":\"d\"}"}]}}]}`,
	}}
	g := newGeminiTest(t, s)

	out, err := g.GenerateStructured(context.Background(), StructuredRequest{
		Model: "gemini-1.5-flash", Credential: "k1", System: "sys", Prompt: "analyze",
		Schema: json.RawMessage(structuredSchema), Temperature: 0.3,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"definition":"d"}`, string(out))

	require.Len(t, s.requests, 1)
	assert.Equal(t, "/models/gemini-1.5-flash:generateContent", s.paths[0])
	assert.Equal(t, "k1", s.keys[0])

	cfg := s.requests[0]["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", cfg["responseMimeType"])
	assert.Equal(t, 0.3, cfg["temperature"])
	schema := cfg["responseSchema"].(map[string]any)
	assert.Equal(t, "OBJECT", schema["type"])
	assert.NotContains(t, schema, "additionalProperties")
	items := schema["properties"].(map[string]any)["sources"].(map[string]any)["items"].(map[string]any)
	assert.Equal(t, "OBJECT", items["type"])

	sys := s.requests[0]["systemInstruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)
	assert.Equal(t, "sys", sys["text"])
}

func TestGeminiStructuredRejectsInvalidJSON(t *testing.T) {
	s := &geminiServer{replies: []string{
		`{"candidates":[{"content":{"parts":[{"text":"Sure! Here is the analysis."}]}}]}`,
	}}
	g := newGeminiTest(t, s)

	_, err := g.GenerateStructured(context.Background(), StructuredRequest{Model: "m", Schema: json.RawMessage(structuredSchema)})
	assert.Error(t, err)
}

func TestGeminiAPIError(t *testing.T) {
	s := &geminiServer{
		status:  http.StatusBadRequest,
		replies: []string{`{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`},
	}
	g := newGeminiTest(t, s)

	_, err := g.GenerateStructured(context.Background(), StructuredRequest{Model: "m"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.True(t, apiErr.InvalidKey())
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestGeminiToolLoop(t *testing.T) {
	s := &geminiServer{replies: []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"tavily_search","args":{"query":"rizz meaning"}}}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Rizz means charm."}]}}]}`,
	}}
	g := newGeminiTest(t, s)

	var gotArgs string
	res, err := g.GenerateWithTools(context.Background(), ToolRequest{
		Model: "m", Credential: "k", Prompt: "analyze rizz", MaxSteps: 3,
		Tools: []Tool{{
			Name:       "tavily_search",
			Parameters: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`),
			Execute: func(_ context.Context, args json.RawMessage) (any, error) {
				gotArgs = string(args)
				return []string{"a", "b"}, nil
			},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Rizz means charm.", res.Text)
	assert.Equal(t, 2, res.Steps)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "tavily_search", res.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"rizz meaning"}`, gotArgs)
	assert.JSONEq(t, `["a","b"]`, string(res.ToolCalls[0].Result))

	// second request carries the model turn and the function response
	require.Len(t, s.requests, 2)
	contents := s.requests[1]["contents"].([]any)
	require.Len(t, contents, 3)
	fr := contents[2].(map[string]any)["parts"].([]any)[0].(map[string]any)["functionResponse"].(map[string]any)
	assert.Equal(t, "tavily_search", fr["name"])
	assert.Equal(t, map[string]any{"result": []any{"a", "b"}}, fr["response"])

	decl := s.requests[0]["tools"].([]any)[0].(map[string]any)["functionDeclarations"].([]any)[0].(map[string]any)
	assert.Equal(t, "OBJECT", decl["parameters"].(map[string]any)["type"])
}

func TestGeminiToolLoopRespectsStepBudget(t *testing.T) {
	call := `{"candidates":[{"content":{"parts":[{"text":"partial"},{"functionCall":{"name":"tavily_search","args":{"query":"q"}}}]}}]}`
	s := &geminiServer{replies: []string{call, call, call, call}}
	g := newGeminiTest(t, s)

	executions := 0
	res, err := g.GenerateWithTools(context.Background(), ToolRequest{
		Model: "m", Prompt: "p", MaxSteps: 2,
		Tools: []Tool{{Name: "tavily_search", Execute: func(context.Context, json.RawMessage) (any, error) {
			executions++
			return map[string]string{"ok": "1"}, nil
		}}},
	})
	require.NoError(t, err)

	assert.Len(t, s.requests, 2)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, 2, executions)
	assert.Len(t, res.ToolCalls, 2)
	assert.Equal(t, "partial", res.Text)
}

func TestGeminiValidateKey(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
		want   bool
		err    bool
	}{
		{"valid", 0, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`, true, false},
		{"invalid", http.StatusBadRequest, `{"error":{"code":400,"message":"API key not valid."}}`, false, false},
		{"forbidden", http.StatusForbidden, `{"error":{"code":403,"message":"denied"}}`, false, false},
		{"server error", http.StatusInternalServerError, `{"error":{"code":500,"message":"boom"}}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &geminiServer{status: tt.status, replies: []string{tt.reply}}
			g := newGeminiTest(t, s)

			ok, err := g.ValidateKey(context.Background(), "key")
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.err, err != nil)
		})
	}

	g := NewGemini("", nil)
	ok, err := g.ValidateKey(context.Background(), "  ")
	assert.False(t, ok)
	assert.NoError(t, err)
}

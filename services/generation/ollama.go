package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"lexitrend-go/logcolors"

	ollama "github.com/ollama/ollama/api"
	log "github.com/sirupsen/logrus"
)

// DefaultOllamaURL is where a local ollama daemon listens
const DefaultOllamaURL = "http://localhost:11434"

// ollamaClient is the part of the ollama API client used here.
type ollamaClient interface {
	Chat(ctx context.Context, req *ollama.ChatRequest, fn ollama.ChatResponseFunc) error
	List(ctx context.Context) (*ollama.ListResponse, error)
}

// Ollama runs models on a local ollama daemon. Credentials are ignored.
type Ollama struct {
	client ollamaClient
}

// NewOllama connects to the daemon at baseURL (DefaultOllamaURL when empty).
func NewOllama(baseURL string, httpClient *http.Client) (*Ollama, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * defaultTimeout}
	}
	return &Ollama{client: ollama.NewClient(u, httpClient)}, nil
}

func (o *Ollama) chat(ctx context.Context, req *ollama.ChatRequest) (ollama.Message, error) {
	stream := false
	req.Stream = &stream

	var (
		content strings.Builder
		calls   []ollama.ToolCall
	)
	err := o.client.Chat(ctx, req, func(res ollama.ChatResponse) error {
		content.WriteString(res.Message.Content)
		calls = append(calls, res.Message.ToolCalls...)
		return nil
	})
	if err != nil {
		var status ollama.StatusError
		if asStatusError(err, &status) {
			return ollama.Message{}, &APIError{Provider: "ollama", Status: status.StatusCode, Message: status.ErrorMessage}
		}
		return ollama.Message{}, fmt.Errorf("ollama chat failed: %w", err)
	}
	return ollama.Message{Role: "assistant", Content: content.String(), ToolCalls: calls}, nil
}

func asStatusError(err error, target *ollama.StatusError) bool {
	switch e := err.(type) {
	case ollama.StatusError:
		*target = e
		return true
	case *ollama.StatusError:
		*target = *e
		return true
	}
	return false
}

func baseMessages(system, prompt string) []ollama.Message {
	var msgs []ollama.Message
	if system != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: system})
	}
	return append(msgs, ollama.Message{Role: "user", Content: prompt})
}

// GenerateStructured passes the schema as the response format.
func (o *Ollama) GenerateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error) {
	msg, err := o.chat(ctx, &ollama.ChatRequest{
		Model:    req.Model,
		Messages: baseMessages(req.System, req.Prompt),
		Format:   req.Schema,
		Options:  map[string]any{"temperature": req.Temperature},
	})
	if err != nil {
		return nil, err
	}
	return extractJSON(msg.Content)
}

// ollamaTools builds native tool definitions from the JSON schemas.
func ollamaTools(tools []Tool) (ollama.Tools, error) {
	type function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	}
	type tool struct {
		Type     string   `json:"type"`
		Function function `json:"function"`
	}

	defs := make([]tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		defs = append(defs, tool{Type: "function", Function: function{Name: t.Name, Description: t.Description, Parameters: params}})
	}
	data, err := json.Marshal(defs)
	if err != nil {
		return nil, err
	}
	var out ollama.Tools
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid tool schema: %w", err)
	}
	return out, nil
}

// GenerateWithTools runs the native tool-calling loop.
func (o *Ollama) GenerateWithTools(ctx context.Context, req ToolRequest) (*ToolResult, error) {
	tools, err := ollamaTools(req.Tools)
	if err != nil {
		return nil, err
	}

	messages := baseMessages(req.System, req.Prompt)
	result := &ToolResult{}
	limit := maxSteps(req.MaxSteps)

	for step := 1; step <= limit; step++ {
		msg, err := o.chat(ctx, &ollama.ChatRequest{
			Model:    req.Model,
			Messages: messages,
			Tools:    tools,
			Options:  map[string]any{"temperature": req.Temperature},
		})
		if err != nil {
			return nil, err
		}
		result.Steps = step
		result.Text = msg.Content
		if len(msg.ToolCalls) == 0 {
			break
		}

		messages = append(messages, msg)
		for _, tc := range msg.ToolCalls {
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				args = nil
			}
			call := executeTool(ctx, req.Tools, tc.Function.Name, args)
			result.ToolCalls = append(result.ToolCalls, call)
			messages = append(messages, ollama.Message{Role: "tool", Content: string(call.Result)})
		}
		log.Debugf("%s Step %d executed %d tool call(s)", logcolors.LogGeneration, step, len(msg.ToolCalls))
	}

	return result, nil
}

// ValidateKey checks the daemon is reachable; ollama has no credentials.
func (o *Ollama) ValidateKey(ctx context.Context, _ string) (bool, error) {
	if _, err := o.client.List(ctx); err != nil {
		return false, err
	}
	return true, nil
}

package generation

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

	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultGeminiURL is the Generative Language API root
	DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

	defaultTimeout = 60 * time.Second
	validateModel  = "gemini-1.5-flash"
)

// Gemini calls the Generative Language REST API.
type Gemini struct {
	baseURL    string
	httpClient *http.Client
}

// NewGemini creates a client. An empty baseURL uses DefaultGeminiURL and a
// nil client gets a 60s timeout.
func NewGemini(baseURL string, httpClient *http.Client) *Gemini {
	if baseURL == "" {
		baseURL = DefaultGeminiURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Gemini{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
	ResponseSchema   any      `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func (g *Gemini) generate(ctx context.Context, model, key string, body geminiRequest) (*geminiContent, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	log.Debugf("%s POST %s", logcolors.LogGeneration, url)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || parsed.Error != nil {
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, &APIError{Provider: "gemini", Status: resp.StatusCode, Message: msg}
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}
	return &parsed.Candidates[0].Content, nil
}

func textOf(c *geminiContent) string {
	var sb strings.Builder
	for _, p := range c.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func systemContent(system string) *geminiContent {
	if system == "" {
		return nil
	}
	return &geminiContent{Parts: []geminiPart{{Text: system}}}
}

func userContent(prompt string) geminiContent {
	return geminiContent{Role: "user", Parts: []geminiPart{{Text: prompt}}}
}

// GenerateStructured requests a JSON response constrained by req.Schema.
func (g *Gemini) GenerateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error) {
	schema, err := geminiSchema(req.Schema)
	if err != nil {
		return nil, err
	}
	temp := req.Temperature
	content, err := g.generate(ctx, req.Model, req.Credential, geminiRequest{
		SystemInstruction: systemContent(req.System),
		Contents:          []geminiContent{userContent(req.Prompt)},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      &temp,
			ResponseMimeType: "application/json",
			ResponseSchema:   schema,
		},
	})
	if err != nil {
		return nil, err
	}
	return extractJSON(textOf(content))
}

// GenerateWithTools runs the function-calling loop. Calls requested in the
// last allowed step are still executed and recorded.
func (g *Gemini) GenerateWithTools(ctx context.Context, req ToolRequest) (*ToolResult, error) {
	decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
	for _, t := range req.Tools {
		params, err := geminiSchema(t.Parameters)
		if err != nil {
			return nil, err
		}
		decls = append(decls, geminiFunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: params})
	}
	var tools []geminiTool
	if len(decls) > 0 {
		tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	temp := req.Temperature
	contents := []geminiContent{userContent(req.Prompt)}
	result := &ToolResult{}
	limit := maxSteps(req.MaxSteps)

	for step := 1; step <= limit; step++ {
		content, err := g.generate(ctx, req.Model, req.Credential, geminiRequest{
			SystemInstruction: systemContent(req.System),
			Contents:          contents,
			Tools:             tools,
			GenerationConfig:  &geminiGenerationConfig{Temperature: &temp},
		})
		if err != nil {
			return nil, err
		}
		result.Steps = step
		result.Text = textOf(content)

		var responses []geminiPart
		for _, part := range content.Parts {
			if part.FunctionCall == nil {
				continue
			}
			call := executeTool(ctx, req.Tools, part.FunctionCall.Name, part.FunctionCall.Args)
			result.ToolCalls = append(result.ToolCalls, call)
			responses = append(responses, geminiPart{FunctionResponse: &geminiFunctionResponse{
				Name:     call.Name,
				Response: asObject(call.Result),
			}})
		}
		if len(responses) == 0 {
			break
		}

		content.Role = "model"
		contents = append(contents, *content, geminiContent{Role: "user", Parts: responses})
	}

	return result, nil
}

// ValidateKey makes a one-token call with key.
func (g *Gemini) ValidateKey(ctx context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, nil
	}
	_, err := g.generate(ctx, validateModel, key, geminiRequest{
		Contents:         []geminiContent{userContent("test")},
		GenerationConfig: &geminiGenerationConfig{MaxOutputTokens: 1},
	})
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.InvalidKey() || apiErr.Status == http.StatusBadRequest) {
		return false, nil
	}
	return false, err
}

// geminiSchema converts a JSON schema into the OpenAPI subset Gemini
// accepts: upper-case type names and no unsupported keywords.
func geminiSchema(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var schema any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return convertSchema(schema), nil
}

var geminiSchemaKeys = map[string]bool{
	"type": true, "description": true, "properties": true, "required": true,
	"items": true, "enum": true, "format": true, "nullable": true,
	"minimum": true, "maximum": true,
}

func convertSchema(node any) any {
	obj, ok := node.(map[string]any)
	if !ok {
		return node
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if !geminiSchemaKeys[k] {
			continue
		}
		switch k {
		case "type":
			if s, ok := v.(string); ok {
				out[k] = strings.ToUpper(s)
			}
		case "properties":
			props, _ := v.(map[string]any)
			converted := make(map[string]any, len(props))
			for name, p := range props {
				converted[name] = convertSchema(p)
			}
			out[k] = converted
		case "items":
			out[k] = convertSchema(v)
		default:
			out[k] = v
		}
	}
	return out
}

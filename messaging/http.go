package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// maxMessageBytes caps a request body accepted by HTTPHandler.
const maxMessageBytes = 1 << 20

// HTTPHandler serves the bus over POST. Every reply, including unknown
// types, is 200 with the Response body; only malformed requests are 400.
func HTTPHandler(b *Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req Request
		if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&req); err != nil {
			log.Warnf("%s Malformed message: %v", logcolors.LogMessaging, err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(StatusResponse(false, "Malformed message: "+err.Error()))
			return
		}

		resp := b.Dispatch(r.Context(), req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// HTTPTransport sends requests to a remote HTTPHandler.
type HTTPTransport struct {
	url        string
	httpClient *http.Client
	token      string
}

// NewHTTPTransport targets url, the full address of the message endpoint.
// A non-empty token is sent as the X-API-Key header.
func NewHTTPTransport(url string, httpClient *http.Client, token string) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPTransport{url: url, httpClient: httpClient, token: token}
}

func (t *HTTPTransport) Send(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		httpReq.Header.Set("X-API-Key", t.token)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("message %s failed: %w", req.Type, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read reply: %w", err)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return Response{}, fmt.Errorf("message endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
		}
		return Response{}, fmt.Errorf("failed to decode reply: %w", err)
	}
	return out, nil
}

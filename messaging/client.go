package messaging

import (
	"context"
	"fmt"

	"lexitrend-go/apperr"
	"lexitrend-go/services/search"
)

const opSearch = "tavilySearch"

// SearchClient reaches web search through a Transport. The host side holds
// the credential.
type SearchClient struct {
	transport Transport
}

func NewSearchClient(t Transport) *SearchClient {
	return &SearchClient{transport: t}
}

// Search sends TAVILY_SEARCH. An {error} reply comes back as an api error
// carrying the reply's message and name.
func (c *SearchClient) Search(ctx context.Context, q search.Query) (*search.Response, error) {
	req, err := NewRequest(TypeTavilySearch, q)
	if err != nil {
		return nil, apperr.API(fmt.Sprintf("Tavily search failed: %v", err), apperr.WithOperation(opSearch), apperr.WithCause(err))
	}

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, apperr.API(fmt.Sprintf("Tavily search failed: %v", err), apperr.WithOperation(opSearch), apperr.WithCause(err))
	}
	if resp.Error != nil {
		return nil, replyError(resp.Error)
	}

	var out search.Response
	if err := resp.Decode(&out); err != nil {
		return nil, apperr.API(fmt.Sprintf("Tavily search failed: %v", err), apperr.WithOperation(opSearch), apperr.WithCause(err))
	}
	return &out, nil
}

// ValidateKey sends VALIDATE_TAVILY_KEY. A reply with isValid false is a
// rejection, not an error; its message is returned alongside.
func (c *SearchClient) ValidateKey(ctx context.Context, key string) (bool, string, error) {
	req, err := NewRequest(TypeValidateTavilyKey, keyPayload{APIKey: key})
	if err != nil {
		return false, "", err
	}
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return false, "", err
	}
	var msg string
	if resp.Error != nil {
		msg = resp.Error.Message
	}
	return resp.IsValid != nil && *resp.IsValid, msg, nil
}

func replyError(body *ErrorBody) *apperr.Error {
	msg := body.Message
	if msg == "" {
		msg = "An unknown error occurred during the Tavily search."
	}
	opts := []apperr.Option{apperr.WithOperation(opSearch)}
	if body.Name != "" {
		opts = append(opts, apperr.WithDetail("name", body.Name))
	}
	return apperr.API(msg, opts...)
}

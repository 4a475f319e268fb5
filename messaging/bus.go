package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// Handler answers one message type.
type Handler func(ctx context.Context, payload json.RawMessage) Response

// Bus dispatches requests to the handler registered for their type. It is
// the in-process Transport.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string]Handler)}
}

// Handle registers h for t, replacing any previous handler.
func (b *Bus) Handle(t string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = h
}

// Types lists the registered message types.
func (b *Bus) Types() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	types := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		types = append(types, t)
	}
	return types
}

// Dispatch runs the handler for req. Unknown types get a {success:false}
// reply naming the type.
func (b *Bus) Dispatch(ctx context.Context, req Request) Response {
	b.mu.RLock()
	h, ok := b.handlers[req.Type]
	b.mu.RUnlock()

	if !ok {
		log.Warnf("%s Unknown message type received: %q", logcolors.LogMessaging, req.Type)
		return StatusResponse(false, fmt.Sprintf("Unknown message type: %s", req.Type))
	}

	log.Debugf("%s Dispatching %s", logcolors.LogMessaging, req.Type)
	return h(ctx, req.Payload)
}

// Send implements Transport. It never returns an error.
func (b *Bus) Send(ctx context.Context, req Request) (Response, error) {
	return b.Dispatch(ctx, req), nil
}

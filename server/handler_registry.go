package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/cornelk/hashmap"

	"github.com/nedpals/davi-nfc-bridge/protocol"
)

// HandlerFunc handles one websocket request. The returned payload is sent
// back in a successful Response; a returned error becomes a failed one.
type HandlerFunc func(ctx context.Context, client *Client, req protocol.Request) (any, error)

// WebSocketHandlerFunc takes over a websocket connection before request
// routing. It returns false to fall through to the default session handling.
type WebSocketHandlerFunc func(w http.ResponseWriter, r *http.Request) bool

// HandlerServer is the surface a ServerHandler registers against.
type HandlerServer interface {
	// Handle routes requests of messageType to handler.
	Handle(messageType string, handler HandlerFunc) error

	// HandleWebSocket intercepts upgrade requests for which matcher returns
	// true.
	HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc)

	// StartLifecycle runs start once the server is serving.
	StartLifecycle(start func(ctx context.Context))
}

// ServerHandler plugs a feature (requests, connection takeover, background
// work) into the server in one Register call.
type ServerHandler interface {
	Register(server HandlerServer)
}

type interceptor struct {
	matcher func(r *http.Request) bool
	handler WebSocketHandlerFunc
}

// HandlerRegistry routes request types to handlers. Routes are read on every
// request without locking; writers, interceptors and lifecycle hooks share
// the mutex.
type HandlerRegistry struct {
	routes *hashmap.Map[string, HandlerFunc]

	mu           sync.Mutex
	interceptors []interceptor
	starters     []func(ctx context.Context)
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{routes: hashmap.New[string, HandlerFunc]()}
}

// Handle registers handler for messageType. A type can be registered once.
func (r *HandlerRegistry) Handle(messageType string, handler HandlerFunc) error {
	switch {
	case handler == nil:
		return errors.New("handler cannot be nil")
	case messageType == "":
		return errors.New("message type cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes.Get(messageType); exists {
		return fmt.Errorf("handler for message type '%s' already registered", messageType)
	}
	r.routes.Set(messageType, handler)
	return nil
}

func (r *HandlerRegistry) RegisterLifecycle(start func(ctx context.Context)) {
	r.mu.Lock()
	r.starters = append(r.starters, start)
	r.mu.Unlock()
}

func (r *HandlerRegistry) HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc) {
	r.mu.Lock()
	r.interceptors = append(r.interceptors, interceptor{matcher: matcher, handler: handler})
	r.mu.Unlock()
}

// TryCustomWebSocketHandler hands req to the first matching interceptor and
// reports whether it served the connection.
func (r *HandlerRegistry) TryCustomWebSocketHandler(w http.ResponseWriter, req *http.Request) bool {
	r.mu.Lock()
	interceptors := r.interceptors
	r.mu.Unlock()

	// Interceptors own the connection until it closes, so they run unlocked.
	for _, ic := range interceptors {
		if ic.matcher(req) {
			return ic.handler(w, req)
		}
	}
	return false
}

func (r *HandlerRegistry) Get(messageType string) (HandlerFunc, bool) {
	return r.routes.Get(messageType)
}

func (r *HandlerRegistry) Has(messageType string) bool {
	_, ok := r.routes.Get(messageType)
	return ok
}

// MessageTypes returns all registered message types, sorted.
func (r *HandlerRegistry) MessageTypes() []string {
	types := make([]string, 0, r.routes.Len())
	r.routes.Range(func(t string, _ HandlerFunc) bool {
		types = append(types, t)
		return true
	})
	sort.Strings(types)
	return types
}

// StartLifecycleHandlers runs every registered lifecycle hook with ctx.
func (r *HandlerRegistry) StartLifecycleHandlers(ctx context.Context) {
	r.mu.Lock()
	starters := r.starters
	r.mu.Unlock()

	for _, start := range starters {
		start(ctx)
	}
}

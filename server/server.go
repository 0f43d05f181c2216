// Package server provides HTTP and WebSocket server infrastructure for the NFC bridge.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"github.com/nedpals/davi-nfc-bridge/buildinfo"
	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

// Config holds the server configuration
type Config struct {
	Bridge Bridge
	Port   int
	// APISecret, when set, must be passed as ?secret= or a bearer token.
	APISecret string
	// MDNS advertises the bridge on the local network.
	MDNS bool
	// EventPolicy is the backpressure policy of every client subscription.
	EventPolicy nfc.Policy
	Logger      logrus.FieldLogger
	Handlers    []ServerHandler
}

// Server manages the HTTP and WebSocket server
type Server struct {
	config   Config
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	clients  *hashmap.Map[uint64, *Client]
	clientID atomic.Uint64

	// Handler registry (unified for both client and phone connections)
	handlerRegistry *HandlerRegistry

	mu         sync.Mutex
	httpServer *http.Server
	mdnsServer *zeroconf.Server
	cancel     context.CancelFunc
}

// New creates a new server instance
func New(config Config) *Server {
	if config.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		config.Logger = l
	}
	s := &Server{
		config: config,
		log:    config.Logger.WithField("component", "server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		clients:         hashmap.New[uint64, *Client](),
		handlerRegistry: NewHandlerRegistry(),
	}

	if config.Bridge != nil {
		NewSessionHandler(config.Bridge).Register(s)
	}
	for _, h := range config.Handlers {
		h.Register(s)
	}
	return s
}

// Handle implements HandlerServer interface.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.handlerRegistry.Handle(messageType, handler)
}

// HandleWebSocket implements HandlerServer interface.
func (s *Server) HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc) {
	s.handlerRegistry.HandleWebSocket(matcher, handler)
}

// StartLifecycle implements HandlerServer interface.
func (s *Server) StartLifecycle(start func(ctx context.Context)) {
	s.handlerRegistry.RegisterLifecycle(start)
}

// ClientCount returns the number of connected callers.
func (s *Server) ClientCount() int {
	return s.clients.Len()
}

// Handler returns the HTTP routes of the bridge.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathHealth, enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealthCheck(w, r)
	}))
	mux.HandleFunc(PathWebSocket, s.handleWebSocket)
	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(buildinfo.DisplayName + " running"))
	}))
	return mux
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// Start listens on the configured port and blocks until ctx is done or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	srv := &http.Server{Handler: s.Handler()}

	s.mu.Lock()
	s.httpServer = srv
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		s.log.Infof("Starting server on %s", ln.Addr())
		errc <- srv.Serve(ln)
	}()

	if s.config.MDNS {
		port := s.config.Port
		if addr, ok := ln.Addr().(*net.TCPAddr); ok {
			port = addr.Port
		}
		if err := s.startMDNS(port); err != nil {
			s.log.WithError(err).Warn("Failed to start mDNS service, auto-discovery will not be available")
		}
	}

	s.handlerRegistry.StartLifecycleHandlers(ctx)

	select {
	case <-ctx.Done():
		s.Stop()
		<-errc
		return nil
	case err := <-errc:
		s.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// Stop stops the HTTP server gracefully and disconnects every client.
func (s *Server) Stop() {
	s.mu.Lock()
	mdns, srv, cancel := s.mdnsServer, s.httpServer, s.cancel
	s.mdnsServer, s.httpServer, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if mdns != nil {
		mdns.Shutdown()
		s.log.Info("mDNS service stopped")
	}
	if srv != nil {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("Server shutdown error")
		}
		done()
	}
	s.clients.Range(func(_ uint64, c *Client) bool {
		c.close()
		return true
	})
	if cancel != nil {
		cancel()
	}
}

// mdnsTXTRecords lists the build fields, sorted by key, then the connection
// hints clients need to reach the bridge.
func mdnsTXTRecords() []string {
	fields := buildinfo.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]string, 0, len(keys)+4)
	for _, k := range keys {
		records = append(records, k+"="+fields[k])
	}
	return append(records,
		"protocol=websocket",
		"path="+PathWebSocket,
		"radio_mode=?mode=radio",
		"encodings=json,cbor",
	)
}

// startMDNS registers the bridge as an mDNS service for auto-discovery
func (s *Server) startMDNS(port int) error {
	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, mdnsTXTRecords(), nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = server
	s.mu.Unlock()
	s.log.Infof("mDNS service registered: %s on port %d", MDNSServiceName, port)
	return nil
}

func (s *Server) authorized(r *http.Request) bool {
	if s.config.APISecret == "" {
		return true
	}
	secret := r.URL.Query().Get("secret")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		secret = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(s.config.APISecret)) == 1
}

// handleWebSocket upgrades HTTP connections to WebSocket connections and manages
// the client connection lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Phone radios and other custom connections take over here. Phones
	// pair without the API secret.
	if s.handlerRegistry.TryCustomWebSocketHandler(w, r) {
		return
	}

	if !s.authorized(r) {
		s.log.WithField("remote", r.RemoteAddr).Warn("WebSocket connection rejected: invalid API secret")
		http.Error(w, "Unauthorized: Invalid API secret", http.StatusUnauthorized)
		return
	}

	codec, err := protocol.CodecFor(r.URL.Query().Get("encoding"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.config.Bridge == nil {
		http.Error(w, "Server configuration error", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	id := s.clientID.Add(1)
	c := &Client{
		id:     id,
		conn:   conn,
		codec:  codec,
		remote: r.RemoteAddr,
		sub:    s.config.Bridge.Subscribe(s.config.EventPolicy),
		log:    s.log.WithFields(logrus.Fields{"client": id, "remote": r.RemoteAddr}),
	}
	s.clients.Set(id, c)
	c.log.WithField("encoding", codec.Name()).Info("WebSocket connected")

	defer func() {
		s.clients.Del(id)
		c.close()
		c.log.WithField("dropped", c.sub.Dropped()).Info("WebSocket disconnected")
	}()

	if err := c.Send(protocol.TypeRadioStatus, radioStatusInfo(s.config.Bridge)); err != nil {
		return
	}
	go c.pumpEvents()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error")
			}
			return
		}

		var req protocol.Request
		if err := codec.Unmarshal(data, &req); err != nil {
			c.log.WithError(err).Debug("Failed to parse WebSocket message")
			c.replyError("", "", protocol.ErrCodeInvalidRequest, "Invalid message format")
			continue
		}
		s.dispatch(r.Context(), c, req)
	}
}

func (s *Server) dispatch(ctx context.Context, c *Client, req protocol.Request) {
	handler, ok := s.handlerRegistry.Get(req.Type)
	if !ok {
		c.log.WithField("type", req.Type).Debug("Unknown message type")
		c.replyError(req.ID, req.Type, protocol.ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
		return
	}

	payload, err := handler(ctx, c, req)
	if err != nil {
		info := errorInfo(err)
		c.log.WithError(err).WithFields(logrus.Fields{"type": req.Type, "code": info.Code}).Debug("request failed")
		c.replyError(req.ID, req.Type, info.Code, info.Message)
		return
	}
	if err := c.reply(req, payload); err != nil {
		c.log.WithError(err).Debug("Failed to send response")
	}
}

// handleHealthCheck provides a health check endpoint (GET /api/v1/health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "ok",
		"version":   buildinfo.FullVersion(),
		"build":     buildinfo.Fields(),
		"clients":   s.clients.Len(),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if b := s.config.Bridge; b != nil {
		health["radio"] = radioStatusInfo(b)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

// Package server exposes the batch engine over HTTP for `hubrun serve`:
// start, progress, cancel, retry, balances and a websocket event stream.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/hubrun/am"
	"github.com/teranos/hubrun/logger"
	"github.com/teranos/hubrun/runner"
)

// Server serves one Runner. Batches it starts are bound to the server's
// lifetime, not to the HTTP request that started them.
type Server struct {
	runner        *runner.Runner
	logger        *zap.SugaredLogger
	configWatcher *am.ConfigWatcher
	router        http.Handler

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	// HTTP server with timeouts
	httpServer *http.Server

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	broadcastDrops atomic.Int64
	state          atomic.Int32
}

// Option configures a Server
type Option func(*Server)

// WithLogger replaces the default "server" component logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Server) { s.logger = log }
}

// WithConfigWatcher reloads the runner's config when the watched file changes
func WithConfigWatcher(cw *am.ConfigWatcher) Option {
	return func(s *Server) { s.configWatcher = cw }
}

// New creates a server. Call Run (or Start) to begin streaming events.
func New(r *runner.Runner, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:     r,
		logger:     logger.ComponentLogger("server"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRoutes()

	if s.configWatcher != nil {
		s.configWatcher.OnReload(func(cfg *am.Config) error {
			return s.runner.UpdateConfig(cfg)
		})
	}
	return s
}

// Handler returns the HTTP handler with every route
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run is the client hub loop. It forwards batch events to websocket clients
// until the server stops.
func (s *Server) Run() {
	events, unsubscribe := s.runner.Coordinator().Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Server hub stopping due to context cancellation")
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		case e, ok := <-events:
			if !ok {
				return
			}
			s.broadcastMessage(EventMessage{Type: "batch_event", Event: e})
		}
	}
}

// handleClientRegister handles a new client connection
func (s *Server) handleClientRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients)
		client.close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected", "client_id", client.id, "total_clients", total)

	// Late joiners get the current progress right away
	if h := s.runner.Coordinator().Current(); h != nil {
		p := h.Progress()
		client.trySend(ProgressMessage{Type: "progress", Progress: &p})
	}
}

// handleClientUnregister handles a client disconnection
func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	total := len(s.clients)
	s.mu.Unlock()

	client.close()
	s.logger.Infow("Client disconnected", "client_id", client.id, "total_clients", total)
}

// broadcastMessage sends a message to all connected clients.
// Returns the number of clients that accepted the message (channel not full).
func (s *Server) broadcastMessage(msg interface{}) int {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if client.trySend(msg) {
			sent++
		} else {
			s.broadcastDrops.Add(1)
		}
	}
	return sent
}

// ClientCount returns the number of connected websocket clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/logger"
	"github.com/teranos/hubrun/sym"
)

// getState returns the current server state
func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

// setState atomically updates the server state
func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", "new_state", stateString(newState))
}

// stateString returns human-readable state name
func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Start runs the event hub and serves HTTP on bindAddress:port until Stop.
// It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(bindAddress string, port int) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()

	if s.configWatcher != nil {
		s.configWatcher.Start()
	}

	addr := net.JoinHostPort(bindAddress, fmt.Sprint(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WithHint(errors.Wrapf(err, "failed to listen on %s", addr),
			"choose another port with --port or server.port in the config")
	}

	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Infow(fmt.Sprintf("%s HTTP server listening on %s", sym.Hub, listener.Addr()),
		logger.FieldURL, "http://"+listener.Addr().String())

	return srv.Serve(listener)
}

// Stop cancels any running batch, closes websocket clients and shuts the
// HTTP server down
func (s *Server) Stop() error {
	s.logger.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	if h := s.runner.Coordinator().Current(); h != nil {
		select {
		case <-h.Done():
		default:
			s.logger.Infow("Cancelling running batch", logger.FieldBatchID, h.ID())
			summary := h.Cancel()
			if err := s.runner.Record(summary); err != nil {
				s.logger.Warnw("Failed to record cancelled batch", logger.FieldError, err)
			}
		}
	}

	var shutdownErr error
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		shutdownErr = srv.Shutdown(ctx)
		cancel()
	}

	// Close all client connections BEFORE cancelling context
	// This ensures readPump/writePump exit cleanly before context cancellation
	s.mu.Lock()
	clientsToClose := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clientsToClose = append(clientsToClose, client)
		delete(s.clients, client)
	}
	s.mu.Unlock()

	if len(clientsToClose) > 0 {
		s.logger.Infow("Closing client connections", logger.FieldCount, len(clientsToClose))
		for _, client := range clientsToClose {
			client.close()
			client.conn.Close()
		}
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("All goroutines stopped cleanly")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out, forcing exit",
			"timeout", ShutdownTimeout)
	}

	if s.configWatcher != nil {
		if err := s.configWatcher.Stop(); err != nil {
			s.logger.Warnw("Failed to stop config watcher", logger.FieldError, err)
		}
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete",
		"broadcast_drops", s.broadcastDrops.Load())

	return shutdownErr
}

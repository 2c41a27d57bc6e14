package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Server owns the HTTP listener for the API and the /ws streams.
type Server struct {
	mu         sync.Mutex
	httpServer *http.Server
}

const (
	maxHeaderBytes    = 1 << 20 // 1 MB
	readHeaderTimeout = 10 * time.Second
	// Upgraded websocket connections clear their deadlines, so this only
	// bounds plain API responses.
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// normalizeAddr accepts "8080" or ":8080".
func normalizeAddr(port string) string {
	if port == "" || strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// Run serves handler on port until Shutdown. A graceful shutdown is not an
// error.
func (s *Server) Run(port string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              normalizeAddr(port),
		Handler:           handler,
		MaxHeaderBytes:    maxHeaderBytes,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown lets in-flight requests finish until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

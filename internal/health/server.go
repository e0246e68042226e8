// Package health serves the liveness endpoints used by hosting platforms to
// keep the bot process awake and to report its gateway state.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

// DefaultAddr listens on all interfaces, port 8080.
const DefaultAddr = ":8080"

const shutdownTimeout = 5 * time.Second

// StatusSource reports whether the bot currently holds a gateway session.
type StatusSource interface {
	Connected() bool
}

// StatusFunc adapts a plain function to StatusSource.
type StatusFunc func() bool

func (f StatusFunc) Connected() bool { return f() }

// Server provides the HTTP health interface.
type Server struct {
	addr    string
	status  StatusSource
	started time.Time
	now     func() time.Time
	router  *httprouter.Router
	server  *http.Server
}

// NewServer creates a health server. A nil status reports disconnected.
func NewServer(addr string, status StatusSource) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if status == nil {
		status = StatusFunc(func() bool { return false })
	}
	s := &Server{
		addr:    addr,
		status:  status,
		started: time.Now(),
		now:     time.Now,
		router:  httprouter.New(),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/status", s.handleStatus)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("health server listening")
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	if err := s.Stop(); err != nil {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type indexResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type statusResponse struct {
	Status    string `json:"status"`
	BotStatus string `json:"bot_status"`
	Uptime    string `json:"uptime"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, indexResponse{Status: "online", Message: "WhatDoTheyKnow search bot is running"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	bot := "disconnected"
	if s.status.Connected() {
		bot = "connected"
	}
	writeJSON(w, statusResponse{
		Status:    "healthy",
		BotStatus: bot,
		Uptime:    s.now().Sub(s.started).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("health: encode response")
	}
}

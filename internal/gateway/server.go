package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lobbyd/lobbyd/internal/config"
)

// Server is the HTTP front of the gateway: it upgrades /ws connections,
// serves the health endpoint, and mounts the auth routes. It implements
// the lifecycle Service interface.
type Server struct {
	cfg    config.ServerConfig
	wsCfg  config.WebSocketConfig
	hub    *Hub
	auth   *AuthHandler
	logger *zap.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer creates a gateway server.
//
// Precondition: hub and logger must be non-nil; the hub must be bound to a
// matchmaker before Start. auth may be nil, which disables the auth routes.
func NewServer(cfg config.ServerConfig, wsCfg config.WebSocketConfig, hub *Hub, auth *AuthHandler, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		wsCfg:  wsCfg,
		hub:    hub,
		auth:   auth,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	if auth != nil {
		mux.HandleFunc("/auth/register", auth.handleRegister)
		mux.HandleFunc("/auth/login", auth.handleLogin)
		mux.HandleFunc("/auth/logout", auth.handleLogout)
	}

	s.httpSrv = &http.Server{
		Addr:    cfg.Addr(),
		Handler: mux,
	}
	return s
}

// originChecker builds the websocket origin check from the configured
// allowlist. An empty list or a "*" entry admits every origin.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

// Start runs the HTTP listener and blocks until Stop is called.
//
// Postcondition: Returns nil on graceful shutdown, or the listener error.
func (s *Server) Start() error {
	s.logger.Info("gateway listening",
		zap.String("addr", s.cfg.Addr()),
	)
	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving on %s: %w", s.cfg.Addr(), err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down, bounded by the configured
// shutdown timeout.
func (s *Server) Stop() {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("gateway shutdown", zap.Error(err))
	}
}

// handleWS upgrades the connection, mints its id, and starts the pumps.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	// A session cookie is optional; anonymous clients are first-class.
	var username string
	if s.auth != nil {
		if ident, ok := s.auth.identityFromRequest(r); ok {
			username = ident.Username
		}
	}

	id := uuid.NewString()
	client := newClient(id, username, s.hub, conn, s.wsCfg, s.logger)
	s.hub.add(client)

	go client.writePump()
	go client.readPump()

	// Tell the client its own connection id; leave_queue must carry it.
	s.hub.sendTo(id, &Message{Type: TypeWelcome, ConnectionID: id})
}

// healthResponse is the /healthz payload.
type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	Waiting int    `json:"waiting"`
	Rooms   int    `json:"rooms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Clients: s.hub.ClientCount(),
		Waiting: s.hub.matchmaker.WaitingCount(),
		Rooms:   s.hub.matchmaker.RoomCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("writing health response", zap.Error(err))
	}
}

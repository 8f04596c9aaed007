// Package server exposes the security core to the desktop shell: a WebSocket
// event bridge for confirmations and alerts, plus /metrics and /healthz.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"sentra/internal/domain"
	"sentra/internal/metrics"
	"sentra/internal/sandbox"

	"github.com/gorilla/websocket"
)

// Config configures the bridge server. Binds to loopback only; the desktop
// shell is the sole intended client.
type Config struct {
	Host string
	Port int
	Path string
}

// inboundMessage is what the shell sends back over the socket.
type inboundMessage struct {
	Type        string `json:"type"` // "confirm" | "reject" | "cancel"
	ExecutionID string `json:"executionId"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

// Server bridges bus events to connected shells and shell answers back to
// the sandbox manager.
type Server struct {
	cfg     Config
	manager *sandbox.Manager
	bus     domain.EventBus
	logger  *slog.Logger
	server  *http.Server

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Loopback-only server; the desktop shell connects from file:// or
		// app:// origins that never match the host.
		return true
	},
}

func New(cfg Config, manager *sandbox.Manager, bus domain.EventBus, logger *slog.Logger) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8765
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	return &Server{
		cfg:     cfg,
		manager: manager,
		bus:     bus,
		logger:  logger,
		clients: make(map[*wsClient]bool),
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	events := s.bus.Subscribe("server")
	go s.forwardEvents(events)

	s.logger.Info("bridge server starting", "addr", s.server.Addr, "path", s.cfg.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.bus.Unsubscribe("server")
		s.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// forwardEvents broadcasts every bus event to connected shells.
func (s *Server) forwardEvents(events <-chan domain.Event) {
	for ev := range events {
		s.mu.RLock()
		clients := make([]*wsClient, 0, len(s.clients))
		for c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.RUnlock()

		for _, c := range clients {
			if err := c.writeJSON(ev); err != nil {
				s.logger.Warn("event delivery failed, dropping client", "err", err)
				s.dropClient(c)
			}
		}
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	client := &wsClient{conn: conn}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()
	s.logger.Info("shell connected", "remote", r.RemoteAddr)

	go s.readLoop(client)
}

func (s *Server) readLoop(client *wsClient) {
	defer s.dropClient(client)
	for {
		var msg inboundMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("shell connection error", "err", err)
			}
			return
		}
		s.handleInbound(msg)
	}
}

func (s *Server) handleInbound(msg inboundMessage) {
	switch msg.Type {
	case "confirm":
		if !s.manager.ConfirmExecution(msg.ExecutionID, true) {
			s.logger.Warn("confirm for unknown execution", "executionId", msg.ExecutionID)
		}
	case "reject":
		if !s.manager.ConfirmExecution(msg.ExecutionID, false) {
			s.logger.Warn("reject for unknown execution", "executionId", msg.ExecutionID)
		}
	case "cancel":
		if !s.manager.CancelExecution(msg.ExecutionID) {
			s.logger.Warn("cancel for unknown execution", "executionId", msg.ExecutionID)
		}
	default:
		s.logger.Warn("unknown inbound message type", "type", msg.Type)
	}
}

func (s *Server) dropClient(client *wsClient) {
	s.mu.Lock()
	if !s.clients[client] {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	s.mu.Unlock()
	client.conn.Close()
}

func (s *Server) closeAllClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		data, _ := json.Marshal(map[string]string{"type": "shutdown"})
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, string(data)),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
	s.clients = make(map[*wsClient]bool)
}

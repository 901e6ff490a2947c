// Package hub provides the real-time WebSocket channel that keeps
// dashboard replicas consistent.
//
// Clients join per-table logical channels and receive tableUpdated
// events carrying the table's merged rows, plus syncError events when a
// sweep or explicit sync fails for a table they watch. An explicit
// leave removes a subscription; disconnect implicitly removes all of a
// client's subscriptions.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/griddash/griddash/internal/model"
)

// EventType defines the type of hub event.
type EventType string

const (
	// EventTableUpdated carries a table's full merged row view after an
	// accepted change.
	EventTableUpdated EventType = "tableUpdated"

	// EventSyncError reports a failed sweep or explicit sync.
	EventSyncError EventType = "syncError"
)

// Event is a hub broadcast message.
type Event struct {
	Type      EventType       `json:"type"`
	TableID   string          `json:"tableId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// clientCommand is what connected clients send: channel management only.
type clientCommand struct {
	Action  string `json:"action"` // join, leave
	TableID string `json:"tableId"`
}

// client is one connected WebSocket peer and its table subscriptions.
type client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	tables map[string]bool
}

func (c *client) subscribed(tableID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tables[tableID]
}

func (c *client) join(tableID string) {
	c.mu.Lock()
	c.tables[tableID] = true
	c.mu.Unlock()
}

func (c *client) leave(tableID string) {
	c.mu.Lock()
	delete(c.tables, tableID)
	c.mu.Unlock()
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8080)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// Server manages WebSocket connections and routes events to the
// clients subscribed to each table.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*client]bool
	clientsMu sync.RWMutex

	broadcast chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a new hub server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   make(map[*client]bool),
		broadcast: make(chan Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Hub listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping hub")

	s.cancel()

	s.clientsMu.Lock()
	for c := range s.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Hub stopped")
	return nil
}

// TableUpdated implements gridsync.Notifier: delivers merged rows to
// every subscriber of the table's channel.
func (s *Server) TableUpdated(tableID string, rows []model.Row) {
	data, err := json.Marshal(rows)
	if err != nil {
		s.logger.Printf("Failed to marshal rows for table %s: %v", tableID, err)
		return
	}
	s.publish(Event{
		Type:    EventTableUpdated,
		TableID: tableID,
		Data:    data,
	})
}

// SyncError implements gridsync.Notifier.
func (s *Server) SyncError(tableID string, cause error) {
	s.publish(Event{
		Type:    EventSyncError,
		TableID: tableID,
		Error:   cause.Error(),
	})
}

// publish enqueues an event for broadcasting. Events are dropped when
// the channel is full rather than blocking the sync path.
func (s *Server) publish(ev Event) {
	select {
	case s.broadcast <- ev:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping event")
	}
}

// broadcastLoop delivers events to the clients subscribed to each
// event's table channel.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case ev := <-s.broadcast:
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now()
			}

			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Printf("Failed to marshal event: %v", err)
				continue
			}

			s.clientsMu.RLock()
			targets := make([]*client, 0, len(s.clients))
			for c := range s.clients {
				if c.subscribed(ev.TableID) {
					targets = append(targets, c)
				}
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock to avoid blocking broadcasts.
			for _, c := range targets {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := c.conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(c)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // Allow all origins for development
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, tables: make(map[string]bool)}

	s.clientsMu.Lock()
	s.clients[c] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(c)
}

// readLoop processes join/leave commands and detects disconnects.
// A disconnect implicitly drops all of the client's subscriptions.
func (s *Server) readLoop(c *client) {
	defer s.removeClient(c)

	for {
		_, data, err := c.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.Printf("Ignoring malformed client message: %v", err)
			continue
		}

		switch cmd.Action {
		case "join":
			if cmd.TableID != "" {
				c.join(cmd.TableID)
				s.logger.Printf("Client joined table %s", cmd.TableID)
			}
		case "leave":
			c.leave(cmd.TableID)
			s.logger.Printf("Client left table %s", cmd.TableID)
		default:
			s.logger.Printf("Ignoring unknown client action %q", cmd.Action)
		}
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	if _, exists := s.clients[c]; exists {
		delete(s.clients, c)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = c.conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

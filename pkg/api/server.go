// Package api serves the operational surface: engine status, provider
// health, and a live log stream over websocket.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"streamgate/pkg/config"
	"streamgate/pkg/logger"
	"streamgate/pkg/provider"
	"streamgate/pkg/session"
)

// Server handles status API requests
type Server struct {
	mu        sync.RWMutex
	config    *config.Config
	sessions  *session.Store
	providers []provider.Provider
	startedAt time.Time

	// WebSocket Client Registry
	clients   map[*Client]bool
	clientsMu sync.Mutex
	logCh     chan string
}

type Client struct {
	conn *websocket.Conn
	send chan WSMessage
}

// NewServer creates a new status API server
func NewServer(cfg *config.Config, sessions *session.Store, providers []provider.Provider) *Server {
	s := &Server{
		config:    cfg,
		sessions:  sessions,
		providers: providers,
		startedAt: time.Now(),
		clients:   make(map[*Client]bool),
		logCh:     make(chan string, 100),
	}

	// Start log broadcaster
	logger.SetBroadcast(s.logCh)
	go s.broadcastLogs()

	return s
}

func (s *Server) broadcastLogs() {
	for msgStr := range s.logCh {
		msg := WSMessage{Type: "log_entry", Payload: json.RawMessage(fmt.Sprintf("%q", msgStr))}

		s.clientsMu.Lock()
		for client := range s.clients {
			select {
			case client.send <- msg:
			default:
				// Drop message if client buffer is full
			}
		}
		s.clientsMu.Unlock()
	}
}

// AddClient registers a new websocket client
func (s *Server) AddClient(client *Client) {
	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()
}

// RemoveClient unregisters a websocket client
func (s *Server) RemoveClient(client *Client) {
	s.clientsMu.Lock()
	delete(s.clients, client)
	s.clientsMu.Unlock()
	close(client.send)
}

// Handler returns the HTTP handler for the API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/ws", s.handleWebSocket)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/logs", s.handleLogs)

	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.collectStatus())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logger.GetHistory())
}

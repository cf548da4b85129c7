package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"streamgate/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allowing all origins for development
	},
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	client := &Client{conn: conn, send: make(chan WSMessage, 256)}
	s.AddClient(client)

	defer func() {
		s.RemoveClient(client)
		conn.Close()
	}()

	logger.Debug("WS Client connected", "remote", r.RemoteAddr)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	// Push current status and the log backlog right away so the UI has
	// something before the first tick.
	go func() {
		s.sendStatus(client)
		s.sendLogHistory(client)
	}()

	// Read loop (Client -> Server)
	go func() {
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[WS] Error: %v", err)
				}
				conn.Close()
				return
			}

			switch msg.Type {
			case "get_status":
				s.sendStatus(client)
			case "get_logs":
				s.sendLogHistory(client)
			}
		}
	}()

	// Write loop (Server -> Client)
	for {
		select {
		case <-ticker.C:
			s.sendStatus(client)
		case msg, ok := <-client.send:
			if !ok {
				// Channel closed by RemoveClient
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendStatus(client *Client) {
	payload, _ := json.Marshal(s.collectStatus())
	select {
	case client.send <- WSMessage{Type: "status", Payload: payload}:
	default:
	}
}

func (s *Server) sendLogHistory(client *Client) {
	history := logger.GetHistory()
	payload, _ := json.Marshal(history)

	select {
	case client.send <- WSMessage{Type: "log_history", Payload: payload}:
	default:
	}
}

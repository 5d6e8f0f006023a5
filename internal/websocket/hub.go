package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/makeasinger/docindex/internal/model"
	"github.com/makeasinger/docindex/internal/status"
)

// Conn is the part of a websocket connection the hub uses
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
}

// Client represents a WebSocket client
type Client struct {
	JobID string
	Conn  Conn
	Send  chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	logger *slog.Logger
	mu     sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop. It returns after Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "job_id", client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "job_id", client.JobID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					h.logger.Warn("subscriber too slow, message dropped", "job_id", msg.JobID)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop ends the main loop
func (h *Hub) Stop() {
	close(h.done)
}

// remove drops a client; the caller holds mu
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers returns the number of clients watching a job
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// BroadcastStatus sends a status update to all job subscribers
func (h *Hub) BroadcastStatus(jobID, documentID string, s status.JobStatus) {
	msg := model.WSStatusMessage{
		Type:       model.WSMessageTypeStatus,
		JobID:      jobID,
		DocumentID: documentID,
		Status:     status.Value{JobStatus: s},
		Terminal:   s != nil && s.Terminal(),
	}
	h.send(jobID, msg)
}

func (h *Hub) send(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal websocket message", "job_id", jobID, "error", err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}:
	case <-h.done:
	}
}

// Subscribe registers a subscriber for a job. Every status broadcast after
// it returns is queued for the client, so the current status must be read
// only after subscribing.
func (h *Hub) Subscribe(c Conn, jobID string) *Client {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}
	h.Register(client)
	return client
}

// Reject writes an error message to a connection that will not be served
func (h *Hub) Reject(c Conn, jobID, code, message string) {
	data, err := json.Marshal(model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{Code: code, Message: message},
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket message", "job_id", jobID, "error", err)
		return
	}
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug("failed to write websocket error", "job_id", jobID, "error", err)
	}
}

// Serve writes the current status, then relays updates until the client
// disconnects. Updates queued since Subscribe follow the current status.
func (h *Hub) Serve(client *Client, current status.JobStatus) {
	defer h.Unregister(client)
	c := client.Conn
	jobID := client.JobID

	if current != nil {
		data, err := json.Marshal(model.WSStatusMessage{
			Type:     model.WSMessageTypeStatus,
			JobID:    jobID,
			Status:   status.Value{JobStatus: current},
			Terminal: current.Terminal(),
		})
		if err == nil {
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}

	// Writer
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", "job_id", jobID, "error", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case client.Send <- pong:
			default:
			}
		}
	}
}

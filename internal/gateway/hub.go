package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/taduranmiggy/loveyou/internal/events"
)

// ClientMessageType identifies messages exchanged with connected clients.
type ClientMessageType string

const (
	// MessageTypeDrainQueue asks the sync queue to drain now.
	MessageTypeDrainQueue ClientMessageType = "drain_sync_queue"

	// MessageTypeMutationCompleted announces a successfully synced write.
	MessageTypeMutationCompleted ClientMessageType = "mutation_completed"

	// MessageTypeVisibility reports a client becoming visible or hidden.
	MessageTypeVisibility ClientMessageType = "visibility"

	// MessageTypeConnectivity announces online/offline transitions.
	MessageTypeConnectivity ClientMessageType = "connectivity"
)

// ClientMessage is the wire format for hub traffic in both directions.
type ClientMessage struct {
	Type      ClientMessageType `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data,omitempty"`
}

// VisibilityData carries the visibility payload.
type VisibilityData struct {
	Visible bool `json:"visible"`
}

// Hub manages WebSocket clients and bridges their messages onto the
// internal event bus, and bus events back out to every client.
type Hub struct {
	bus    *events.Bus
	logger *log.Logger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan ClientMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub over the given bus.
func NewHub(bus *events.Bus, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		bus:       bus,
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan ClientMessage, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the broadcast and bus relay loops.
func (h *Hub) Start() {
	h.wg.Add(2)
	go h.broadcastLoop()
	go h.relayLoop()
}

// Stop closes every connection and waits for loops to exit.
func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Broadcast queues a message for every connected client.
func (h *Hub) Broadcast(msg ClientMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// relayLoop forwards bus events clients care about.
func (h *Hub) relayLoop() {
	defer h.wg.Done()

	ch, cancel := h.bus.Subscribe(events.Online, events.Offline, events.MutationCompleted)
	defer cancel()

	for {
		select {
		case <-h.ctx.Done():
			return
		case ev := <-ch:
			switch ev.Type {
			case events.MutationCompleted:
				h.Broadcast(ClientMessage{Type: MessageTypeMutationCompleted, Data: ev.Data})
			case events.Online:
				h.Broadcast(ClientMessage{Type: MessageTypeConnectivity, Data: json.RawMessage(`{"online":true}`)})
			case events.Offline:
				h.Broadcast(ClientMessage{Type: MessageTypeConnectivity, Data: json.RawMessage(`{"online":false}`)})
			}
		}
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.logger.Printf("Failed to send to client: %v", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

// HandleWebSocket upgrades the connection and joins the client to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Printf("Client connected (total: %d)", count)

	go h.readLoop(conn)
}

// readLoop receives client messages and translates them to bus events.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		_, data, err := conn.Read(h.ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Printf("Discarding malformed client message: %v", err)
			continue
		}

		switch msg.Type {
		case MessageTypeDrainQueue:
			h.bus.Publish(events.Event{Type: events.DrainRequested})
		case MessageTypeVisibility:
			var vis VisibilityData
			if err := json.Unmarshal(msg.Data, &vis); err != nil {
				h.logger.Printf("Discarding malformed visibility payload: %v", err)
				continue
			}
			if vis.Visible {
				h.bus.Publish(events.Event{Type: events.Visible})
			} else {
				h.bus.Publish(events.Event{Type: events.Hidden})
			}
		default:
			h.logger.Printf("Ignoring client message type %q", msg.Type)
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		count := len(h.clients)
		h.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Client disconnected (total: %d)", count)
	} else {
		h.clientsMu.Unlock()
	}
}

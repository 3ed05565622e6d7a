package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

// Client wraps a WebSocket connection. gorilla allows one concurrent
// writer, so writes are serialized here.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages active WebSocket connections per mailbox.
// Several dashboards may watch the same mailbox.
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]map[*Client]struct{} // mailboxID -> set of clients
	maxPerMailbox int
}

// NewHub creates a new Hub with a per-mailbox connection limit.
func NewHub(maxPerMailbox int) *Hub {
	if maxPerMailbox <= 0 {
		maxPerMailbox = 10
	}
	return &Hub{
		clients:       make(map[string]map[*Client]struct{}),
		maxPerMailbox: maxPerMailbox,
	}
}

// Register adds a WebSocket connection for the given mailbox.
// If the limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(mailboxID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	mailboxClients, ok := h.clients[mailboxID]
	if !ok {
		mailboxClients = make(map[*Client]struct{})
		h.clients[mailboxID] = mailboxClients
	}

	if len(mailboxClients) >= h.maxPerMailbox {
		log.WithFields(log.Fields{"mailbox": mailboxID, "max": h.maxPerMailbox}).Warn("ws_connection_limit_exceeded")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this mailbox"),
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	mailboxClients[client] = struct{}{}
	return client
}

// Unregister removes a client and closes the connection.
func (h *Hub) Unregister(mailboxID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	if mailboxClients, ok := h.clients[mailboxID]; ok {
		delete(mailboxClients, client)
		if len(mailboxClients) == 0 {
			delete(h.clients, mailboxID)
		}
	}
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Send broadcasts a raw message to every client watching the mailbox.
func (h *Hub) Send(mailboxID string, msg []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[mailboxID]))
	for c := range h.clients[mailboxID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.write(msg); err != nil {
			log.WithError(err).WithField("mailbox", mailboxID).Debug("ws_write_failed")
			go h.Unregister(mailboxID, client)
		}
	}
}

// Publish JSON-encodes ev and sends it to the mailbox's clients.
func (h *Hub) Publish(mailboxID string, ev Event) {
	ev.Mailbox = mailboxID
	msg, err := json.Marshal(ev)
	if err != nil {
		log.WithError(err).WithField("mailbox", mailboxID).Error("ws_event_encode_failed")
		return
	}
	h.Send(mailboxID, msg)
}

// ActiveConnections returns the number of open connections for a mailbox.
func (h *Hub) ActiveConnections(mailboxID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[mailboxID])
}

// CloseAll drops every connection. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for c := range set {
			_ = c.conn.Close()
		}
	}
}

package api

import (
	"net/http"

	"github.com/deskline/mailsync/internal/auth"
	ws "github.com/deskline/mailsync/internal/websocket"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// WebSocketHandler handles /api/v1/ws?mailbox=key for pushed sync events.
type WebSocketHandler struct {
	token     string
	mailboxes MailboxStore
	syncs     SyncControl
	hub       *ws.Hub
}

func NewWebSocketHandler(token string, mailboxes MailboxStore, syncs SyncControl, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{token: token, mailboxes: mailboxes, syncs: syncs, hub: hub}
}

var wsUpgrader = websocket.Upgrader{
	// Served behind a reverse proxy in a trusted environment.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handle authenticates with ?token= (browsers cannot set headers on a
// WebSocket) or the Authorization header, then registers the connection.
// The current status is sent right away.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !auth.ValidToken(h.token, auth.RequestToken(r)) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	key := r.URL.Query().Get("mailbox")
	if key == "" {
		http.Error(w, "mailbox query parameter is required", http.StatusBadRequest)
		return
	}
	r.SetPathValue("key", key)
	mb, ok := mailboxFromPath(w, r, h.mailboxes)
	if !ok {
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithField("mailbox", mb.ID).Warn("ws_upgrade_failed")
		return
	}

	client := h.hub.Register(mb.ID, conn)
	if client == nil {
		return
	}
	log.WithField("mailbox", mb.ID).Debug("ws_connected")

	h.hub.Publish(mb.ID, ws.Event{Type: ws.EventSyncStatus, Status: h.syncs.Status(mb.ID)})
	go h.readLoop(mb.ID, client)
}

// readLoop drains the connection until it closes.
func (h *WebSocketHandler) readLoop(mailboxID string, client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(mailboxID, client)
	log.WithField("mailbox", mailboxID).Debug("ws_disconnected")
}

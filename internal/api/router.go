package api

import (
	"fmt"
	"net/http"

	"github.com/deskline/mailsync/internal/auth"
	"github.com/deskline/mailsync/internal/blob"
	ws "github.com/deskline/mailsync/internal/websocket"
)

// Deps is everything the HTTP surface talks to.
type Deps struct {
	APIToken  string
	Mailboxes MailboxStore
	Syncs     SyncControl
	Ingester  Ingester
	Repairs   RepairService
	Hub       *ws.Hub
	// Blobs is served under /media/ when set (filesystem backend).
	Blobs blob.Store
}

// NewRouter builds the server's handler.
func NewRouter(d Deps) http.Handler {
	syncHandler := NewSyncHandler(d.Mailboxes, d.Syncs, d.Ingester)
	threadsHandler := NewThreadsHandler(d.Mailboxes)
	repairHandler := NewRepairHandler(d.Repairs)
	wsHandler := NewWebSocketHandler(d.APIToken, d.Mailboxes, d.Syncs, d.Hub)

	requireToken := auth.RequireToken(d.APIToken)
	protected := func(h http.HandlerFunc) http.Handler {
		return requireToken(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)

	mux.Handle("GET /api/v1/mailboxes/{key}/sync", protected(syncHandler.GetStatus))
	mux.Handle("POST /api/v1/mailboxes/{key}/sync/start", protected(syncHandler.Start))
	mux.Handle("POST /api/v1/mailboxes/{key}/sync/stop", protected(syncHandler.Stop))
	mux.Handle("POST /api/v1/mailboxes/{key}/fetch", protected(syncHandler.Fetch))
	mux.Handle("GET /api/v1/mailboxes/{key}/threads", protected(threadsHandler.GetThreads))
	mux.Handle("POST /api/v1/messages/{id}/repair", protected(repairHandler.PostRepair))
	mux.Handle("GET /api/v1/messages/{id}/repair", protected(repairHandler.GetRepair))
	// Authenticates itself, see WebSocketHandler.Handle.
	mux.HandleFunc("GET /api/v1/ws", wsHandler.Handle)

	if d.Blobs != nil {
		mux.Handle("GET /media/", blob.Handler("/media/", d.Blobs))
	}

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "mailsync is running")
}

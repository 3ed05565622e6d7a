package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/deskline/mailsync/internal/db"
	"github.com/deskline/mailsync/internal/imap"
	"github.com/deskline/mailsync/internal/ingest"
	"github.com/deskline/mailsync/internal/models"
	"github.com/deskline/mailsync/internal/syncer"
	log "github.com/sirupsen/logrus"
)

// SyncControl is the coordinator registry as seen by the API.
type SyncControl interface {
	Start(mailboxID string) *syncer.Coordinator
	Stop(mailboxID string) bool
	Status(mailboxID string) models.SyncStatus
}

// Ingester runs one on-demand fetch pass.
type Ingester interface {
	Sync(ctx context.Context, mailboxID string, mode imap.FetchMode, limit int) (ingest.Result, error)
}

// MailboxStore is the read side the handlers need.
type MailboxStore interface {
	GetMailbox(ctx context.Context, id string) (*models.Mailbox, error)
	ListRecent(ctx context.Context, mailboxID string, limit int) ([]*models.Message, error)
}

// SyncHandler serves the sync status contract of one mailbox.
type SyncHandler struct {
	mailboxes MailboxStore
	syncs     SyncControl
	ingester  Ingester
}

func NewSyncHandler(mailboxes MailboxStore, syncs SyncControl, ingester Ingester) *SyncHandler {
	return &SyncHandler{mailboxes: mailboxes, syncs: syncs, ingester: ingester}
}

// mailboxFromPath resolves {key} and writes 404 when it does not exist.
func mailboxFromPath(w http.ResponseWriter, r *http.Request, mailboxes MailboxStore) (*models.Mailbox, bool) {
	key := r.PathValue("key")
	mb, err := mailboxes.GetMailbox(r.Context(), key)
	if errors.Is(err, db.ErrMailboxNotFound) {
		http.Error(w, "Mailbox not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		log.WithError(err).WithField("mailbox", key).Error("api_mailbox_lookup_failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return mb, true
}

// GetStatus returns {isRunning, lastSync, emailsSynced, idleConnected, ...}.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	mb, ok := mailboxFromPath(w, r, h.mailboxes)
	if !ok {
		return
	}
	WriteJSONResponse(w, h.syncs.Status(mb.ID))
}

// Start replaces any running coordinator for the mailbox with a new one.
func (h *SyncHandler) Start(w http.ResponseWriter, r *http.Request) {
	mb, ok := mailboxFromPath(w, r, h.mailboxes)
	if !ok {
		return
	}
	c := h.syncs.Start(mb.ID)
	status := h.syncs.Status(mb.ID)
	if c != nil {
		status = c.Status()
	}
	WriteJSONStatus(w, http.StatusAccepted, status)
}

func (h *SyncHandler) Stop(w http.ResponseWriter, r *http.Request) {
	mb, ok := mailboxFromPath(w, r, h.mailboxes)
	if !ok {
		return
	}
	h.syncs.Stop(mb.ID)
	WriteJSONResponse(w, h.syncs.Status(mb.ID))
}

// Fetch runs one synchronous fetch pass. Media uploads continue in the
// background after it returns.
func (h *SyncHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	mb, ok := mailboxFromPath(w, r, h.mailboxes)
	if !ok {
		return
	}

	mode, err := imap.ParseFetchMode(r.URL.Query().Get("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}

	res, err := h.ingester.Sync(r.Context(), mb.ID, mode, limit)
	if errors.Is(err, imap.ErrAuthentication) {
		http.Error(w, "Mailbox authentication failed", http.StatusBadGateway)
		return
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"mailbox": mb.ID, "mode": mode}).Error("api_fetch_failed")
		http.Error(w, "Fetch failed", http.StatusBadGateway)
		return
	}
	WriteJSONResponse(w, res)
}

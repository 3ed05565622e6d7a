package api

import (
	"net/http"

	"github.com/deskline/mailsync/internal/models"
	"github.com/deskline/mailsync/internal/threading"
	log "github.com/sirupsen/logrus"
)

const (
	defaultThreadWindow = 200
	maxThreadWindow     = 1000
)

// ThreadsHandler groups the mailbox's recent messages into conversations.
type ThreadsHandler struct {
	mailboxes MailboxStore
}

func NewThreadsHandler(mailboxes MailboxStore) *ThreadsHandler {
	return &ThreadsHandler{mailboxes: mailboxes}
}

type threadsResponse struct {
	Threads []*models.ConversationThread `json:"threads"`
	Window  int                          `json:"window"`
}

// GetThreads groups the newest ?limit= messages. The grouping is
// recomputed on every call and may merge threads the stored thread ids
// keep apart.
func (h *ThreadsHandler) GetThreads(w http.ResponseWriter, r *http.Request) {
	mb, ok := mailboxFromPath(w, r, h.mailboxes)
	if !ok {
		return
	}
	limit := ParseLimit(r, defaultThreadWindow, maxThreadWindow)

	messages, err := h.mailboxes.ListRecent(r.Context(), mb.ID, limit)
	if err != nil {
		log.WithError(err).WithField("mailbox", mb.ID).Error("api_list_messages_failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	threads := threading.GroupThreads(messages)
	if threads == nil {
		threads = []*models.ConversationThread{}
	}
	WriteJSONResponse(w, threadsResponse{Threads: threads, Window: len(messages)})
}

package websocket

// Event types pushed to dashboards.
const (
	EventSyncStatus = "sync_status"
	EventNewEmail   = "new_email"
)

// Event is the JSON envelope of every pushed message.
type Event struct {
	Type    string `json:"type"`
	Mailbox string `json:"mailbox"`
	Count   int    `json:"count,omitempty"`
	Status  any    `json:"status,omitempty"`
}

package imap

import (
	"context"
	"fmt"
	"time"

	"github.com/deskline/mailsync/internal/models"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
	log "github.com/sirupsen/logrus"
)

// idlePollInterval is the NOOP cadence for servers without IDLE.
const idlePollInterval = 30 * time.Second

type EventKind int

const (
	EventNewMail EventKind = iota + 1
	EventExpunge
)

func (k EventKind) String() string {
	switch k {
	case EventNewMail:
		return "new_mail"
	case EventExpunge:
		return "expunge"
	}
	return "unknown"
}

// Event is a push notification from the listener.
type Event struct {
	Kind  EventKind
	Count uint32
}

// Listen holds an IDLE session on the folder and reports changes on events.
// ready is called once the session is idling. Listen returns nil when ctx is
// canceled and an error when the connection drops.
func (f *Fetcher) Listen(ctx context.Context, creds models.Credentials, ready func(), events chan<- Event) error {
	release, err := f.gate.Acquire(ctx, creds.MailboxID)
	if err != nil {
		return err
	}
	defer release()

	c, err := f.dial(ctx, creds)
	if err != nil {
		return err
	}
	defer closeClient(c)

	status, err := c.Select(folderOf(creds), true)
	if err != nil {
		return fmt.Errorf("failed to select %s for idle: %w", folderOf(creds), err)
	}
	// IDLE may sit silent for many minutes.
	c.Timeout = 0

	updates := make(chan client.Update, 16)
	c.Updates = updates

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idle.NewClient(c).IdleWithFallback(stop, idlePollInterval)
	}()

	if ready != nil {
		ready()
	}
	entry := log.WithField("mailbox", creds.MailboxID)
	entry.Debug("idle_started")

	known := status.Messages
	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return nil
		case err := <-done:
			if err == nil {
				err = fmt.Errorf("idle ended unexpectedly")
			}
			return fmt.Errorf("idle connection lost: %w", err)
		case update := <-updates:
			ev, ok := translateUpdate(update, &known)
			if !ok {
				continue
			}
			entry.WithField("event", ev.Kind.String()).Debug("idle_event")
			select {
			case events <- ev:
			default:
				// The consumer is busy; it will see the change on its next fetch.
			}
		}
	}
}

// translateUpdate turns a unilateral server response into an Event. known
// tracks the folder size so only growth counts as new mail.
func translateUpdate(update client.Update, known *uint32) (Event, bool) {
	switch u := update.(type) {
	case *client.MailboxUpdate:
		if u.Mailbox == nil {
			return Event{}, false
		}
		n := u.Mailbox.Messages
		if n > *known {
			ev := Event{Kind: EventNewMail, Count: n - *known}
			*known = n
			return ev, true
		}
		*known = n
	case *client.ExpungeUpdate:
		if *known > 0 {
			*known--
		}
		return Event{Kind: EventExpunge, Count: 1}, true
	}
	return Event{}, false
}

package testutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/deskline/mailsync/internal/models"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an in-memory IMAP server on a random local port. The
// memory backend has a single user "username"/"password" whose INBOX starts
// with one seen message.
type TestIMAPServer struct {
	Server  *server.Server
	Address string
	Backend *memory.Backend
}

// NewTestIMAPServer starts the server and stops it when the test ends.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()
	t.Cleanup(func() { _ = s.Close() })

	return &TestIMAPServer{Server: s, Address: listener.Addr().String(), Backend: be}
}

// Credentials returns plain-TCP credentials for the default user.
func (s *TestIMAPServer) Credentials(mailboxID string) models.Credentials {
	host, portStr, _ := net.SplitHostPort(s.Address)
	port, _ := strconv.Atoi(portStr)
	return models.Credentials{
		MailboxID:  mailboxID,
		Host:       host,
		Port:       port,
		Username:   "username",
		Password:   "password",
		AuthMethod: models.AuthLogin,
		Folder:     "INBOX",
		Insecure:   true,
	}
}

// Connect opens a logged-in client for test setup.
func (s *TestIMAPServer) Connect(t *testing.T) *imapclient.Client {
	t.Helper()

	c, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}
	if err := c.Login("username", "password"); err != nil {
		_ = c.Logout()
		t.Fatalf("Failed to login: %v", err)
	}
	t.Cleanup(func() { _ = c.Logout() })
	return c
}

// AppendRaw stores a raw RFC 5322 message in INBOX.
func (s *TestIMAPServer) AppendRaw(t *testing.T, raw string, flags []string) {
	t.Helper()

	c := s.Connect(t)
	if err := c.Append("INBOX", flags, time.Now(), strings.NewReader(raw)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
}

// AddMessage stores a simple text message in INBOX.
func (s *TestIMAPServer) AddMessage(t *testing.T, messageID, subject, from, to string, sentAt time.Time, seen bool) {
	t.Helper()

	raw := fmt.Sprintf("Message-ID: %s\r\n"+
		"Date: %s\r\n"+
		"From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"\r\n"+
		"Test message body.\r\n", messageID, sentAt.Format(time.RFC1123Z), from, to, subject)

	var flags []string
	if seen {
		flags = []string{imap.SeenFlag}
	}
	s.AppendRaw(t, raw, flags)
}

// DeleteMessage expunges the message with the given Message-ID.
func (s *TestIMAPServer) DeleteMessage(t *testing.T, messageID string) {
	t.Helper()

	c := s.Connect(t)
	if _, err := c.Select("INBOX", false); err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", messageID)
	uids, err := c.UidSearch(criteria)
	if err != nil || len(uids) == 0 {
		t.Fatalf("Message %s not found: %v", messageID, err)
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)
	if err := c.UidStore(seqSet, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}, nil); err != nil {
		t.Fatalf("Failed to flag message: %v", err)
	}
	if err := c.Expunge(nil); err != nil {
		t.Fatalf("Failed to expunge: %v", err)
	}
}

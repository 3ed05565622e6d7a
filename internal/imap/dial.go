package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/deskline/mailsync/internal/models"
	"github.com/emersion/go-imap/client"
)

const (
	DefaultHost = "imap.gmail.com"
	DefaultPort = 993

	dialTimeout = 10 * time.Second
)

// DialFunc opens an authenticated session. Tests swap it out.
type DialFunc func(ctx context.Context, creds models.Credentials) (*client.Client, error)

// Dial connects and authenticates. TLS is used unless creds.Insecure is set,
// which only the test server does.
func Dial(ctx context.Context, creds models.Credentials) (*client.Client, error) {
	host := creds.Host
	if host == "" {
		host = DefaultHost
	}
	port := creds.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	dialer := &net.Dialer{Timeout: timeout}

	var (
		c   *client.Client
		err error
	)
	if creds.Insecure {
		c, err = client.DialWithDialer(dialer, addr)
	} else {
		c, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: host})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	c.Timeout = time.Minute

	auth, err := newAuthenticator(creds)
	if err != nil {
		_ = c.Logout()
		return nil, err
	}
	if err := auth.Authenticate(c); err != nil {
		_ = c.Logout()
		return nil, classifyAuthError(creds.Username, err)
	}

	return c, nil
}

// closeClient logs out, falling back to dropping the socket.
func closeClient(c *client.Client) {
	if c == nil {
		return
	}
	if err := c.Logout(); err != nil {
		_ = c.Terminate()
	}
}

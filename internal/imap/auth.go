package imap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/deskline/mailsync/internal/models"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
)

// ErrAuthentication marks a rejected login. It is terminal: callers must not
// retry with the same credentials.
var ErrAuthentication = errors.New("imap authentication failed")

// AuthError carries the server's rejection text.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("imap authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuthentication }

// IsAuthError reports whether err is, or wraps, an authentication failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

type authenticator interface {
	Authenticate(c *client.Client) error
}

type loginAuthenticator struct {
	username string
	password string
}

func (a *loginAuthenticator) Authenticate(c *client.Client) error {
	return c.Login(a.username, a.password)
}

type saslAuthenticator struct {
	client sasl.Client
}

func (a *saslAuthenticator) Authenticate(c *client.Client) error {
	return c.Authenticate(a.client)
}

func newAuthenticator(creds models.Credentials) (authenticator, error) {
	switch creds.AuthMethod {
	case "", models.AuthLogin:
		return &loginAuthenticator{username: creds.Username, password: creds.Password}, nil
	case models.AuthPlain:
		return &saslAuthenticator{client: sasl.NewPlainClient("", creds.Username, creds.Password)}, nil
	default:
		return nil, fmt.Errorf("unsupported auth method %q", creds.AuthMethod)
	}
}

// classifyAuthError separates a server rejection (NO/BAD on LOGIN or
// AUTHENTICATE) from a connection that dropped during the exchange.
func classifyAuthError(username string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "connection closed") {
		return fmt.Errorf("imap login interrupted: %w", err)
	}
	return &AuthError{Username: username, Err: err}
}

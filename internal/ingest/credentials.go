package ingest

import (
	"context"

	"github.com/deskline/mailsync/internal/models"
)

// MailboxSource loads mailbox records.
type MailboxSource interface {
	GetMailbox(ctx context.Context, id string) (*models.Mailbox, error)
}

// PasswordOpener decrypts a stored app password.
type PasswordOpener interface {
	OpenPassword(mailboxID string, sealed []byte) (string, error)
}

// CredentialResolver turns stored mailboxes into session credentials.
type CredentialResolver struct {
	mailboxes   MailboxSource
	passwords   PasswordOpener
	defaultHost string
	defaultPort int
	insecure    bool
}

func NewCredentialResolver(mailboxes MailboxSource, passwords PasswordOpener, defaultHost string, defaultPort int) *CredentialResolver {
	return &CredentialResolver{mailboxes: mailboxes, passwords: passwords, defaultHost: defaultHost, defaultPort: defaultPort}
}

// WithInsecure disables TLS for every session. Only used against a local
// test server.
func (r *CredentialResolver) WithInsecure(insecure bool) *CredentialResolver {
	r.insecure = insecure
	return r
}

func (r *CredentialResolver) Credentials(ctx context.Context, mailboxID string) (models.Credentials, error) {
	mb, err := r.mailboxes.GetMailbox(ctx, mailboxID)
	if err != nil {
		return models.Credentials{}, err
	}
	return r.ForMailbox(mb)
}

// ForMailbox builds credentials for an already loaded mailbox.
func (r *CredentialResolver) ForMailbox(mb *models.Mailbox) (models.Credentials, error) {
	password, err := r.passwords.OpenPassword(mb.ID, mb.EncryptedPassword)
	if err != nil {
		return models.Credentials{}, err
	}

	creds := models.Credentials{
		MailboxID:  mb.ID,
		Host:       mb.IMAPHost,
		Port:       mb.IMAPPort,
		Username:   mb.IMAPUsername,
		Password:   password,
		AuthMethod: mb.AuthMethod,
		Folder:     mb.Folder,
		Insecure:   r.insecure,
	}
	if creds.Host == "" {
		creds.Host = r.defaultHost
	}
	if creds.Port == 0 {
		creds.Port = r.defaultPort
	}
	return creds, nil
}

package models

import (
	"time"
)

// AuthMethod selects how the IMAP session authenticates.
type AuthMethod string

const (
	AuthLogin AuthMethod = "login"
	AuthPlain AuthMethod = "plain"
)

// Mailbox is a help-desk mailbox the engine keeps in sync.
type Mailbox struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	Address           string     `json:"address"`
	IMAPHost          string     `json:"imap_host"`
	IMAPPort          int        `json:"imap_port"`
	IMAPUsername      string     `json:"imap_username"`
	EncryptedPassword []byte     `json:"-"`
	AuthMethod        AuthMethod `json:"auth_method"`
	Folder            string     `json:"folder"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Credentials is everything the fetch pipeline needs to open a session.
type Credentials struct {
	MailboxID  string
	Host       string
	Port       int
	Username   string
	Password   string
	AuthMethod AuthMethod
	Folder     string
	// Insecure disables TLS. Only the test server uses it.
	Insecure bool
}

// SyncState is the coordinator lifecycle state.
type SyncState string

const (
	SyncStopped  SyncState = "stopped"
	SyncStarting SyncState = "starting"
	SyncRunning  SyncState = "running"
	SyncFailed   SyncState = "failed"
)

// SyncStatus is the payload of the status endpoint.
type SyncStatus struct {
	IsRunning     bool       `json:"isRunning"`
	LastSync      *time.Time `json:"lastSync"`
	EmailsSynced  int        `json:"emailsSynced"`
	IdleConnected bool       `json:"idleConnected"`
	LastError     string     `json:"lastError,omitempty"`
	State         SyncState  `json:"state"`
	AuthFailed    bool       `json:"authFailed"`
}

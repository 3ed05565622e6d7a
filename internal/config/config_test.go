package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MAILSYNC_ENV", "production")
	t.Setenv("MAILSYNC_ENCRYPTION_KEY_BASE64", "dGVzdC1rZXktMTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM=")
	t.Setenv("MAILSYNC_API_TOKEN", "secret-token")
	t.Setenv("MAILSYNC_DB_PASSWORD", "test-password")
}

func TestNewConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAILSYNC_DB_USER", "test-user")
	t.Setenv("MAILSYNC_DB_NAME", "testdb")
	t.Setenv("PORT", "3000")
	t.Setenv("SYNC_POLL_INTERVAL", "45s")
	t.Setenv("IMAP_MAX_CONNECTIONS", "5")
	t.Setenv("S3_USE_SSL", "false")

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() returned error: %v", err)
	}

	if config.Environment != "production" {
		t.Errorf("expected Environment 'production', got '%s'", config.Environment)
	}
	if config.APIToken != "secret-token" {
		t.Errorf("expected APIToken 'secret-token', got '%s'", config.APIToken)
	}
	if config.DBUsername != "test-user" {
		t.Errorf("expected DBUsername 'test-user', got '%s'", config.DBUsername)
	}
	if config.DBName != "testdb" {
		t.Errorf("expected DBName 'testdb', got '%s'", config.DBName)
	}
	if config.Port != "3000" {
		t.Errorf("expected Port '3000', got '%s'", config.Port)
	}
	if config.PollInterval != 45*time.Second {
		t.Errorf("expected PollInterval 45s, got %v", config.PollInterval)
	}
	if config.IMAPMaxConnections != 5 {
		t.Errorf("expected IMAPMaxConnections 5, got %d", config.IMAPMaxConnections)
	}
	if config.S3UseSSL {
		t.Errorf("expected S3UseSSL false")
	}
}

func TestNewConfigWithDefaults(t *testing.T) {
	setRequiredEnv(t)

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() returned error: %v", err)
	}

	if config.DBHost != "localhost" {
		t.Errorf("expected default DBHost 'localhost', got '%s'", config.DBHost)
	}
	if config.IMAPDefaultHost != "imap.gmail.com" {
		t.Errorf("expected default IMAPDefaultHost 'imap.gmail.com', got '%s'", config.IMAPDefaultHost)
	}
	if config.IMAPDefaultPort != 993 {
		t.Errorf("expected default IMAPDefaultPort 993, got %d", config.IMAPDefaultPort)
	}
	if config.PollInterval != 30*time.Second {
		t.Errorf("expected default PollInterval 30s, got %v", config.PollInterval)
	}
	if config.IdleStartDelay != time.Second {
		t.Errorf("expected default IdleStartDelay 1s, got %v", config.IdleStartDelay)
	}
	if config.BlobBackend != "fs" {
		t.Errorf("expected default BlobBackend 'fs', got '%s'", config.BlobBackend)
	}
	if config.IMAPMaxConnections != 3 {
		t.Errorf("expected default IMAPMaxConnections 3, got %d", config.IMAPMaxConnections)
	}
}

func TestNewConfigIgnoresMalformedNumbers(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JOB_WORKERS", "many")
	t.Setenv("SYNC_POLL_INTERVAL", "soon")

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() returned error: %v", err)
	}
	if config.JobWorkers != 2 {
		t.Errorf("expected fallback JobWorkers 2, got %d", config.JobWorkers)
	}
	if config.PollInterval != 30*time.Second {
		t.Errorf("expected fallback PollInterval 30s, got %v", config.PollInterval)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			EncryptionKeyBase64: "key",
			APIToken:            "token",
			DBPassword:          "pw",
			BlobBackend:         "fs",
			BlobDir:             "/tmp/blobs",
			IMAPMaxConnections:  3,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing encryption key", mutate: func(c *Config) { c.EncryptionKeyBase64 = "" }, wantErr: "MAILSYNC_ENCRYPTION_KEY_BASE64"},
		{name: "missing api token", mutate: func(c *Config) { c.APIToken = "" }, wantErr: "MAILSYNC_API_TOKEN"},
		{name: "missing db password", mutate: func(c *Config) { c.DBPassword = "" }, wantErr: "MAILSYNC_DB_PASSWORD"},
		{name: "unknown blob backend", mutate: func(c *Config) { c.BlobBackend = "ftp" }, wantErr: "unknown BLOB_BACKEND"},
		{name: "s3 without credentials", mutate: func(c *Config) { c.BlobBackend = "s3" }, wantErr: "S3_ENDPOINT"},
		{name: "zero imap connections", mutate: func(c *Config) { c.IMAPMaxConnections = 0 }, wantErr: "IMAP_MAX_CONNECTIONS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetDatabaseURL(t *testing.T) {
	c := &Config{
		DBUsername: "user",
		DBPassword: "pw",
		DBHost:     "db",
		DBPort:     "5433",
		DBName:     "mailsync",
		DBSSLMode:  "require",
	}
	expected := "postgres://user:pw@db:5433/mailsync?sslmode=require"
	if got := c.GetDatabaseURL(); got != expected {
		t.Errorf("expected %s, got %s", expected, got)
	}
}

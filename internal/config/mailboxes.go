package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MailboxConfig is one entry of the mailboxes file. Passwords may reference
// environment variables as ${VAR}.
type MailboxConfig struct {
	ID         string `yaml:"id"`
	TenantID   string `yaml:"tenant_id"`
	Address    string `yaml:"address"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	AuthMethod string `yaml:"auth_method"`
	Folder     string `yaml:"folder"`
	Autostart  bool   `yaml:"autostart"`
}

type mailboxesFile struct {
	Mailboxes []MailboxConfig `yaml:"mailboxes"`
}

// LoadMailboxes reads the mailboxes file, expanding ${VAR} references first.
// Entries without an id or username are skipped.
func LoadMailboxes(path string) ([]MailboxConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mailboxes file %s: %w", path, err)
	}
	return ParseMailboxes(data)
}

// ParseMailboxes parses the YAML body of a mailboxes file.
func ParseMailboxes(data []byte) ([]MailboxConfig, error) {
	expanded := os.ExpandEnv(string(data))

	var raw mailboxesFile
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse mailboxes YAML: %w", err)
	}

	var out []MailboxConfig
	for _, m := range raw.Mailboxes {
		if m.ID == "" || m.Username == "" {
			continue
		}
		if m.Address == "" {
			m.Address = m.Username
		}
		if m.Folder == "" {
			m.Folder = "INBOX"
		}
		if m.AuthMethod == "" {
			m.AuthMethod = "login"
		}
		if m.AuthMethod != "login" && m.AuthMethod != "plain" {
			return nil, fmt.Errorf("mailbox %s: unknown auth_method %q", m.ID, m.AuthMethod)
		}
		out = append(out, m)
	}
	return out, nil
}

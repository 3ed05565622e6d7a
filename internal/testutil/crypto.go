package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/deskline/mailsync/internal/crypto"
)

// NewTestEncryptor returns an encryptor with a fixed key. Passwords sealed
// with it can be opened by any other test encryptor.
func NewTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	encryptor, err := crypto.NewEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}

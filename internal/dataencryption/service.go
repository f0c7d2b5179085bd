// Package dataencryption encrypts snapshot string fields with a key derived
// from the user's passphrase.
//
// Ciphertext is tagged as enc::<base64 iv>::<base64 ciphertext>. The IV is a
// hash of the plaintext, so identical input always produces identical output
// and unchanged content never shows up as a repository diff.
package dataencryption

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/rhplus0831/risugit/internal/syncerr"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 round count used by the host plugin.
	DefaultIterations = 600000

	saltPrefix = "risu-git-"
	keyLength  = 32
)

type contextKey struct{}

// WithContext returns a new context carrying the given Keyring.
func WithContext(ctx context.Context, k *Keyring) context.Context {
	return context.WithValue(ctx, contextKey{}, k)
}

// FromContext retrieves the Keyring from the context. Returns nil if none was set.
func FromContext(ctx context.Context) *Keyring {
	k, _ := ctx.Value(contextKey{}).(*Keyring)
	return k
}

// Keyring derives keys from passphrases and caches the most recent one.
type Keyring struct {
	iterations int

	mu         sync.Mutex
	passphrase string
	key        *Key
}

// NewKeyring returns a Keyring using the given PBKDF2 iteration count
// (<= 0 selects DefaultIterations).
func NewKeyring(iterations int) *Keyring {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Keyring{iterations: iterations}
}

// Derive returns the key for passphrase, reusing the cached key when the
// passphrase has not changed.
func (k *Keyring) Derive(passphrase string) (*Key, error) {
	if passphrase == "" {
		return nil, syncerr.Config("encryption passphrase is not set")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != nil && k.passphrase == passphrase {
		return k.key, nil
	}
	raw := pbkdf2.Key([]byte(passphrase), []byte(saltPrefix+passphrase), k.iterations, keyLength, sha256.New)
	key, err := newKey(raw)
	if err != nil {
		return nil, err
	}
	k.passphrase = passphrase
	k.key = key
	return key, nil
}

// Forget drops the cached key.
func (k *Keyring) Forget() {
	k.mu.Lock()
	k.passphrase = ""
	k.key = nil
	k.mu.Unlock()
}

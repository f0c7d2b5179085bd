package dataencryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rhplus0831/risugit/internal/syncerr"
)

const (
	// Tag prefixes every encrypted string.
	Tag = "enc::"

	separator = "::"
	ivLength  = 12
)

// Key is a derived AES-256-GCM key. It is safe for concurrent use.
type Key struct {
	gcm cipher.AEAD
}

func newKey(raw []byte) (*Key, error) {
	gcm, err := newGCM(raw)
	if err != nil {
		return nil, err
	}
	return &Key{gcm: gcm}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("dataencryption: AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("dataencryption: GCM: %w", err)
	}
	return gcm, nil
}

func deriveIV(plaintext string) []byte {
	sum := sha256.Sum256([]byte(saltPrefix + plaintext))
	return sum[:ivLength]
}

// IsEncrypted reports whether s carries the ciphertext tag.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, Tag)
}

// EncryptString seals plaintext. The same plaintext and key always produce
// the same output.
func (k *Key) EncryptString(plaintext string) string {
	iv := deriveIV(plaintext)
	ct := k.gcm.Seal(nil, iv, []byte(plaintext), nil)
	return Tag + base64.StdEncoding.EncodeToString(iv) + separator + base64.StdEncoding.EncodeToString(ct)
}

// DecryptString opens a tagged value. Untagged input is returned unchanged.
func (k *Key) DecryptString(s string) (string, error) {
	if !IsEncrypted(s) {
		return s, nil
	}
	ivPart, ctPart, ok := strings.Cut(strings.TrimPrefix(s, Tag), separator)
	if !ok {
		return "", syncerr.Decrypt(errors.New("malformed ciphertext"))
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil || len(iv) != ivLength {
		return "", syncerr.Decrypt(errors.New("malformed iv"))
	}
	ct, err := base64.StdEncoding.DecodeString(ctPart)
	if err != nil {
		return "", syncerr.Decrypt(fmt.Errorf("malformed ciphertext: %w", err))
	}
	plain, err := k.gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return "", syncerr.Decrypt(err)
	}
	return string(plain), nil
}

// Package credentials seals per-user access tokens before they are stored.
package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrDecrypt is returned for ciphertext that fails authentication
var ErrDecrypt = errors.New("credentials: decryption failed")

// Cipher encrypts and decrypts short secrets with a shared symmetric key
type Cipher struct {
	key [keySize]byte
}

// NewCipher builds a Cipher from a 32-byte key encoded as hex or base64
func NewCipher(encodedKey string) (*Cipher, error) {
	raw, err := decodeKey(encodedKey)
	if err != nil {
		return nil, err
	}
	c := &Cipher{}
	copy(c.key[:], raw)
	return c, nil
}

func decodeKey(s string) ([]byte, error) {
	if raw, err := hex.DecodeString(s); err == nil && len(raw) == keySize {
		return raw, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil && len(raw) == keySize {
		return raw, nil
	}
	return nil, fmt.Errorf("credentials: key must be %d bytes as hex or base64", keySize)
}

// Encrypt seals plaintext with a fresh random nonce
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("credentials: read nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(sealed) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// Package security implements the optional pluggable authenticated-
// encryption layer spec §1 allows but never mandates: every connected
// datagram, once past the handshake, can be wrapped in a
// chacha20poly1305 AEAD seal instead of sent in the clear. Key agreement
// itself is out of scope (spec §1's "no stream semantics, no mandatory
// encryption" keeps this a pluggable layer, not a full secure-transport
// stack) - callers provide a pre-shared key, the same way a dedicated
// server and its known clients would share one out of band.
package security

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required length of a pre-shared key passed to New.
const KeySize = chacha20poly1305.KeySize

// Overhead is the number of bytes Seal adds to a plaintext payload: a
// random nonce plus the AEAD's authentication tag.
const Overhead = chacha20poly1305.NonceSize + chacha20poly1305.Overhead

// Cipher seals and opens datagrams under a single pre-shared key.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a 32-byte pre-shared key.
func New(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("security: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext and prepends a freshly generated nonce, so Open
// never needs out-of-band state to decrypt it.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("security: generate nonce: %w", err)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, nil), nil
}

// Open reverses Seal, rejecting anything tampered with or too short to
// contain a nonce and tag.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(data) < n {
		return nil, fmt.Errorf("security: datagram shorter than a nonce (%d bytes)", len(data))
	}
	nonce, ciphertext := data[:n], data[n:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("security: open: %w", err)
	}
	return plaintext, nil
}

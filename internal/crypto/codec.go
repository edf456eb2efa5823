// Package crypto seals chat payloads before they leave the gateway.
//
// Plaintext exists only inside the connection handler: everything that is
// persisted or pushed through the broker carries ciphertext produced here.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

// ErrDecrypt is returned when a payload cannot be opened. Callers treat
// this as non-fatal: the gateway relays the raw ciphertext with a warning
// instead of dropping the message.
var ErrDecrypt = errors.New("crypto: decryption failed")

// Codec seals and opens payloads with XChaCha20-Poly1305 under a single
// process-wide key. Safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec constructs a Codec from a 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// NewCodecFromHex constructs a Codec from a hex-encoded key, the form used
// in configuration.
func NewCodecFromHex(hexKey string) (*Codec, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid hex key: %w", err)
	}
	return NewCodec(key)
}

// Encrypt seals plaintext. The random nonce is prefixed to the returned
// ciphertext so payloads are self-contained.
func (c *Codec) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt.
func (c *Codec) Decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < c.aead.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

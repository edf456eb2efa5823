package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	c, err := NewCodec(key)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	payloads := [][]byte{
		nil,
		{},
		[]byte("hi"),
		[]byte(`{"message":"hello, group"}`),
		bytes.Repeat([]byte{0x00, 0xff}, 4096),
	}

	for _, p := range payloads {
		sealed, err := c.Encrypt(p)
		if err != nil {
			t.Fatalf("Encrypt(%d bytes): %v", len(p), err)
		}
		got, err := c.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt(%d bytes): %v", len(p), err)
		}
		if !bytes.Equal(got, p) {
			t.Fatalf("round trip mismatch for %d-byte payload", len(p))
		}
	}
}

func TestEncryptIsNondeterministic(t *testing.T) {
	c := newTestCodec(t)

	a, err := c.Encrypt([]byte("same"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := c.Encrypt([]byte("same"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two encryptions of the same payload must differ")
	}
}

func TestDecryptRejectsTamper(t *testing.T) {
	c := newTestCodec(t)

	sealed, err := c.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01

	if _, err := c.Decrypt(sealed); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestDecryptRejectsShortInput(t *testing.T) {
	c := newTestCodec(t)

	if _, err := c.Decrypt([]byte("short")); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	a := newTestCodec(t)
	b := newTestCodec(t)

	sealed, err := a.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(sealed); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt under wrong key, got %v", err)
	}
}

func TestNewCodecFromHex(t *testing.T) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}

	c, err := NewCodecFromHex(hex.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewCodecFromHex: %v", err)
	}
	sealed, err := c.Encrypt([]byte("x"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := c.Decrypt(sealed); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	if _, err := NewCodecFromHex("zz"); err == nil {
		t.Fatalf("expected error for invalid hex")
	}
	if _, err := NewCodecFromHex("abcd"); err == nil {
		t.Fatalf("expected error for short key")
	}
}

package realtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var testTokenKey = []byte("0123456789abcdef0123456789abcdef")

func TestTokenRoundTrip(t *testing.T) {
	v, err := NewHMACTokenVerifier(testTokenKey)
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}

	token, err := SignToken(testTokenKey, Identity{UserID: "u1", Name: "Uma"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "u1" || id.Name != "Uma" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestTokenRejectsExpired(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	v, err := NewHMACTokenVerifier(testTokenKey)
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}
	v = v.WithClock(func() time.Time { return now })

	token, err := SignToken(testTokenKey, Identity{UserID: "u1"}, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenRejectsTamperedBody(t *testing.T) {
	v, err := NewHMACTokenVerifier(testTokenKey)
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}

	token, err := SignToken(testTokenKey, Identity{UserID: "u1"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	body, sig, _ := strings.Cut(token, ".")
	forged := body[:len(body)-2] + "xx" + "." + sig

	if _, err := v.Verify(context.Background(), forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenRejectsWrongKey(t *testing.T) {
	v, err := NewHMACTokenVerifier(testTokenKey)
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}

	otherKey := []byte("ffffffffffffffffffffffffffffffff")
	token, err := SignToken(otherKey, Identity{UserID: "u1"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenRejectsGarbage(t *testing.T) {
	v, err := NewHMACTokenVerifier(testTokenKey)
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}

	for _, token := range []string{"", "   ", "nodot", "body.nothex", "!!!.abcd"} {
		if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestVerifierRejectsShortKey(t *testing.T) {
	if _, err := NewHMACTokenVerifier([]byte("short")); err == nil {
		t.Fatalf("expected error for short key")
	}
}

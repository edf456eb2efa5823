package realtime

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Identity is the resolved user behind a connection.
type Identity struct {
	UserID string
	Name   string
}

// ErrInvalidToken covers every credential failure: missing, malformed,
// bad signature, expired. Callers must not distinguish these on the wire,
// so membership and credential failures are refused identically.
var ErrInvalidToken = errors.New("realtime: invalid token")

// TokenVerifier resolves a bearer credential presented at handshake time
// to a user identity. Token issuance lives outside this pipeline.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// tokenClaims is the signed token body.
type tokenClaims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Exp    int64  `json:"exp"`
}

// HMACTokenVerifier verifies tokens of the form
// base64url(claims JSON) + "." + hex(HMAC-SHA256(claims, key)).
type HMACTokenVerifier struct {
	key []byte
	now func() time.Time
}

// NewHMACTokenVerifier constructs a verifier. The key must be at least 32
// bytes.
func NewHMACTokenVerifier(key []byte) (*HMACTokenVerifier, error) {
	if len(key) < 32 {
		return nil, errors.New("realtime: token HMAC key too short (need >= 32 bytes)")
	}
	return &HMACTokenVerifier{
		key: key,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the time source. Test hook.
func (v *HMACTokenVerifier) WithClock(now func() time.Time) *HMACTokenVerifier {
	v.now = now
	return v
}

// Verify checks the signature and expiry and returns the embedded
// identity.
func (v *HMACTokenVerifier) Verify(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	body, sigHex, ok := strings.Cut(token, ".")
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	m := hmac.New(sha256.New, v.key)
	m.Write([]byte(body))
	if !hmac.Equal(sig, m.Sum(nil)) {
		return Identity{}, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	var claims tokenClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Identity{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return Identity{}, ErrInvalidToken
	}
	if claims.Exp > 0 && v.now().Unix() >= claims.Exp {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: claims.UserID, Name: claims.Name}, nil
}

// SignToken mints a token for the given identity. Used by dev tooling and
// tests; production tokens come from the account service sharing the key.
func SignToken(key []byte, id Identity, expiresAt time.Time) (string, error) {
	claims := tokenClaims{UserID: id.UserID, Name: id.Name}
	if !expiresAt.IsZero() {
		claims.Exp = expiresAt.Unix()
	}

	raw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(raw)

	m := hmac.New(sha256.New, key)
	m.Write([]byte(body))
	return body + "." + hex.EncodeToString(m.Sum(nil)), nil
}

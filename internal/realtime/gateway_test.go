package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	v1 "chatnform/contracts/chat/v1"
	"chatnform/internal/crypto"
	"chatnform/internal/store"
)

var testCodecKey = []byte("an example very very secret key!") // 32 bytes

// mutableMembership is a membership table the tests can edit mid-session.
type mutableMembership struct {
	mu     sync.Mutex
	groups map[string]map[string]bool
}

func newMutableMembership() *mutableMembership {
	return &mutableMembership{groups: make(map[string]map[string]bool)}
}

func (m *mutableMembership) add(userID, groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.groups[groupID] == nil {
		m.groups[groupID] = make(map[string]bool)
	}
	m.groups[groupID][userID] = true
}

func (m *mutableMembership) remove(userID, groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups[groupID], userID)
}

func (m *mutableMembership) IsMember(_ context.Context, userID, groupID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[groupID][userID], nil
}

type gatewayHarness struct {
	srv        *httptest.Server
	registry   *store.MemoryRegistry
	dedup      *store.MemoryDedupStore
	messages   *InMemoryMessageStore
	dispatcher *MemoryDispatcher
	membership *mutableMembership
	codec      *crypto.Codec
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	t.Setenv("CHATNFORM_WS_ORIGIN_REQUIRED", "false")

	codec, err := crypto.NewCodec(testCodecKey)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	verifier, err := NewHMACTokenVerifier(testTokenKey)
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}

	h := &gatewayHarness{
		registry:   store.NewMemoryRegistry(0),
		dedup:      store.NewMemoryDedupStore(0),
		messages:   NewInMemoryMessageStore(),
		dispatcher: NewMemoryDispatcher(),
		membership: newMutableMembership(),
		codec:      codec,
	}

	gw, err := NewGateway(nil, Deps{
		Verifier:   verifier,
		Membership: h.membership,
		Registry:   h.registry,
		Dedup:      h.dedup,
		Messages:   h.messages,
		Codec:      codec,
		Publisher:  LoopbackPublisher{Dispatcher: h.dispatcher},
		Dispatcher: h.dispatcher,
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/chat/{group_id}", gw)

	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *gatewayHarness) wsURL(groupID, token string) string {
	base := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	return base + "/ws/chat/" + groupID + "?token=" + url.QueryEscape(token)
}

// dial connects as the given user and consumes the connection ack.
func (h *gatewayHarness) dial(t *testing.T, id Identity, groupID string) *websocket.Conn {
	t.Helper()

	token, err := SignToken(testTokenKey, id, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, h.wsURL(groupID, token), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })

	ack := readWS(t, conn)
	if ack["message"] != v1.ConnectedMessage {
		t.Fatalf("unexpected ack: %v", ack)
	}
	return conn
}

func writeWS(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	b, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func readWS(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return frame
}

// expectSilence asserts no frame arrives within the window. It consumes
// the connection: reading past the deadline tears the socket down, so
// call it last.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, data, err := conn.Read(ctx); err == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func TestGatewayAcceptsMemberAndAcks(t *testing.T) {
	h := newGatewayHarness(t)
	h.membership.add("uA", "g1")

	// dial fails the test unless the ack frame arrives.
	h.dial(t, Identity{UserID: "uA", Name: "Alice"}, "g1")

	active, err := h.registry.GetActive(context.Background(), "uA", "g1")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active == "" {
		t.Fatalf("expected a registered connection id")
	}
}

func TestGatewayRefusesNonMember(t *testing.T) {
	h := newGatewayHarness(t)
	// uA is not a member of g1.

	token, err := SignToken(testTokenKey, Identity{UserID: "uA"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, h.wsURL("g1", token), nil)
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	// A refused handshake leaves no trace in the registry.
	active, err := h.registry.GetActive(context.Background(), "uA", "g1")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active != "" {
		t.Fatalf("expected no registry entry, got %q", active)
	}
}

func TestGatewayRefusesBadToken(t *testing.T) {
	h := newGatewayHarness(t)
	h.membership.add("uA", "g1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, h.wsURL("g1", "not-a-token"), nil)
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestGatewayDeliversToPeersNotSender(t *testing.T) {
	h := newGatewayHarness(t)
	h.membership.add("uA", "g1")
	h.membership.add("uB", "g1")

	connA := h.dial(t, Identity{UserID: "uA", Name: "Alice"}, "g1")
	connB := h.dial(t, Identity{UserID: "uB", Name: "Bob"}, "g1")

	writeWS(t, connA, v1.InboundFrame{
		Sender:      "uA",
		Message:     "hello group",
		MessageType: v1.MessageTypeText,
		FileURL:     "https://files.example/x.png",
	})

	got := readWS(t, connB)
	if got["message"] != "hello group" {
		t.Fatalf("unexpected message: %v", got)
	}
	if got["sender_id"] != "uA" || got["sender_name"] != "Alice" {
		t.Fatalf("unexpected sender fields: %v", got)
	}
	if got["type"] != v1.MessageTypeText {
		t.Fatalf("unexpected type: %v", got)
	}
	if got["file"] != "https://files.example/x.png" {
		t.Fatalf("unexpected file: %v", got)
	}
	if id, _ := got["id"].(string); id == "" {
		t.Fatalf("expected a generated message id, got %v", got["id"])
	}

	// Persisted exactly once, ciphertext at rest, decryptable.
	msgs := h.messages.Messages("g1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(msgs))
	}
	if string(msgs[0].Ciphertext) == "hello group" {
		t.Fatalf("message persisted in plaintext")
	}
	plain, err := h.codec.Decrypt(msgs[0].Ciphertext)
	if err != nil || string(plain) != "hello group" {
		t.Fatalf("decrypt persisted ciphertext: %q, %v", plain, err)
	}

	// The sender gets no echo of its own message.
	expectSilence(t, connA)
}

func TestGatewayDropsDuplicateMessageID(t *testing.T) {
	h := newGatewayHarness(t)
	h.membership.add("uA", "g1")
	h.membership.add("uB", "g1")

	connA := h.dial(t, Identity{UserID: "uA", Name: "Alice"}, "g1")
	connB := h.dial(t, Identity{UserID: "uB", Name: "Bob"}, "g1")

	frame := v1.InboundFrame{
		ID:          "retry-1",
		Sender:      "uA",
		Message:     "only once",
		MessageType: v1.MessageTypeText,
	}
	writeWS(t, connA, frame)
	writeWS(t, connA, frame)

	got := readWS(t, connB)
	if got["id"] != "retry-1" {
		t.Fatalf("unexpected frame: %v", got)
	}

	// The duplicate is dropped silently: one persisted record, no second
	// delivery.
	if msgs := h.messages.Messages("g1"); len(msgs) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(msgs))
	}
	expectSilence(t, connB)
}

func TestGatewaySupersedesOldConnection(t *testing.T) {
	h := newGatewayHarness(t)
	h.membership.add("uA", "g1")

	first := h.dial(t, Identity{UserID: "uA", Name: "Alice"}, "g1")
	h.dial(t, Identity{UserID: "uA", Name: "Alice"}, "g1")

	// The first connection is told to go away with the supersede code.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, _, err := first.Read(ctx)
	if err == nil {
		t.Fatalf("expected first connection to be closed")
	}
	if code := websocket.CloseStatus(err); code != statusSuperseded {
		t.Fatalf("expected close status %d, got %d (%v)", statusSuperseded, code, err)
	}

	active, err := h.registry.GetActive(context.Background(), "uA", "g1")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active == "" {
		t.Fatalf("expected the new connection to hold the registry slot")
	}
}

func TestGatewayRevokedMembershipBlocksSend(t *testing.T) {
	h := newGatewayHarness(t)
	h.membership.add("uA", "g1")

	connA := h.dial(t, Identity{UserID: "uA", Name: "Alice"}, "g1")

	h.membership.remove("uA", "g1")

	writeWS(t, connA, v1.InboundFrame{
		Sender:      "uA",
		Message:     "should not land",
		MessageType: v1.MessageTypeText,
	})

	got := readWS(t, connA)
	if got["error"] != "not authorized for this group" {
		t.Fatalf("expected authorization error, got %v", got)
	}
	if msgs := h.messages.Messages("g1"); len(msgs) != 0 {
		t.Fatalf("expected nothing persisted, got %d", len(msgs))
	}
}

func TestGatewayRejectsInvalidFramesWithoutClosing(t *testing.T) {
	h := newGatewayHarness(t)
	h.membership.add("uA", "g1")

	connA := h.dial(t, Identity{UserID: "uA", Name: "Alice"}, "g1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := connA.Write(ctx, websocket.MessageText, []byte("{broken")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := readWS(t, connA); got["error"] != "invalid JSON" {
		t.Fatalf("expected JSON error, got %v", got)
	}

	writeWS(t, connA, v1.InboundFrame{
		Sender:      "uA",
		Message:     "x",
		MessageType: "carrier-pigeon",
	})
	if got := readWS(t, connA); got["error"] == nil {
		t.Fatalf("expected validation error, got %v", got)
	}

	writeWS(t, connA, v1.InboundFrame{
		Sender:      "uB", // not the authenticated user
		Message:     "x",
		MessageType: v1.MessageTypeText,
	})
	if got := readWS(t, connA); got["error"] != "sender mismatch" {
		t.Fatalf("expected sender mismatch, got %v", got)
	}

	// The session survives all of the above.
	writeWS(t, connA, v1.InboundFrame{
		Sender:      "uA",
		Message:     "still here",
		MessageType: v1.MessageTypeText,
	})

	deadline := time.Now().Add(2 * time.Second)
	for len(h.messages.Messages("g1")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("valid message after errors was not persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGatewayRelaysUndecryptablePayload(t *testing.T) {
	h := newGatewayHarness(t)
	h.membership.add("uB", "g1")

	connB := h.dial(t, Identity{UserID: "uB", Name: "Bob"}, "g1")

	// A corrupted envelope straight from the fan-out path: delivery wins
	// over decryption, the raw payload is relayed.
	env := v1.MessageEnvelope{
		ID:          "corrupt-1",
		SenderID:    "uA",
		GroupID:     "g1",
		Ciphertext:  []byte("garbage-not-sealed"),
		MessageType: v1.MessageTypeText,
		Timestamp:   time.Now().UTC(),
		Origin:      "some-other-conn",
	}
	if err := h.dispatcher.Broadcast(context.Background(), "g1", env); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	got := readWS(t, connB)
	if got["message"] != "garbage-not-sealed" {
		t.Fatalf("expected raw payload relayed, got %v", got)
	}
}

func TestGatewayRateLimitsSender(t *testing.T) {
	t.Setenv("CHATNFORM_WS_RATE_EVENTS", "2")
	t.Setenv("CHATNFORM_WS_RATE_WINDOW", "10s")

	h := newGatewayHarness(t)
	h.membership.add("uA", "g1")

	connA := h.dial(t, Identity{UserID: "uA", Name: "Alice"}, "g1")

	for i := 0; i < 3; i++ {
		writeWS(t, connA, v1.InboundFrame{
			Sender:      "uA",
			Message:     "spam",
			MessageType: v1.MessageTypeText,
		})
	}

	// The third frame trips the limiter and the gateway closes the session
	// with a policy violation.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for {
		_, _, err := connA.Read(ctx)
		if err == nil {
			continue // error frame may arrive before the close
		}
		if code := websocket.CloseStatus(err); code != websocket.StatusPolicyViolation {
			t.Fatalf("expected policy violation close, got %d (%v)", code, err)
		}
		return
	}
}

// Package realtime implements the chatnform delivery pipeline: the
// per-connection websocket gateway, the fan-out dispatcher, and the
// store boundaries they depend on.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "chatnform/contracts/chat/v1"
	"chatnform/internal/crypto"
	"chatnform/internal/metrics"
	"chatnform/internal/store"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Close code sent to a connection superseded by a newer one.
	statusSuperseded = websocket.StatusCode(4001)

	// Security defaults: origin required, localhost only (secure-by-default
	// for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Deps are the injected collaborators of the Gateway. Every shared-state
// handle sits behind an interface so the backing technology is swappable
// and the pipeline is testable with in-memory fakes.
type Deps struct {
	Verifier   TokenVerifier
	Membership Membership
	Registry   store.Registry
	Dedup      store.DedupStore
	Messages   MessageStore
	Codec      *crypto.Codec
	Publisher  Publisher
	Dispatcher Dispatcher
}

func (d Deps) validate() error {
	switch {
	case d.Verifier == nil:
		return errors.New("realtime: nil token verifier")
	case d.Membership == nil:
		return errors.New("realtime: nil membership store")
	case d.Registry == nil:
		return errors.New("realtime: nil registry")
	case d.Dedup == nil:
		return errors.New("realtime: nil dedup store")
	case d.Messages == nil:
		return errors.New("realtime: nil message store")
	case d.Codec == nil:
		return errors.New("realtime: nil codec")
	case d.Publisher == nil:
		return errors.New("realtime: nil publisher")
	case d.Dispatcher == nil:
		return errors.New("realtime: nil dispatcher")
	}
	return nil
}

// Gateway is the WebSocket entrypoint of the delivery pipeline.
//
// Each connection moves through Connecting -> Active -> Closed. A failed
// handshake terminates in Closed with no further I/O; an Active connection
// runs one event loop fed by two concurrent sources (the client read pump
// and the dispatcher subscription) until disconnect.
type Gateway struct {
	log  *slog.Logger
	deps Deps

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks. Accept() authorizes
	// same-host origins by default; cross-origin requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(log *slog.Logger, deps Deps) (*Gateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	g := &Gateway{log: log, deps: deps}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification), not an
	// origin policy.
	g.devInsecure = envBoolWS("CHATNFORM_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("CHATNFORM_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("CHATNFORM_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("CHATNFORM_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("CHATNFORM_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("CHATNFORM_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("CHATNFORM_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("CHATNFORM_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("CHATNFORM_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("CHATNFORM_WS_RATE_WINDOW", rateLimitWindow)

	return g, nil
}

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the
// per-connection loop. Mount under "/ws/chat/{group_id}".
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		metrics.ConnectionsRefused.WithLabelValues("origin").Inc()
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	groupID := strings.TrimSpace(r.PathValue("group_id"))
	token := r.URL.Query().Get("token")

	// Credential and membership failures are refused identically before the
	// upgrade: no information about group existence leaks to outsiders.
	identity, err := g.authorize(r.Context(), token, groupID)
	if err != nil {
		g.log.Info("ws.reject.unauthorized", "group_id", groupID, "remote", r.RemoteAddr)
		metrics.ConnectionsRefused.WithLabelValues("unauthorized").Inc()
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		metrics.ConnectionsRefused.WithLabelValues("handshake").Inc()
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	g.runConnection(r.Context(), conn, identity, groupID)
}

// authorize resolves the bearer token and checks group membership.
func (g *Gateway) authorize(ctx context.Context, token, groupID string) (Identity, error) {
	if groupID == "" {
		return Identity{}, ErrInvalidToken
	}

	identity, err := g.deps.Verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	ok, err := g.deps.Membership.IsMember(ctx, identity.UserID, groupID)
	if err != nil {
		return Identity{}, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return identity, nil
}

// runConnection owns one accepted socket from registration to teardown.
func (g *Gateway) runConnection(parent context.Context, conn *websocket.Conn, identity Identity, groupID string) {
	now := time.Now().UTC()

	connID, err := NewConnectionID(now)
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "id allocation failed")
		return
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	cl := newClient(connID, identity, groupID, g.sendQueueSize)

	// Claim the (user, group) slot. A different previous holder is told to
	// disconnect through its control channel; it may live in another
	// gateway process entirely.
	prev, err := g.deps.Registry.SetActive(ctx, identity.UserID, groupID, connID)
	if err != nil {
		g.log.Error("ws.registry.fail", "conn_id", connID, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "registry unavailable")
		return
	}
	if prev != "" && prev != connID {
		g.log.Info("ws.supersede", "conn_id", connID, "prev_conn_id", prev, "user_id", identity.UserID, "group_id", groupID)
		if err := g.deps.Dispatcher.Signal(ctx, identity.UserID, groupID, prev); err != nil {
			g.log.Error("ws.supersede.signal.fail", "prev_conn_id", prev, "err", err)
		}
	}

	sub, err := g.deps.Dispatcher.Subscribe(ctx, identity.UserID, groupID, connID)
	if err != nil {
		g.log.Error("ws.subscribe.fail", "conn_id", connID, "err", err)
		g.clearRegistration(identity.UserID, groupID, connID)
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close cl.Send; membership removal
	// happens before cl.Close so event delivery stays panic-free.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			_ = sub.Close()
			g.clearRegistration(identity.UserID, groupID, connID)
			cl.Close()
			_ = conn.Close(code, reason)
			cancel()
			metrics.ConnectionsActive.Dec()
		})
	}

	metrics.ConnectionsActive.Inc()
	metrics.ConnectionsAccepted.Inc()
	g.log.Info("ws.connect", "conn_id", connID, "user_id", identity.UserID, "group_id", groupID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-cl.Done():
				return
			case frame := <-cl.Send:
				if err := g.writeFrame(ctx, conn, frame); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-cl.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// Read pump: the blocking conn.Read lives in its own goroutine so the
	// event loop below can wait on client input and dispatcher events
	// simultaneously.
	type readResult struct {
		data []byte
		err  error
	}
	inbound := make(chan readResult)
	go func() {
		defer close(inbound)

		for {
			readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
			data, err := readFrame(readCtx, conn)
			readCancel()

			select {
			case inbound <- readResult{data: data, err: err}:
			case <-ctx.Done():
				return
			case <-cl.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	// Connection accepted: acknowledge before entering the event loop.
	g.enqueueJSON(ctx, cl, v1.ConnectedFrame{Message: v1.ConnectedMessage})

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

eventLoop:
	for {
		select {
		case <-ctx.Done():
			shutdown(websocket.StatusNormalClosure, "context done")
			break eventLoop

		case res, ok := <-inbound:
			if !ok {
				shutdown(websocket.StatusNormalClosure, "read pump done")
				break eventLoop
			}
			if res.err != nil {
				switch classifyReadErr(res.err) {
				case readErrClose:
					shutdown(websocket.StatusNormalClosure, "peer closed")
					break eventLoop
				case readErrCtxDone:
					shutdown(websocket.StatusNormalClosure, "read idle")
					break eventLoop
				case readErrConnClosed:
					shutdown(websocket.StatusAbnormalClosure, "conn closed")
					break eventLoop
				default:
					g.log.Info("ws.read.fail", "conn_id", connID, "err", res.err)
					shutdown(websocket.StatusAbnormalClosure, "read failed")
					break eventLoop
				}
			}

			now := time.Now().UTC()
			if !rl.Allow(now) {
				g.trySendError(ctx, cl, "too many messages")
				shutdown(websocket.StatusPolicyViolation, "rate limited")
				break eventLoop
			}

			g.onReceive(ctx, cl, res.data, now)

		case ev, ok := <-sub.Events():
			if !ok {
				// Subscription transport died; without fan-out the
				// connection is useless.
				shutdown(websocket.StatusAbnormalClosure, "subscription closed")
				break eventLoop
			}

			switch ev.Kind {
			case EventBroadcast:
				g.onBroadcast(ctx, cl, ev.Envelope)
			case EventForceDisconnect:
				if ev.Target != connID {
					continue
				}
				g.log.Info("ws.force_disconnect", "conn_id", connID, "user_id", identity.UserID, "group_id", groupID)
				metrics.ForceDisconnects.Inc()
				shutdown(statusSuperseded, "superseded by new connection")
				break eventLoop
			default:
				g.log.Warn("ws.event.unknown_kind", "conn_id", connID, "kind", ev.Kind)
			}
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	g.log.Info("ws.disconnect", "conn_id", connID, "user_id", identity.UserID, "group_id", groupID)
}

// clearRegistration removes this connection's registry record unless a
// newer connection already owns the slot. Runs on a fresh context: the
// request context is usually dead by the time teardown happens.
func (g *Gateway) clearRegistration(userID, groupID, connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cleared, err := g.deps.Registry.ClearIfMatches(ctx, userID, groupID, connID)
	if err != nil {
		g.log.Error("ws.registry.clear.fail", "conn_id", connID, "err", err)
		return
	}
	if !cleared {
		// A newer connection superseded this one; its record stays.
		g.log.Debug("ws.registry.clear.skipped", "conn_id", connID)
	}
}

// ---- inbound path ----

// onReceive runs the ingestion pipeline for one raw client frame:
// parse -> dedup -> membership -> encrypt -> persist -> publish.
func (g *Gateway) onReceive(ctx context.Context, cl *client, data []byte, now time.Time) {
	var frame v1.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		g.trySendError(ctx, cl, "invalid JSON")
		return
	}
	if err := frame.Validate(); err != nil {
		g.trySendError(ctx, cl, err.Error())
		return
	}
	if frame.Sender != "" && frame.Sender != cl.UserID {
		g.trySendError(ctx, cl, "sender mismatch")
		return
	}
	if len([]rune(frame.Message)) > maxMessageChars {
		g.trySendError(ctx, cl, fmt.Sprintf("message too long: max=%d chars", maxMessageChars))
		return
	}

	msgID := strings.TrimSpace(frame.ID)
	if msgID == "" {
		msgID = NewMessageID()
	}

	// Mark before any side effect: the winner of this check-and-set owns
	// every downstream write for this message id.
	first, err := g.deps.Dedup.MarkIfAbsent(ctx, msgID)
	if err != nil {
		g.log.Error("ws.dedup.fail", "conn_id", cl.ConnID, "message_id", msgID, "err", err)
		g.trySendProcessingError(ctx, cl)
		return
	}
	if !first {
		// Retry absorption contract: duplicates are dropped silently.
		metrics.DedupHits.Inc()
		g.log.Debug("ws.dedup.hit", "conn_id", cl.ConnID, "message_id", msgID)
		return
	}

	// Re-verify membership: the sender may have been removed from the
	// group mid-session.
	ok, err := g.deps.Membership.IsMember(ctx, cl.UserID, cl.GroupID)
	if err != nil {
		g.log.Error("ws.membership.fail", "conn_id", cl.ConnID, "err", err)
		g.trySendProcessingError(ctx, cl)
		return
	}
	if !ok {
		g.trySendError(ctx, cl, "not authorized for this group")
		return
	}

	ciphertext, err := g.deps.Codec.Encrypt([]byte(frame.Message))
	if err != nil {
		g.log.Error("ws.encrypt.fail", "conn_id", cl.ConnID, "message_id", msgID, "err", err)
		g.trySendProcessingError(ctx, cl)
		return
	}

	if _, err := g.deps.Messages.Append(ctx, AppendInput{
		ID:          msgID,
		GroupID:     cl.GroupID,
		SenderID:    cl.UserID,
		MessageType: frame.MessageType,
		Ciphertext:  ciphertext,
		FileURL:     frame.FileURL,
		Now:         now,
	}); err != nil {
		g.log.Error("ws.persist.fail", "conn_id", cl.ConnID, "message_id", msgID, "err", err)
		g.trySendProcessingError(ctx, cl)
		return
	}

	env := v1.MessageEnvelope{
		ID:          msgID,
		SenderID:    cl.UserID,
		SenderName:  cl.Name,
		GroupID:     cl.GroupID,
		Ciphertext:  ciphertext,
		FileURL:     frame.FileURL,
		MessageType: frame.MessageType,
		Timestamp:   now,
		Origin:      cl.ConnID,
	}

	// No automatic retry on publish failure: the message is already durable
	// in the message store, and a client resend with the same id is
	// absorbed by dedup.
	if err := g.deps.Publisher.Publish(ctx, env); err != nil {
		metrics.PublishFailures.Inc()
		g.log.Error("ws.publish.fail", "conn_id", cl.ConnID, "message_id", msgID, "err", err)
		g.trySendProcessingError(ctx, cl)
		return
	}

	metrics.MessagesPublished.WithLabelValues(frame.MessageType).Inc()
	g.log.Debug("ws.publish", "conn_id", cl.ConnID, "message_id", msgID, "group_id", cl.GroupID)
}

// ---- outbound path ----

// onBroadcast relays one fan-out envelope to the client, suppressing
// loopback to the originating connection.
func (g *Gateway) onBroadcast(ctx context.Context, cl *client, env v1.MessageEnvelope) {
	if env.Origin != "" && env.Origin == cl.ConnID {
		// The sender already has local confirmation; echoing it back would
		// duplicate the message client-side.
		metrics.LoopbacksSuppressed.Inc()
		return
	}

	message := ""
	if len(env.Ciphertext) > 0 {
		plaintext, err := g.deps.Codec.Decrypt(env.Ciphertext)
		if err != nil {
			// Non-fatal: relay the raw ciphertext rather than losing the
			// message entirely.
			metrics.DecryptFailures.Inc()
			g.log.Warn("ws.decrypt.fail", "conn_id", cl.ConnID, "message_id", env.ID, "err", err)
			message = string(env.Ciphertext)
		} else {
			message = string(plaintext)
		}
	}

	delivered := g.enqueueJSON(ctx, cl, v1.OutboundFrame{
		ID:         env.ID,
		Type:       env.MessageType,
		Message:    message,
		SenderID:   env.SenderID,
		SenderName: env.SenderName,
		File:       env.FileURL,
		Timestamp:  env.Timestamp,
	})
	if delivered {
		metrics.BroadcastsDelivered.Inc()
	}
}

// ---- send helpers ----

// processingErrorText matches the wording clients already handle.
const processingErrorText = "An error occurred while processing your message."

func (g *Gateway) trySendProcessingError(ctx context.Context, cl *client) {
	g.trySendError(ctx, cl, processingErrorText)
}

func (g *Gateway) trySendError(ctx context.Context, cl *client, msg string) {
	_ = g.enqueueJSON(ctx, cl, v1.ErrorFrame{Error: msg})
}

func (g *Gateway) enqueueJSON(ctx context.Context, cl *client, frame any) bool {
	b, err := json.Marshal(frame)
	if err != nil {
		g.log.Error("ws.marshal.fail", "conn_id", cl.ConnID, "err", err)
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-cl.Done():
		return false
	case cl.Send <- b:
		return true
	default:
		// Drop rather than block the event loop behind a slow socket.
		g.log.Warn("ws.send.overrun", "conn_id", cl.ConnID)
		return false
	}
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func (g *Gateway) writeFrame(parent context.Context, conn *websocket.Conn, frame []byte) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, frame)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically produced after a successful read;
	// this fallback exists for robustness when error strings propagate.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host.
	// Keep this strict: only hosts extracted from the allowlist.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Package app wires the chatnform runtime: config, logging, HTTP routes,
// the websocket gateway, and the fan-out worker.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"chatnform/internal/broker"
	"chatnform/internal/crypto"
	"chatnform/internal/realtime"
	"chatnform/internal/store"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the gateway runtime: it owns HTTP server wiring and the
// delivery-pipeline dependencies behind the websocket endpoint.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	redisClient *redis.Client

	publisher publisherCloser

	gateway *realtime.Gateway
}

// publisherCloser is what App needs from its publisher: the kafka writer
// must be flushed and closed on shutdown, the loopback needs nothing.
type publisherCloser interface {
	realtime.Publisher
	Close() error
}

type nopClosePublisher struct{ realtime.Publisher }

func (nopClosePublisher) Close() error { return nil }

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	ctx := context.Background()

	codec, verifier, err := newSecrets(cfg, log)
	if err != nil {
		return nil, err
	}

	registry, dedup, dispatcher, redisClient, err := newSharedState(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, msgStore, membership, err := newStore(ctx, cfg, log)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}

	pub, err := newPublisher(cfg, log, dispatcher)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		_ = st.Close(ctx)
		return nil, err
	}

	gw, err := realtime.NewGateway(log, realtime.Deps{
		Verifier:   verifier,
		Membership: membership,
		Registry:   registry,
		Dedup:      dedup,
		Messages:   msgStore,
		Codec:      codec,
		Publisher:  pub,
		Dispatcher: dispatcher,
	})
	if err != nil {
		_ = pub.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		_ = st.Close(ctx)
		return nil, err
	}

	return &App{
		cfg:         cfg,
		log:         log,
		store:       st,
		dbPool:      dbPool,
		dbEnabled:   dbEnabled,
		redisClient: redisClient,
		publisher:   pub,
		gateway:     gw,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.gateway)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "redis_enabled", a.redisClient != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.publisher.Close(); err != nil {
		a.log.Error("publisher.close.fail", "err", err)
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newSecrets resolves the message codec and the token verifier. Missing
// keys are tolerated only in all-in-memory dev mode, where throwaway keys
// are generated per process.
func newSecrets(cfg Config, log Logger) (*crypto.Codec, *realtime.HMACTokenVerifier, error) {
	devMode := cfg.DatabaseURL == "" && cfg.RedisURL == ""

	keyHex := cfg.MessageKeyHex
	if keyHex == "" {
		if !devMode {
			return nil, nil, errors.New("app: CHATNFORM_MESSAGE_KEY is required outside dev mode")
		}
		k := make([]byte, crypto.KeySize)
		if _, err := rand.Read(k); err != nil {
			return nil, nil, err
		}
		keyHex = fmt.Sprintf("%x", k)
		log.Warn("crypto.devkey.generated", "reason", "CHATNFORM_MESSAGE_KEY not set")
	}
	codec, err := crypto.NewCodecFromHex(keyHex)
	if err != nil {
		return nil, nil, err
	}

	tokenKey := []byte(cfg.TokenHMACKey)
	if len(tokenKey) == 0 {
		if !devMode {
			return nil, nil, errors.New("app: CHATNFORM_TOKEN_HMAC_KEY is required outside dev mode")
		}
		tokenKey = make([]byte, 32)
		if _, err := rand.Read(tokenKey); err != nil {
			return nil, nil, err
		}
		log.Warn("auth.devkey.generated", "reason", "CHATNFORM_TOKEN_HMAC_KEY not set")
	}
	verifier, err := realtime.NewHMACTokenVerifier(tokenKey)
	if err != nil {
		return nil, nil, err
	}

	return codec, verifier, nil
}

// newSharedState decides between Redis-backed cross-process state and the
// in-memory single-process fallback.
func newSharedState(ctx context.Context, cfg Config, log Logger) (store.Registry, store.DedupStore, realtime.Dispatcher, *redis.Client, error) {
	if cfg.RedisURL == "" {
		log.Info("redis.disabled.inmemory_state")
		return store.NewMemoryRegistry(cfg.RegistryTTL),
			store.NewMemoryDedupStore(cfg.DedupTTL),
			realtime.NewMemoryDispatcher(),
			nil, nil
	}

	client, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	registry, err := store.NewRedisRegistry(client, cfg.RegistryTTL)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, nil, err
	}
	dedup, err := store.NewRedisDedupStore(client, cfg.DedupTTL)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, nil, err
	}
	dispatcher, err := realtime.NewRedisDispatcher(log, client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, nil, err
	}

	log.Info("redis.enabled.shared_state")
	return registry, dedup, dispatcher, client, nil
}

// newStore decides between Postgres-backed persistence and in-memory dev stores.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, realtime.MessageStore, realtime.Membership, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, realtime.NewInMemoryMessageStore(), devMembership(cfg, log), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, nil, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresMessageStore.Close() is a no-op
	msgStore, err := realtime.NewPostgresMessageStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}
	membership, err := realtime.NewPostgresMembership(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}

	return dbStore{pool: pool, msgStore: msgStore}, pool, true, msgStore, membership, nil
}

type dbStore struct {
	pool     *pgxpool.Pool
	msgStore realtime.MessageStore
}

func (s dbStore) Close(_ context.Context) error {
	if s.msgStore != nil {
		_ = s.msgStore.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// devMembership builds the membership table used when no DB is configured:
// either the seeded static table from CHATNFORM_DEV_MEMBERS, or an open
// table that admits everyone.
func devMembership(cfg Config, log Logger) realtime.Membership {
	if len(cfg.DevMembers) == 0 {
		log.Warn("membership.open", "reason", "no DB and no CHATNFORM_DEV_MEMBERS; every user is a member of every group")
		return openMembership{}
	}

	members := realtime.StaticMembership{}
	for _, pair := range cfg.DevMembers {
		groupID, userID, ok := strings.Cut(pair, ":")
		groupID = strings.TrimSpace(groupID)
		userID = strings.TrimSpace(userID)
		if !ok || groupID == "" || userID == "" {
			log.Warn("membership.dev.skip_entry", "entry", pair)
			continue
		}
		members[groupID] = append(members[groupID], userID)
	}
	log.Info("membership.static", "groups", len(members))
	return members
}

type openMembership struct{}

func (openMembership) IsMember(_ context.Context, _, _ string) (bool, error) { return true, nil }

// newPublisher picks the broker path: Kafka when brokers are configured,
// otherwise the in-process loopback.
func newPublisher(cfg Config, log Logger, dispatcher realtime.Dispatcher) (publisherCloser, error) {
	if len(cfg.KafkaBrokers) == 0 {
		log.Info("broker.disabled.loopback_publisher")
		return nopClosePublisher{realtime.LoopbackPublisher{Dispatcher: dispatcher}}, nil
	}

	pub, err := broker.NewKafkaPublisher(log, cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, err
	}
	log.Info("broker.enabled.kafka_publisher", "topic", cfg.KafkaTopic)
	return pub, nil
}

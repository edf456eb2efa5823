package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"chatnform/internal/broker"
	"chatnform/internal/realtime"
	"chatnform/internal/store"
)

// Fanout is the worker runtime bridging the broker to the dispatcher: it
// consumes the chat topic and republishes each record to the group's
// pub/sub channel, where every gateway process picks it up.
type Fanout struct {
	cfg Config
	log Logger

	redisClient *redis.Client
	consumer    *broker.Consumer
}

// NewFanout constructs a fully wired fan-out worker.
//
// Unlike the gateway, the worker has no in-memory fallback: its whole job
// is cross-process delivery, which needs both the broker and the shared
// pub/sub transport.
func NewFanout(cfg Config, log Logger) (*Fanout, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("app: CHATNFORM_KAFKA_BROKERS is required for the fan-out worker")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("app: CHATNFORM_REDIS_URL is required for the fan-out worker")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisClient, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	dispatcher, err := realtime.NewRedisDispatcher(log, redisClient)
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}

	reader, err := broker.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ConsumerGroup)
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}

	consumer, err := broker.NewConsumer(log, reader, dispatcher)
	if err != nil {
		_ = reader.Close()
		_ = redisClient.Close()
		return nil, err
	}

	return &Fanout{
		cfg:         cfg,
		log:         log,
		redisClient: redisClient,
		consumer:    consumer,
	}, nil
}

// Run starts the consume loop plus a small ops HTTP server and blocks
// until context cancellation or a fatal consumer error.
func (f *Fanout) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              f.cfg.FanoutHTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	f.log.Info("fanout.start", "addr", f.cfg.FanoutHTTPAddr, "topic", f.cfg.KafkaTopic, "consumer_group", f.cfg.ConsumerGroup)

	httpErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	consumeErr := make(chan error, 1)
	go func() { consumeErr <- f.consumer.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		f.log.Info("fanout.stop", "reason", "context_done")
		runErr = <-consumeErr
	case err := <-consumeErr:
		f.log.Error("fanout.consumer.fail", "err", err)
		runErr = err
	case err := <-httpErr:
		f.log.Error("fanout.http.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		f.log.Error("fanout.http.shutdown.fail", "err", err)
	}
	if err := f.consumer.Close(); err != nil {
		f.log.Error("fanout.consumer.close.fail", "err", err)
	}
	if err := f.redisClient.Close(); err != nil {
		f.log.Error("fanout.redis.close.fail", "err", err)
	}

	f.log.Info("fanout.stopped")
	return runErr
}

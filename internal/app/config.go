package app

import (
	"time"

	"github.com/joho/godotenv"

	"chatnform/internal/broker"
	"chatnform/internal/store"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr       string
	FanoutHTTPAddr string
	LogLevel       string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisURL string

	KafkaBrokers  []string
	KafkaTopic    string
	ConsumerGroup string

	// MessageKeyHex is the hex-encoded symmetric key that seals message
	// payloads at rest and in flight through the broker.
	MessageKeyHex string

	// TokenHMACKey signs and verifies connection tokens.
	TokenHMACKey string

	RegistryTTL time.Duration
	DedupTTL    time.Duration

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// DevMembers seeds a static membership table ("group:user,...") when
	// no database is configured.
	DevMembers []string
}

// LoadConfig loads Config from environment variables with defaults.
// A .env file in the working directory is honored when present.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:       EnvString("CHATNFORM_HTTP_ADDR", "0.0.0.0:8080"),
		FanoutHTTPAddr: EnvString("CHATNFORM_FANOUT_HTTP_ADDR", "0.0.0.0:8081"),
		LogLevel:       EnvString("CHATNFORM_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("CHATNFORM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHATNFORM_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CHATNFORM_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CHATNFORM_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CHATNFORM_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("CHATNFORM_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("CHATNFORM_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CHATNFORM_DB_MIN_CONNS", 0),

		RedisURL: EnvString("CHATNFORM_REDIS_URL", ""),

		KafkaBrokers:  EnvCSV("CHATNFORM_KAFKA_BROKERS", ""),
		KafkaTopic:    EnvString("CHATNFORM_KAFKA_TOPIC", broker.DefaultTopic),
		ConsumerGroup: EnvString("CHATNFORM_CONSUMER_GROUP", broker.DefaultGroupID),

		MessageKeyHex: EnvString("CHATNFORM_MESSAGE_KEY", ""),
		TokenHMACKey:  EnvString("CHATNFORM_TOKEN_HMAC_KEY", ""),

		RegistryTTL: EnvDuration("CHATNFORM_REGISTRY_TTL", store.DefaultRegistryTTL),
		DedupTTL:    EnvDuration("CHATNFORM_DEDUP_TTL", store.DefaultDedupTTL),

		ReadinessRequireDB: EnvBool("CHATNFORM_READINESS_REQUIRE_DB", false),

		DevMembers: EnvCSV("CHATNFORM_DEV_MEMBERS", ""),
	}
}

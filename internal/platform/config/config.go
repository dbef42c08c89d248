package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "fieldsync/pkg/platform/strings"
)

// Server captures configuration for the identity/sync backend binary.
type Server struct {
	Addr          string
	PostgresDSN   string
	Redis         RedisConfig
	JWTSigningKey string
	AdminToken    string

	// OTPTestMode returns issued codes in the HTTP response instead of
	// dispatching SMS. Must stay disabled in production deployments.
	OTPTestMode bool

	SMSGatewayURL    string
	SMSGatewayAPIKey string
	SMSSender        string

	KafkaBrokers    []string
	KafkaAuditTopic string
}

// RedisConfig tunes the shared Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Agent captures configuration for the field-agent sync daemon.
type Agent struct {
	QueuePath     string // SQLite file backing the mutation queue
	ServerURL     string
	APIToken      string
	OperatorAddr  string // local operator API for conflict resolution
	AdminToken    string
	DrainInterval time.Duration
	CommitTimeout time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration

	// ConflictPolicyJSON optionally overrides the built-in per-entity
	// strategies, e.g. {"stock":"server-wins","order":"manual"}.
	ConflictPolicyJSON string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("FIELDSYNC_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development fallback; deployments must override.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("FIELDSYNC_KAFKA_BROKERS"); raw != "" {
		brokers = pstrings.DedupeAndTrim(strings.Split(raw, ","))
	}

	return Server{
		Addr:             envOr("FIELDSYNC_ADDR", ":8080"),
		PostgresDSN:      os.Getenv("FIELDSYNC_POSTGRES_DSN"),
		Redis:            redisFromEnv(),
		JWTSigningKey:    jwtSigningKey,
		AdminToken:       envOr("FIELDSYNC_ADMIN_TOKEN", "dev-admin-token"),
		OTPTestMode:      os.Getenv("FIELDSYNC_OTP_TEST_MODE") == "true",
		SMSGatewayURL:    os.Getenv("FIELDSYNC_SMS_GATEWAY_URL"),
		SMSGatewayAPIKey: os.Getenv("FIELDSYNC_SMS_GATEWAY_API_KEY"),
		SMSSender:        envOr("FIELDSYNC_SMS_SENDER", "FIELDSYNC"),
		KafkaBrokers:     brokers,
		KafkaAuditTopic:  envOr("FIELDSYNC_KAFKA_AUDIT_TOPIC", "fieldsync.audit"),
	}
}

// AgentFromEnv builds an Agent config from environment variables.
func AgentFromEnv() Agent {
	return Agent{
		QueuePath:          envOr("FIELDSYNC_AGENT_QUEUE_PATH", "fieldsync-queue.db"),
		ServerURL:          envOr("FIELDSYNC_AGENT_SERVER_URL", "http://localhost:8080"),
		APIToken:           os.Getenv("FIELDSYNC_AGENT_API_TOKEN"),
		OperatorAddr:       envOr("FIELDSYNC_AGENT_OPERATOR_ADDR", "127.0.0.1:8090"),
		AdminToken:         envOr("FIELDSYNC_AGENT_ADMIN_TOKEN", "dev-admin-token"),
		DrainInterval:      envDurationOr("FIELDSYNC_AGENT_DRAIN_INTERVAL", 30*time.Second),
		CommitTimeout:      envDurationOr("FIELDSYNC_AGENT_COMMIT_TIMEOUT", 10*time.Second),
		MaxAttempts:        envIntOr("FIELDSYNC_AGENT_MAX_ATTEMPTS", 5),
		BaseBackoff:        envDurationOr("FIELDSYNC_AGENT_BASE_BACKOFF", 2*time.Second),
		ConflictPolicyJSON: os.Getenv("FIELDSYNC_CONFLICT_POLICY"),
	}
}

func redisFromEnv() RedisConfig {
	return RedisConfig{
		URL:          os.Getenv("FIELDSYNC_REDIS_URL"),
		PoolSize:     envIntOr("FIELDSYNC_REDIS_POOL_SIZE", 10),
		MinIdleConns: envIntOr("FIELDSYNC_REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  envDurationOr("FIELDSYNC_REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDurationOr("FIELDSYNC_REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDurationOr("FIELDSYNC_REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

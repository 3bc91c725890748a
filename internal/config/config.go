package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Session   SessionConfig
	Ledger    LedgerConfig
	Evidence  EvidenceConfig
	Storage   StorageConfig
	Notary    NotaryConfig
	Reconcile ReconcileConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values. An empty DSN is legal: the
// ticket store is a disposable cache rebuildable from a full poll, so the
// service falls back to an in-memory store.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// SessionConfig defines wallet session parameters.
type SessionConfig struct {
	JWTSecret         string
	SessionTTLMinutes int
}

// LedgerMode selects the escrow ledger implementation at construction time.
type LedgerMode string

const (
	LedgerModeHTTP   LedgerMode = "http"
	LedgerModeMemory LedgerMode = "memory"
)

// LedgerConfig holds settlement ledger gateway values. Timeouts are
// generous: ledger finality runs seconds to minutes and a slow
// confirmation is not a failure.
type LedgerConfig struct {
	Mode                  LedgerMode
	GatewayURL            string
	ContractAddress       string
	RewardContractAddress string
	RequestTimeoutSec     int
	RetryAttempts         int
	RetryBaseMillis       int
	ConfirmTimeoutSec     int
}

// EvidenceConfig bounds evidence payloads.
type EvidenceConfig struct {
	MaxPayloadBytes int64
}

// StorageConfig holds content-addressed storage endpoints.
type StorageConfig struct {
	APIURL     string
	GatewayURL string
	AuthToken  string
}

// NotaryConfig holds the hash-anchoring endpoint. Anchoring is
// fire-and-forget; an empty endpoint disables it.
type NotaryConfig struct {
	Endpoint string
}

// ReconcileConfig controls the reconciliation poller.
type ReconcileConfig struct {
	IntervalSeconds int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	mode := LedgerMode(getEnv("LEDGER_MODE", string(LedgerModeMemory)))
	if mode != LedgerModeHTTP && mode != LedgerModeMemory {
		return nil, fmt.Errorf("invalid LEDGER_MODE: %q", mode)
	}
	if mode == LedgerModeHTTP && os.Getenv("LEDGER_GATEWAY_URL") == "" {
		return nil, fmt.Errorf("LEDGER_GATEWAY_URL required when LEDGER_MODE=http")
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "incident-escrow"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Session: SessionConfig{
			JWTSecret:         getEnv("SESSION_JWT_SECRET", "dev-secret"),
			SessionTTLMinutes: getEnvAsInt("SESSION_TTL_MINUTES", 60),
		},
		Ledger: LedgerConfig{
			Mode:                  mode,
			GatewayURL:            os.Getenv("LEDGER_GATEWAY_URL"),
			ContractAddress:       getEnv("LEDGER_SOC_CONTRACT_ADDRESS", ""),
			RewardContractAddress: getEnv("LEDGER_CLT_CONTRACT_ADDRESS", ""),
			RequestTimeoutSec:     getEnvAsInt("LEDGER_REQUEST_TIMEOUT_SECONDS", 120),
			RetryAttempts:         getEnvAsInt("LEDGER_RETRY_ATTEMPTS", 3),
			RetryBaseMillis:       getEnvAsInt("LEDGER_RETRY_BASE_MILLIS", 1000),
			ConfirmTimeoutSec:     getEnvAsInt("LEDGER_CONFIRM_TIMEOUT_SECONDS", 600),
		},
		Evidence: EvidenceConfig{
			MaxPayloadBytes: int64(getEnvAsInt("EVIDENCE_MAX_PAYLOAD_BYTES", 16<<20)),
		},
		Storage: StorageConfig{
			APIURL:     getEnv("STORAGE_API_URL", ""),
			GatewayURL: getEnv("STORAGE_GATEWAY_URL", ""),
			AuthToken:  os.Getenv("STORAGE_AUTH_TOKEN"),
		},
		Notary: NotaryConfig{
			Endpoint: getEnv("NOTARY_ENDPOINT", ""),
		},
		Reconcile: ReconcileConfig{
			IntervalSeconds: getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 10),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Interval returns the poller interval duration.
func (r ReconcileConfig) Interval() time.Duration {
	if r.IntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.IntervalSeconds) * time.Second
}

// RetryBase returns the base backoff duration for ledger retries.
func (l LedgerConfig) RetryBase() time.Duration {
	if l.RetryBaseMillis <= 0 {
		return time.Second
	}
	return time.Duration(l.RetryBaseMillis) * time.Millisecond
}

// RequestTimeout returns the per-call ledger timeout.
func (l LedgerConfig) RequestTimeout() time.Duration {
	if l.RequestTimeoutSec <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(l.RequestTimeoutSec) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

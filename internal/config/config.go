package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultRecoveryKeyAlphabet omits the confusable characters 0, O, I and 1.
	DefaultRecoveryKeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	DefaultRecoveryKeyLength   = 16
	DefaultRecoveryValidity    = 90 * 24 * time.Hour

	minBcryptCost = 12
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Hierarchy    HierarchyConfig
	Recovery     RecoveryConfig
	Notification NotificationConfig
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

// PostgresConfig holds DB connection values.
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

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// HierarchyConfig configures the role hierarchy.
type HierarchyConfig struct {
	// MasterEmail identifies the protected master account. It is compared
	// byte-for-byte and read once at startup.
	MasterEmail string
	// MasterUsername and MasterPassword bootstrap the protected account on an
	// empty store. Both are optional.
	MasterUsername string
	MasterPassword string
}

// RecoveryConfig controls recovery key issuance and redemption.
type RecoveryConfig struct {
	KeyLength            int
	Alphabet             string
	ValidityDays         int
	MaxAttempts          int
	AttemptWindowMinutes int
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "account-hierarchy"),
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
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", minBcryptCost),
		},
		Hierarchy: HierarchyConfig{
			MasterEmail:    os.Getenv("MASTER_EMAIL"),
			MasterUsername: getEnv("MASTER_USERNAME", "master"),
			MasterPassword: os.Getenv("MASTER_PASSWORD"),
		},
		Recovery: RecoveryConfig{
			KeyLength:            getEnvAsInt("RECOVERY_KEY_LENGTH", DefaultRecoveryKeyLength),
			Alphabet:             getEnv("RECOVERY_KEY_ALPHABET", DefaultRecoveryKeyAlphabet),
			ValidityDays:         getEnvAsInt("RECOVERY_KEY_VALIDITY_DAYS", 90),
			MaxAttempts:          getEnvAsInt("RECOVERY_MAX_ATTEMPTS", 5),
			AttemptWindowMinutes: getEnvAsInt("RECOVERY_ATTEMPT_WINDOW_MINUTES", 15),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	if cfg.Auth.BcryptCost < minBcryptCost {
		cfg.Auth.BcryptCost = minBcryptCost
	}
	if err := cfg.Recovery.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the recovery key settings.
func (r RecoveryConfig) Validate() error {
	if r.KeyLength <= 0 {
		return fmt.Errorf("invalid RECOVERY_KEY_LENGTH: %d", r.KeyLength)
	}
	if r.ValidityDays <= 0 {
		return fmt.Errorf("invalid RECOVERY_KEY_VALIDITY_DAYS: %d", r.ValidityDays)
	}
	if len(r.Alphabet) < 2 {
		return fmt.Errorf("RECOVERY_KEY_ALPHABET needs at least two characters")
	}
	for _, ch := range r.Alphabet {
		if !(ch >= 'A' && ch <= 'Z') && !(ch >= '0' && ch <= '9') {
			return fmt.Errorf("RECOVERY_KEY_ALPHABET may only contain uppercase letters and digits, got %q", ch)
		}
	}
	if strings.ContainsAny(r.Alphabet, "0OI1") {
		return fmt.Errorf("RECOVERY_KEY_ALPHABET must not contain 0, O, I or 1")
	}
	return nil
}

// Validity returns how long an issued recovery key stays redeemable.
func (r RecoveryConfig) Validity() time.Duration {
	if r.ValidityDays <= 0 {
		return DefaultRecoveryValidity
	}
	return time.Duration(r.ValidityDays) * 24 * time.Hour
}

// AttemptWindow returns the window over which redemption attempts are counted.
func (r RecoveryConfig) AttemptWindow() time.Duration {
	if r.AttemptWindowMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(r.AttemptWindowMinutes) * time.Minute
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

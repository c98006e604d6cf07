// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Reset-code delivery backends.
const (
	DeliveryLog    = "log"
	DeliveryKafka  = "kafka"
	DeliveryRedis  = "redis"
	DeliveryMemory = "memory"
)

// Config holds application configuration loaded from the environment.
// It is loaded once at startup and not mutated afterwards.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// ServiceName is reported in logs and OTel resources.
	ServiceName string `mapstructure:"SERVICE_NAME"`
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health listener. Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`

	// StoreDriver selects the credential store: "postgres" or "memory" (development only).
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	// DatabaseURL is the Postgres DSN. Required for the postgres driver.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DBTimeout bounds every store operation (e.g. "5s").
	DBTimeout string `mapstructure:"DB_TIMEOUT"`
	// DBConnectRetries is how many times startup retries the initial connection.
	DBConnectRetries int `mapstructure:"DB_CONNECT_RETRIES"`
	// AutoMigrate applies pending migrations at server startup.
	AutoMigrate bool `mapstructure:"AUTO_MIGRATE"`

	// JWTSecret selects HS256 signing. Takes precedence over the key pair when set.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "1h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`

	// PasswordHashAlgorithm is "bcrypt" or "argon2id".
	PasswordHashAlgorithm string `mapstructure:"PASSWORD_HASH_ALGORITHM"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost     int `mapstructure:"BCRYPT_COST"`
	Argon2Time     int `mapstructure:"ARGON2_TIME"`
	Argon2MemoryKB int `mapstructure:"ARGON2_MEMORY_KB"`
	Argon2Threads  int `mapstructure:"ARGON2_THREADS"`

	// ResetDelivery selects where reset-code delivery obligations go: log, kafka, redis or memory.
	ResetDelivery string `mapstructure:"RESET_DELIVERY"`
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	KafkaResetTopic string `mapstructure:"KAFKA_RESET_TOPIC"`
	// KafkaGroupID is the consumer group of cmd/worker.
	KafkaGroupID    string `mapstructure:"KAFKA_GROUP_ID"`
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisResetQueue string `mapstructure:"REDIS_RESET_QUEUE"`
	// OTPReturnToClient enables dev mode: reset codes are kept in memory and exposed at GET /dev/reset-code.
	// Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// LogFormat is "text" or "json".
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("SERVICE_NAME", "account-auth")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_TIMEOUT", "5s")
	v.SetDefault("DB_CONNECT_RETRIES", 5)
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "account-auth")
	v.SetDefault("JWT_AUDIENCE", "account-api")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("PASSWORD_HASH_ALGORITHM", "bcrypt")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("ARGON2_TIME", 1)
	v.SetDefault("ARGON2_MEMORY_KB", 64*1024)
	v.SetDefault("ARGON2_THREADS", 4)
	v.SetDefault("RESET_DELIVERY", DeliveryLog)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_RESET_TOPIC", "account-reset-codes")
	v.SetDefault("KAFKA_GROUP_ID", "account-reset-mailer")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_RESET_QUEUE", "account:reset-codes")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set for the postgres store")
		}
	case StoreDriverMemory:
		if c.IsProduction() {
			return errors.New("config: STORE_DRIVER=memory is not allowed when APP_ENV=production")
		}
	default:
		return errors.New("config: STORE_DRIVER must be postgres or memory")
	}
	if c.JWTSecret == "" && (c.JWTPrivateKey == "" || c.JWTPublicKey == "") {
		return errors.New("config: JWT_SECRET or JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return errors.New("config: JWT_SECRET must be at least 32 bytes")
	}
	if c.OTPReturnToClient && c.IsProduction() {
		return errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	switch strings.ToLower(c.PasswordHashAlgorithm) {
	case "bcrypt", "argon2id":
	default:
		return errors.New("config: PASSWORD_HASH_ALGORITHM must be bcrypt or argon2id")
	}
	if c.Argon2Threads < 1 || c.Argon2Threads > 255 || c.Argon2Time < 1 || c.Argon2MemoryKB < 8*c.Argon2Threads {
		return errors.New("config: invalid ARGON2_* parameters")
	}
	switch c.ResetDelivery {
	case DeliveryLog:
	case DeliveryMemory:
		if c.IsProduction() {
			return errors.New("config: RESET_DELIVERY=memory is not allowed when APP_ENV=production")
		}
	case DeliveryKafka:
		if len(c.KafkaBrokersList()) == 0 {
			return errors.New("config: KAFKA_BROKERS must be set for kafka delivery")
		}
	case DeliveryRedis:
		if c.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR must be set for redis delivery")
		}
	default:
		return errors.New("config: RESET_DELIVERY must be log, kafka, redis or memory")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("config: LOG_LEVEL must be debug, info, warn or error")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// DevResetCodes reports whether reset codes are kept for GET /dev/reset-code.
func (c *Config) DevResetCodes() bool {
	return c.OTPReturnToClient && !c.IsProduction()
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// StoreTimeout parses DBTimeout. Returns 5s if unset or invalid.
func (c *Config) StoreTimeout() time.Duration {
	d, err := time.ParseDuration(c.DBTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	TokenModeOpaque = "opaque"
	TokenModeJWT    = "jwt"

	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"

	MQBackendNone     = "none"
	MQBackendRabbitMQ = "rabbitmq"
	MQBackendPubSub   = "pubsub"
)

type Config struct {
	ServerPort int
	Database   DatabaseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	MQ         MQConfig
}

type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	UseSSL     bool
	SQLitePath string
}

type AuthConfig struct {
	// TokenMode selects between stored opaque tokens and stateless JWTs.
	TokenMode         string
	JWTSecret         string
	TokenTTL          time.Duration
	PasswordHasher    string
	MinPasswordLength int
	BcryptCost        int
}

type RateLimitConfig struct {
	TokenRequests int
	TokenWindow   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type MQConfig struct {
	Backend              string
	AccountEventsChannel string
	RabbitMQ             RabbitMQConfig
	PubSub               PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
}

type PubSubConfig struct {
	ProjectID       string
	CredentialsFile string
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Driver:     strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
		Host:       getEnv("DB_HOST", "localhost"),
		Port:       getEnvInt("DB_PORT", 5432),
		User:       getEnv("DB_USER", "accounts"),
		Password:   getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "accounts_db"),
		UseSSL:     getEnvBool("DB_USE_SSL", false),
		SQLitePath: getEnv("DB_SQLITE_PATH", "accounts.db"),
	}

	authConfig := AuthConfig{
		TokenMode:         strings.ToLower(getEnv("AUTH_TOKEN_MODE", TokenModeOpaque)),
		JWTSecret:         strings.TrimSpace(getEnv("JWT_SECRET", "")),
		TokenTTL:          getEnvDuration("AUTH_TOKEN_TTL", 0),
		PasswordHasher:    strings.ToLower(getEnv("AUTH_PASSWORD_HASHER", HasherBcrypt)),
		MinPasswordLength: getEnvInt("AUTH_MIN_PASSWORD_LENGTH", 5),
		BcryptCost:        getEnvInt("AUTH_BCRYPT_COST", 10),
	}

	mqConfig := MQConfig{
		Backend:              strings.ToLower(getEnv("MQ_BACKEND", MQBackendNone)),
		AccountEventsChannel: getEnv("MQ_ACCOUNT_EVENTS_CHANNEL", "account-events"),
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
		},
		PubSub: PubSubConfig{
			ProjectID:       getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile: getEnv("PUBSUB_CREDENTIALS_FILE", ""),
		},
	}

	return Config{
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		Database:   dbConfig,
		Auth:       authConfig,
		RateLimit: RateLimitConfig{
			TokenRequests: getEnvInt("RATELIMIT_TOKEN_REQUESTS", 10),
			TokenWindow:   getEnvDuration("RATELIMIT_TOKEN_WINDOW", time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		MQ: mqConfig,
	}
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres:
	case DriverSQLite:
		if strings.TrimSpace(c.Database.SQLitePath) == "" {
			errs = append(errs, errors.New("DB_SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}

	switch c.Auth.TokenMode {
	case TokenModeOpaque:
	case TokenModeJWT:
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required when AUTH_TOKEN_MODE=jwt"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_TOKEN_MODE %q", c.Auth.TokenMode))
	}

	switch c.Auth.PasswordHasher {
	case HasherBcrypt, HasherArgon2id:
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_PASSWORD_HASHER %q", c.Auth.PasswordHasher))
	}

	if c.Auth.MinPasswordLength < 1 {
		errs = append(errs, errors.New("AUTH_MIN_PASSWORD_LENGTH must be positive"))
	}

	switch c.MQ.Backend {
	case MQBackendNone, "":
	case MQBackendRabbitMQ:
		if strings.TrimSpace(c.MQ.RabbitMQ.URL) == "" {
			errs = append(errs, errors.New("RABBITMQ_URL is required when MQ_BACKEND=rabbitmq"))
		}
	case MQBackendPubSub:
		if strings.TrimSpace(c.MQ.PubSub.ProjectID) == "" {
			errs = append(errs, errors.New("PUBSUB_PROJECT_ID is required when MQ_BACKEND=pubsub"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MQ_BACKEND %q", c.MQ.Backend))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

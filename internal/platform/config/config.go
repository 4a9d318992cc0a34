package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process level configuration for the directory service and
// its CLI.
type Server struct {
	Addr string

	LogLevel  string
	LogFormat string
	// LogFile enables rotated file output in addition to stdout.
	LogFile string

	DatabaseURL string
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig

	ImportWorkers  int
	MaxUploadBytes int64
	// LazyPriming defers the phone index rebuild to the first write instead of startup.
	LazyPriming  bool
	WriteTimeout time.Duration
}

// DatabaseConfig tunes the Postgres connection pool.
type DatabaseConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the shared phone index and write lock. An empty URL
// keeps both in process.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
	LockTTL      time.Duration
}

// KafkaConfig configures the audit sink. No brokers means audit events stay in memory.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present; real
// environment variables win over it.
func FromEnv() Server {
	_ = godotenv.Load()

	return Server{
		Addr:      getEnv("ROLODEX_ADDR", ":8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogFile:   os.Getenv("LOG_FILE"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			KeyPrefix:    getEnv("REDIS_KEY_PREFIX", "rolodex:"),
			LockTTL:      getEnvAsDuration("REDIS_LOCK_TTL", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:  splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:    getEnv("KAFKA_AUDIT_TOPIC", "rolodex.audit"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "rolodex"),
		},

		ImportWorkers:  getEnvAsInt("IMPORT_WORKERS", 4),
		MaxUploadBytes: int64(getEnvAsInt("IMPORT_MAX_UPLOAD_BYTES", 10<<20)),
		LazyPriming:    getEnvAsBool("LAZY_PRIMING", false),
		WriteTimeout:   getEnvAsDuration("WRITE_TIMEOUT", 5*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"ROLODEX_ADDR", "DATABASE_URL", "REDIS_URL", "KAFKA_BROKERS", "IMPORT_WORKERS", "LAZY_PRIMING"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, "rolodex:", cfg.Redis.KeyPrefix)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 4, cfg.ImportWorkers)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.False(t, cfg.LazyPriming)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ROLODEX_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,,")
	t.Setenv("IMPORT_WORKERS", "8")
	t.Setenv("LAZY_PRIMING", "true")
	t.Setenv("WRITE_TIMEOUT", "250ms")
	t.Setenv("REDIS_POOL_SIZE", "not-a-number")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 8, cfg.ImportWorkers)
	assert.True(t, cfg.LazyPriming)
	assert.Equal(t, 250*time.Millisecond, cfg.WriteTimeout)
	assert.Equal(t, 10, cfg.Redis.PoolSize, "unparsable values fall back to defaults")
}

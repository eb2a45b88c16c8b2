package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PUSH_QUEUE_INTERVAL", "OUTBOX_MAX_ATTEMPTS", "KAFKA_BROKERS", "CHANGELOG_ACTOR", "ENVIRONMENT", "BUCKET_COUNT", "DB_MAX_OPEN_CONN"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, time.Minute, cfg.PushQueueInterval)
	assert.Equal(t, 1, cfg.OutboxMaxAttempts)
	assert.Equal(t, "experiment-broker@system", cfg.ChangelogActor)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 10000, cfg.BucketCount)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PUSH_QUEUE_INTERVAL", "30s")
	t.Setenv("LIVE_CHECK_INTERVAL", "120")
	t.Setenv("COMPLETE_CHECK_INTERVAL", "not-a-duration")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "3")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("MIGRATE_ON_START", "yes")
	t.Setenv("SNOWFLAKE_NODE_ID", "7")
	t.Setenv("BUCKET_COUNT", "2000")

	cfg := Load()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 30*time.Second, cfg.PushQueueInterval)
	assert.Equal(t, 2*time.Minute, cfg.LiveCheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.CompleteCheckInterval)
	assert.Equal(t, 3, cfg.OutboxMaxAttempts)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, int64(7), cfg.SnowflakeNodeID)
	assert.Equal(t, 2000, cfg.BucketCount)
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "db", DBPort: "5432", DBName: "experiments", DBSSLMode: "disable"}

	assert.Equal(t, "postgres://u:p@db:5432/experiments?sslmode=disable", cfg.DatabaseURL())
	assert.Contains(t, cfg.DSN(), "dbname=experiments")
}

func TestLoad_PoolFitsPushQueueLock(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONN", "1")
	assert.Equal(t, MinOpenConns, Load().DBMaxOpenConn)

	t.Setenv("DB_MAX_OPEN_CONN", "0")
	assert.Equal(t, 0, Load().DBMaxOpenConn)

	t.Setenv("DB_MAX_OPEN_CONN", "20")
	assert.Equal(t, 20, Load().DBMaxOpenConn)
}

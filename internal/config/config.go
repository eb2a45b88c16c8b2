package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinOpenConns is the smallest usable DB_MAX_OPEN_CONN. Zero means unlimited.
const MinOpenConns = 2

// Config holds application configuration.
type Config struct {
	AppName    string
	AppVersion string
	Port       string

	Environment   string
	AdminAPIToken string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	SnowflakeNodeID int64
	MigrateOnStart  bool

	// Author of changelog entries written by the broker.
	ChangelogActor string
	BucketTotal    int
	BucketCount    int

	PushQueueInterval     time.Duration
	LiveCheckInterval     time.Duration
	CompleteCheckInterval time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxStaleAfter   time.Duration

	// Changelog streaming is disabled when KafkaBrokers is empty.
	KafkaBrokers        []string
	KafkaChangelogTopic string
	KafkaPublishTimeout time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "experiment-broker"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Port:              getenv("PORT", "8080"),
		Environment:       getenv("ENVIRONMENT", "development"),
		AdminAPIToken:     strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),
		DBType:            getenv("DB_TYPE", "postgres"),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "experiments"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 60),

		SnowflakeNodeID: getenvInt64("SNOWFLAKE_NODE_ID", 1),
		MigrateOnStart:  getenvBool("MIGRATE_ON_START", false),

		ChangelogActor: strings.TrimSpace(getenv("CHANGELOG_ACTOR", "experiment-broker@system")),
		BucketTotal:    getenvInt("BUCKET_TOTAL", 10000),
		BucketCount:    getenvInt("BUCKET_COUNT", 10000),

		PushQueueInterval:     getenvDuration("PUSH_QUEUE_INTERVAL", time.Minute),
		LiveCheckInterval:     getenvDuration("LIVE_CHECK_INTERVAL", 5*time.Minute),
		CompleteCheckInterval: getenvDuration("COMPLETE_CHECK_INTERVAL", 5*time.Minute),

		OutboxPollInterval: getenvDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
		OutboxBatchSize:    getenvInt("OUTBOX_BATCH_SIZE", 5),
		OutboxMaxAttempts:  getenvInt("OUTBOX_MAX_ATTEMPTS", 1),
		OutboxStaleAfter:   getenvDuration("OUTBOX_STALE_AFTER", 10*time.Minute),

		KafkaBrokers:        parseList(getenv("KAFKA_BROKERS", "")),
		KafkaChangelogTopic: getenv("KAFKA_CHANGELOG_TOPIC", "experiment-changelog"),
		KafkaPublishTimeout: getenvDuration("KAFKA_PUBLISH_TIMEOUT", 2*time.Second),
	}

	// The push queue lock pins one connection while the drain queries on others.
	if cfg.DBMaxOpenConn > 0 && cfg.DBMaxOpenConn < MinOpenConns {
		cfg.DBMaxOpenConn = MinOpenConns
	}

	return &cfg
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DatabaseURL is the connection URL used by migrations.
func (c *Config) DatabaseURL() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=" + c.DBSSLMode
}

// DSN is the key/value connection string used by gorm.
func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("90s") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

package kintoclient

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Host is the API root including the version prefix, e.g. http://kinto:8888/v1.
	Host string
	User string
	Pass string

	WorkspaceBucket string
	MainBucket      string
	Collection      string

	Timeout time.Duration

	RetryCount int
	RetryDelay time.Duration

	// RateLimit is in requests per minute.
	RateLimit int
	RateBurst int

	CircuitBreakerEnabled bool
	CBFailureThreshold    int
	CBRecoveryTime        time.Duration
	CBMinRequests         int
	CBSamplingDuration    time.Duration
	CBHalfOpenMaxSuccess  int
}

func LoadFromEnv() Config {
	return Config{
		Host: strings.TrimRight(getString("KINTO_HOST", "http://localhost:8888/v1"), "/"),
		User: os.Getenv("KINTO_USER"),
		Pass: os.Getenv("KINTO_PASS"),

		WorkspaceBucket: getString("KINTO_BUCKET_WORKSPACE", "main-workspace"),
		MainBucket:      getString("KINTO_BUCKET_MAIN", "main"),
		Collection:      getString("KINTO_COLLECTION", "nimbus-desktop-experiments"),

		Timeout: time.Second * time.Duration(getInt("KINTO_CLIENT_TIMEOUT", 30)),

		RetryCount: getInt("KINTO_CLIENT_RETRY_COUNT", 3),
		RetryDelay: time.Second * time.Duration(getInt("KINTO_CLIENT_RETRY_DELAY", 2)),

		RateLimit: getInt("KINTO_CLIENT_RATE_LIMIT", 600),
		RateBurst: getInt("KINTO_CLIENT_RATE_BURST", 10),

		CircuitBreakerEnabled: getBool("KINTO_CLIENT_ENABLE_CIRCUIT_BREAKER", true),
		CBFailureThreshold:    getInt("KINTO_CLIENT_CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
		CBRecoveryTime:        time.Second * time.Duration(getInt("KINTO_CLIENT_CIRCUIT_BREAKER_RECOVERY_TIME", 60)),
		CBMinRequests:         getInt("KINTO_CLIENT_CIRCUIT_BREAKER_MIN_REQUESTS", 10),
		CBSamplingDuration:    time.Second * time.Duration(getInt("KINTO_CLIENT_CIRCUIT_BREAKER_SAMPLING_DURATION", 60)),
		CBHalfOpenMaxSuccess:  getInt("KINTO_CLIENT_CIRCUIT_BREAKER_HALF_OPEN_MAX_SUCCESS", 3),
	}
}

func getString(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		return v == "true"
	}
	return def
}

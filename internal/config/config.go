package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	// NodeID distinguishes instances for snowflake ID generation.
	NodeID int64

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

	RedisAddr     string
	RedisPassword string

	// CredentialSecret derives the AES key protecting stored Daraja
	// credentials and sensitive audit payloads.
	CredentialSecret string

	Daraja DarajaConfig

	RateLimit RateLimitConfig

	Scheduler SchedulerConfig
}

// DarajaConfig holds the M-Pesa Daraja endpoints and callback settings.
type DarajaConfig struct {
	SandboxBaseURL    string
	ProductionBaseURL string

	// CallbackURL is the webhook URL registered with Daraja per push. A
	// {tenant_id} placeholder is rendered with the initiating tenant;
	// without one the tenant is appended as the final path segment.
	CallbackURL string
	TokenTimeout      time.Duration
	PushTimeout       time.Duration
}

// RateLimitConfig holds the abuse-detector window and scoring weights.
type RateLimitConfig struct {
	Window            time.Duration
	RapidWindow       time.Duration
	RapidMaxAttempts  int
	FailedFree        int
	FailedWeight      int
	PhoneReuseMax     int
	PhoneReuseWeight  int
	IPReuseMax        int
	IPReuseWeight     int
	RapidWeight       int
	BlockThreshold    int
	BlockDuration     time.Duration
	RetentionDuration time.Duration
}

type SchedulerConfig struct {
	RunInterval    time.Duration
	SentTimeout    time.Duration
	SweepBatchSize int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "baridi"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		NodeID:      int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "baridi"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		CredentialSecret: strings.TrimSpace(getenv("CREDENTIAL_SECRET", "")),

		Daraja: DarajaConfig{
			SandboxBaseURL:    getenv("DARAJA_SANDBOX_URL", "https://sandbox.safaricom.co.ke"),
			ProductionBaseURL: getenv("DARAJA_PRODUCTION_URL", "https://api.safaricom.co.ke"),
			CallbackURL:       getenv("DARAJA_CALLBACK_URL", ""),
			TokenTimeout:      getenvDuration("DARAJA_TOKEN_TIMEOUT", 10*time.Second),
			PushTimeout:       getenvDuration("DARAJA_PUSH_TIMEOUT", 15*time.Second),
		},

		RateLimit: RateLimitConfig{
			Window:            getenvDuration("RATELIMIT_WINDOW", 30*time.Minute),
			RapidWindow:       getenvDuration("RATELIMIT_RAPID_WINDOW", 5*time.Minute),
			RapidMaxAttempts:  getenvInt("RATELIMIT_RAPID_MAX", 5),
			FailedFree:        getenvInt("RATELIMIT_FAILED_FREE", 2),
			FailedWeight:      getenvInt("RATELIMIT_FAILED_WEIGHT", 15),
			PhoneReuseMax:     getenvInt("RATELIMIT_PHONE_REUSE_MAX", 3),
			PhoneReuseWeight:  getenvInt("RATELIMIT_PHONE_REUSE_WEIGHT", 20),
			IPReuseMax:        getenvInt("RATELIMIT_IP_REUSE_MAX", 3),
			IPReuseWeight:     getenvInt("RATELIMIT_IP_REUSE_WEIGHT", 15),
			RapidWeight:       getenvInt("RATELIMIT_RAPID_WEIGHT", 25),
			BlockThreshold:    getenvInt("RATELIMIT_BLOCK_THRESHOLD", 50),
			BlockDuration:     getenvDuration("RATELIMIT_BLOCK_DURATION", 30*time.Minute),
			RetentionDuration: getenvDuration("RATELIMIT_RETENTION", 90*24*time.Hour),
		},

		Scheduler: SchedulerConfig{
			RunInterval:    getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			SentTimeout:    getenvDuration("SCHEDULER_SENT_TIMEOUT", 5*time.Minute),
			SweepBatchSize: getenvInt("SCHEDULER_SWEEP_BATCH_SIZE", 100),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

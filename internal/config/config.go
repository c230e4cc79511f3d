package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/geocoder89/barterhub/internal/db"
	"github.com/joho/godotenv"
)

type Config struct {
	Env        string
	Port       int
	DBURL      string
	DBMaxConns int

	// Store selects the persistence backend: "postgres" or "memory".
	Store string

	JWTSecret  string
	SessionTTL time.Duration
	CookieName string

	AllowedOrigins     []string
	RateLimitPerMinute int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	FeedCacheTTL  time.Duration

	UploadDir      string
	MaxUploadBytes int64

	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3PublicBaseURL string

	AdminEmail    string
	AdminPassword string
	AdminUsername string

	LogLevel string

	OTelEnabled       bool
	OTelEndpoint      string
	OTelSamplePercent int

	UserCacheSize int

	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerLockTTL      time.Duration

	// WorkerInProcess runs the job loop inside the API process, the only option for STORE=memory.
	WorkerInProcess  bool
	WorkerHealthPort int

	NotifierDelay time.Duration
	NotifierFail  bool
}

func Load() Config {
	// a missing .env is fine, real deployments use the process environment
	_ = godotenv.Load()

	return Config{
		Env:        getEnv("APP_ENV", "dev"),
		Port:       getEnvInt("PORT", 3000),
		DBURL:      buildDBURL(),
		DBMaxConns: getEnvInt("DB_MAX_CONNS", 10),
		Store:      getEnv("STORE", "postgres"),

		JWTSecret:  getEnv("JWT_SECRET", "dev-secret-change-me"),
		SessionTTL: time.Duration(getEnvInt("SESSION_TTL_HOURS", 240)) * time.Hour,
		CookieName: getEnv("COOKIE_NAME", "token"),

		AllowedOrigins:     splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		FeedCacheTTL:  time.Duration(getEnvInt("FEED_CACHE_TTL_SECONDS", 30)) * time.Second,

		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),

		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3AccessKey:     getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:     getEnv("S3_SECRET_KEY", ""),
		S3PublicBaseURL: getEnv("S3_PUBLIC_BASE_URL", ""),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		AdminUsername: getEnv("ADMIN_USERNAME", "Admin"),

		LogLevel: getEnv("LOG_LEVEL", ""),

		OTelEnabled:       getEnv("OTEL_ENABLED", "false") == "true",
		OTelEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSamplePercent: getEnvInt("OTEL_SAMPLE_PERCENT", 100),

		UserCacheSize: getEnvInt("USER_CACHE_SIZE", 1024),

		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerPollInterval: time.Duration(getEnvInt("WORKER_POLL_MS", 250)) * time.Millisecond,
		WorkerLockTTL:      time.Duration(getEnvInt("WORKER_LOCK_TTL_SECONDS", 30)) * time.Second,
		WorkerInProcess:    getEnv("WORKER_IN_PROCESS", "false") == "true",
		WorkerHealthPort:   getEnvInt("WORKER_HEALTH_PORT", 8081),

		NotifierDelay: time.Duration(getEnvInt("NOTIFIER_SLEEP_MS", 0)) * time.Millisecond,
		NotifierFail:  getEnv("NOTIFIER_FAIL", "false") == "true",
	}
}

func buildDBURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "barterhub")
	pass := getEnv("DB_PASSWORD", "barterhub")
	name := getEnv("DB_NAME", "barterhub")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

// UsesS3 reports whether uploaded images go to an S3-compatible bucket instead of UploadDir.
func (c Config) UsesS3() bool {
	return c.S3Bucket != ""
}

func (c Config) PoolOptions() db.PoolOptions {
	return db.PoolOptions{
		URL:             c.DBURL,
		MaxConns:        int32(c.DBMaxConns),
		MinConns:        1,
		MaxConnIdleTime: 5 * time.Minute,
	}
}

func (c Config) IsProd() bool {
	return c.Env == "prod"
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

// WithTimeoutFrom keeps request-scoped values (trace span, actor) on the derived context.
func WithTimeoutFrom(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %s=%q is not an integer, using %d\n", key, v, fallback)
			return fallback
		}

		return num
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

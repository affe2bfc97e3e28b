package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"storygate/internal/upstream"
)

type Config struct {
	Port     string
	LogLevel string

	UpstreamBaseURL  string
	UpstreamAPIKeys  []string
	ElevatedAPIKey   string
	EnableRealCalls  bool
	UpstreamTimeout  time.Duration
	Models           upstream.Models
	PollInterval     time.Duration
	MaxPolls         int
	VideoConcurrency int
	ClientQPS        int

	DatabaseURL     string
	RedisURL        string
	JWTSecret       string
	CORSOrigins     []string
	PublicBaseURLs  []string
	UploadDir       string
	ClientKeys      []string
	WebhookURLs     []string
	WebhookSecret   string
	OtelEndpoint    string
	OtelServiceName string
}

var ErrNoAPIKeys = errors.New("config: UPSTREAM_API_KEYS must list at least one credential")

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	cfg := Config{
		Port:     getEnv("PORT", "8000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", "https://open.bigmodel.cn/api/paas/v4/"),
		UpstreamAPIKeys: getEnvList("UPSTREAM_API_KEYS", nil),
		ElevatedAPIKey:  getEnv("UPSTREAM_ELEVATED_API_KEY", ""),
		EnableRealCalls: getEnvBool("ENABLE_REAL_CALLS", false),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 180*time.Second),
		Models: upstream.Models{
			Chat:   getEnv("MODEL_CHAT", upstream.DefaultChatModel),
			Image:  getEnv("MODEL_IMAGE", upstream.DefaultImageModel),
			Video:  getEnv("MODEL_VIDEO", upstream.DefaultVideoModel),
			Vision: getEnv("MODEL_VISION", upstream.DefaultVisionModel),
			Search: getEnv("MODEL_SEARCH", upstream.DefaultSearchModel),
		},
		PollInterval:     getEnvDuration("VIDEO_POLL_INTERVAL", 3*time.Second),
		MaxPolls:         getEnvInt("VIDEO_MAX_POLLS", 120),
		VideoConcurrency: getEnvInt("VIDEO_CONCURRENCY", 5),
		ClientQPS:        getEnvInt("CLIENT_QPS", 10),

		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		JWTSecret:       getEnv("JWT_SECRET", "change_me"),
		CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		PublicBaseURLs:  getEnvList("PUBLIC_BASE_URLS", []string{"http://localhost:8000/", "http://127.0.0.1:8000/"}),
		UploadDir:       getEnv("UPLOAD_DIR", "."),
		ClientKeys:      getEnvList("CLIENT_API_KEYS", nil),
		WebhookURLs:     getEnvList("WEBHOOK_URLS", nil),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
		OtelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OtelServiceName: getEnv("OTEL_SERVICE_NAME", "storygate"),
	}
	if len(cfg.UpstreamAPIKeys) == 0 {
		// Offline mode never sends a credential, so a placeholder keeps the pool valid.
		if cfg.EnableRealCalls {
			return cfg, ErrNoAPIKeys
		}
		cfg.UpstreamAPIKeys = []string{"offline"}
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return parsed
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

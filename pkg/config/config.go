// Package config loads gateway configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort string

	// Storage (MinIO / S3-compatible)
	MinioEndpoint string
	MinioUser     string
	MinioPass     string
	MinioBucket   string
	MinioSecure   bool
	EnableRedirectDownload bool

	// Upload coordination / local compute backend
	RedisAddr string
	RedisDB   int

	// Tokens
	JWTSecret          string
	TokenDefaultScopes []string
	TokenDefaultTTL    time.Duration

	// Delegated OAuth provider
	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthUserInfoURL  string
	OAuthRedirectURL  string
	OAuthCallbackPath string

	// Scope elevation (optional)
	ElevationPolicyPath string

	// Compute backend selection
	ComputeDriver  string // "local" or "batch"
	AWSRegion      string
	BatchJobQueue  string
	BatchJobDef    string
	LogGroupPrefix string

	// Webhooks
	WebhookURL string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		ServerPort: getEnv("SERVER_PORT", ":8080"),

		MinioEndpoint: getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioUser:     getEnv("MINIO_ROOT_USER", "minioadmin"),
		MinioPass:     getEnv("MINIO_ROOT_PASSWORD", "minioadmin"),
		MinioBucket:   getEnv("S3_BUCKET", "aquila-assets"),
		MinioSecure:   getEnv("MINIO_SECURE", "false") == "true",
		EnableRedirectDownload: getEnv("ENABLE_REDIRECT_DOWNLOAD", "true") == "true",

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		JWTSecret:          getEnv("JWT_SECRET", "dev-secret-key-change-me"),
		TokenDefaultScopes: []string{"read"},
		TokenDefaultTTL:    time.Duration(getEnvInt("TOKEN_DEFAULT_TTL_SECONDS", 31_536_000)) * time.Second,

		OAuthClientID:     getEnv("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
		OAuthAuthURL:      getEnv("OAUTH_AUTH_URL", ""),
		OAuthTokenURL:     getEnv("OAUTH_TOKEN_URL", ""),
		OAuthUserInfoURL:  getEnv("OAUTH_USERINFO_URL", ""),
		OAuthRedirectURL:  getEnv("OAUTH_REDIRECT_URL", ""),
		OAuthCallbackPath: getEnv("OAUTH_CALLBACK_PATH", "/auth/callback"),

		ElevationPolicyPath: getEnv("ELEVATION_POLICY_PATH", ""),

		ComputeDriver:  getEnv("COMPUTE_DRIVER", "local"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		BatchJobQueue:  getEnv("BATCH_JOB_QUEUE", ""),
		BatchJobDef:    getEnv("BATCH_JOB_DEFINITION", ""),
		LogGroupPrefix: getEnv("BATCH_LOG_GROUP_PREFIX", "/aws/batch/job"),

		WebhookURL: getEnv("WEBHOOK_URL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

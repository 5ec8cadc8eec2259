package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/restoreassist/pkg/observability"
	"github.com/platinummonkey/restoreassist/pkg/storage"
)

// Default Google scopes requested for Drive integrations
var DefaultGoogleScopes = []string{
	"https://www.googleapis.com/auth/drive.file",
	"https://www.googleapis.com/auth/userinfo.email",
	"openid",
}

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	OAuth         OAuthConfig
	Security      SecurityConfig
	Files         FilesConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Jobs          JobsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	CORSAllowedOrigins []string
}

// OAuthConfig holds the Google OAuth client settings
type OAuthConfig struct {
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	Scopes        []string
	StateTTL      time.Duration
	RefreshBuffer time.Duration
	RevokeURL     string
	VerifyIDToken bool

	// ReturnURLHosts are the hosts an absolute post-connect return URL may
	// point at. Relative return paths are always allowed.
	ReturnURLHosts []string
}

// SecurityConfig holds token encryption, RBAC, invitation and API key settings
type SecurityConfig struct {
	TokenEncryptionKey string

	RBACCacheTTL  time.Duration
	RBACCacheSize int

	InvitationTTL      time.Duration
	APIKeyLogRetention time.Duration
}

// FilesConfig holds file operation settings
type FilesConfig struct {
	MetadataCacheTTL  time.Duration
	MetadataCacheSize int
	DownloadCacheTTL  time.Duration
	FolderPolicyPath  string
	MaxUploadBytes    int64
	MaxDownloadBytes  int64

	// DownloadCacheMaxBytes is the total size the cleanup jobs trim the
	// download cache to. Zero disables the budget.
	DownloadCacheMaxBytes int64
}

// RateLimitConfig holds the per-key request limit
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// JobsConfig holds housekeeping settings
type JobsConfig struct {
	CleanupSchedule string
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory is loaded first when present; variables already set
// in the environment take precedence over it.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Load reads configuration from the environment without validating it
func Load() *Config {
	return &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		OAuth:         loadOAuthConfig(),
		Security:      loadSecurityConfig(),
		Files:         loadFilesConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
		Jobs: JobsConfig{
			CleanupSchedule: getEnv("CLEANUP_SCHEDULE", "@hourly"),
		},
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:               getEnv("SERVER_HOST", "0.0.0.0"),
		Port:               getEnv("SERVER_PORT", "8080"),
		ReadTimeout:        getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:        getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:    getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:         getEnv("SERVER_HEALTH_PORT", "9090"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	cfg.PostgresURL = getEnv("DATABASE_URL", "")
	if maxConns := getEnvInt("DATABASE_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("DATABASE_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("DATABASE_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	if redisDB := getEnvInt("REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if poolSize := getEnvInt("REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}

	// S3 config
	cfg.S3Endpoint = getEnv("S3_ENDPOINT", "")
	cfg.S3Region = getEnv("S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("S3_BUCKET", "")
	cfg.S3Prefix = getEnv("S3_PREFIX", cfg.S3Prefix)
	cfg.S3AccessKey = getEnv("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", false)

	return cfg
}

func loadOAuthConfig() OAuthConfig {
	return OAuthConfig{
		ClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		ClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		RedirectURI:   getEnv("GOOGLE_REDIRECT_URI", ""),
		Scopes:        getEnvList("GOOGLE_DRIVE_SCOPES", DefaultGoogleScopes),
		StateTTL:      getEnvDuration("OAUTH_STATE_TTL", 10*time.Minute),
		RefreshBuffer: getEnvDuration("OAUTH_REFRESH_BUFFER", 5*time.Minute),
		RevokeURL:     getEnv("GOOGLE_REVOKE_URL", "https://oauth2.googleapis.com/revoke"),
		VerifyIDToken: getEnvBool("OAUTH_VERIFY_ID_TOKEN", true),

		ReturnURLHosts: getEnvList("OAUTH_RETURN_URL_HOSTS", nil),
	}
}

func loadSecurityConfig() SecurityConfig {
	return SecurityConfig{
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		RBACCacheTTL:       getEnvDuration("RBAC_CACHE_TTL", 5*time.Minute),
		RBACCacheSize:      getEnvInt("RBAC_CACHE_SIZE", 10000),
		InvitationTTL:      getEnvDuration("ORG_INVITATION_TTL", 7*24*time.Hour),
		APIKeyLogRetention: getEnvDuration("API_KEY_LOG_RETENTION", 90*24*time.Hour),
	}
}

func loadFilesConfig() FilesConfig {
	return FilesConfig{
		MetadataCacheTTL:  getEnvDuration("FILES_METADATA_CACHE_TTL", 5*time.Minute),
		MetadataCacheSize: getEnvInt("FILES_METADATA_CACHE_SIZE", 5000),
		DownloadCacheTTL:  getEnvDuration("FILES_DOWNLOAD_CACHE_TTL", time.Hour),
		FolderPolicyPath:  getEnv("FILES_FOLDER_POLICY_PATH", ""),
		MaxUploadBytes:    getEnvInt64("FILES_MAX_UPLOAD_BYTES", 100<<20),
		MaxDownloadBytes:  getEnvInt64("FILES_MAX_DOWNLOAD_BYTES", 100<<20),

		DownloadCacheMaxBytes: getEnvInt64("FILES_DOWNLOAD_CACHE_MAX_BYTES", 1<<30),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests: getEnvInt("RATE_LIMIT_REQUESTS", 600),
		Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "restoreassist"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if err := ValidateEncryptionKey(c.Security.TokenEncryptionKey); err != nil {
		return err
	}

	if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	}
	if c.OAuth.RedirectURI == "" {
		return fmt.Errorf("GOOGLE_REDIRECT_URI is required")
	}
	if len(c.OAuth.Scopes) == 0 {
		return fmt.Errorf("at least one OAuth scope is required")
	}
	if c.OAuth.StateTTL <= 0 {
		return fmt.Errorf("OAUTH_STATE_TTL must be positive")
	}

	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ValidateEncryptionKey checks that key is 64 hex characters (32 bytes)
func ValidateEncryptionKey(key string) error {
	if key == "" {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}
	if len(key) != 64 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be 64 hex characters, got %d", len(key))
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

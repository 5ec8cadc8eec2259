// Package storage holds connection settings shared by the storage backends:
// PostgreSQL for relational data, Redis for short-lived state and rate
// limits, and S3-compatible object storage for the download cache.
package storage

import "time"

// Config for storage backends
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration

	// Redis config. Redis is optional; an empty URL selects in-memory fallbacks.
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// S3 config. An empty bucket disables the download cache.
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3Prefix       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: 30 * time.Minute,
		PostgresMaxIdleTime: 5 * time.Minute,
		RedisDB:             -1,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		S3Region:            "us-east-1",
		S3Prefix:            "download-cache/",
	}
}

// RedisEnabled reports whether a Redis URL is configured
func (c Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// S3Enabled reports whether an S3 bucket is configured
func (c Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

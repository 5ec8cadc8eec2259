// Package config loads and validates application configuration from
// environment variables.
//
// A .env file in the working directory is read first when present, so local
// development can keep secrets out of the shell. Real environment variables
// always win over the file.
//
// # Required settings
//
//	DATABASE_URL="postgres://localhost/restoreassist?sslmode=disable"
//	TOKEN_ENCRYPTION_KEY="<64 hex chars, see `restoreassist keygen`>"
//	GOOGLE_CLIENT_ID="..."
//	GOOGLE_CLIENT_SECRET="..."
//	GOOGLE_REDIRECT_URI="https://app.example.com/api/v1/integrations/google-drive/callback"
//
// # Optional settings
//
//	REDIS_URL="redis://localhost:6379"      # state store and rate limiter
//	S3_BUCKET="restoreassist-cache"         # download cache
//	FILES_FOLDER_POLICY_PATH="policy.yaml"  # allowed Drive folders
//	FILES_DOWNLOAD_CACHE_MAX_BYTES="1073741824"  # download cache budget, 0 for none
//	LOG_LEVEL="info"                        # debug, info, warn, error
//	OTEL_ENABLED="true"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/restoreassist/pkg/audit"
	"github.com/platinummonkey/restoreassist/pkg/auth"
	"github.com/platinummonkey/restoreassist/pkg/config"
	"github.com/platinummonkey/restoreassist/pkg/files"
	"github.com/platinummonkey/restoreassist/pkg/integrations"
	"github.com/platinummonkey/restoreassist/pkg/jobs"
	"github.com/platinummonkey/restoreassist/pkg/middleware"
	"github.com/platinummonkey/restoreassist/pkg/observability"
	"github.com/platinummonkey/restoreassist/pkg/orgs"
	"github.com/platinummonkey/restoreassist/pkg/rbac"
	"github.com/platinummonkey/restoreassist/pkg/server"
	"github.com/platinummonkey/restoreassist/pkg/storage/postgres"
	"github.com/platinummonkey/restoreassist/pkg/tokencrypt"
)

// backends are the storage connections shared by every command
type backends struct {
	db      *sql.DB
	redis   *redis.Client
	objects *postgres.S3Client
}

// openBackends connects to PostgreSQL, and to Redis and S3 when configured
func openBackends(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*backends, error) {
	db, err := postgres.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	b := &backends{db: db}

	if cfg.Storage.RedisEnabled() {
		if b.redis, err = postgres.NewRedisClient(ctx, cfg.Storage); err != nil {
			b.close()
			return nil, err
		}
		logger.Info("Redis connected")
	} else {
		logger.Warn("REDIS_URL not set, OAuth state and rate limits are kept in process memory")
	}

	if cfg.Storage.S3Enabled() {
		if b.objects, err = postgres.NewS3Client(ctx, cfg.Storage); err != nil {
			b.close()
			return nil, err
		}
		logger.WithField("bucket", cfg.Storage.S3Bucket).Info("download cache enabled")
	}

	return b, nil
}

func (b *backends) close() error {
	var firstErr error
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// app holds the constructed services for serve
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	backends *backends
	registry *prometheus.Registry
	metrics  *observability.Metrics

	orgs         *orgs.PostgresService
	apiKeys      *auth.APIKeyService
	integrations *integrations.Service
	files        *files.Service
	policy       *files.FolderPolicy
	cache        *files.DownloadCache

	server *server.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger, b *backends) (*app, error) {
	a := &app{cfg: cfg, logger: logger, backends: b}

	if cfg.Observability.MetricsEnabled {
		a.registry = observability.NewRegistry()
		a.metrics = observability.NewMetrics(a.registry)
	}

	dbAudit, err := audit.NewDBLogger(b.db)
	if err != nil {
		return nil, err
	}
	auditLogger := audit.NewMultiLogger(dbAudit, audit.NewStructuredLogger(logger))

	roles := rbac.NewStore(b.db)
	checker := rbac.NewPermissionChecker(roles, cfg.Security.RBACCacheSize, cfg.Security.RBACCacheTTL,
		rbac.WithMetrics(a.metrics))

	a.orgs = orgs.NewPostgresService(b.db,
		orgs.WithInvalidator(checker),
		orgs.WithRoleValidator(roles),
		orgs.WithAuditLogger(auditLogger),
		orgs.WithInvitationTTL(cfg.Security.InvitationTTL),
	)
	a.apiKeys = auth.NewAPIKeyService(b.db,
		auth.WithAuditLogger(auditLogger),
		auth.WithMetrics(a.metrics),
	)

	encryptor, err := tokencrypt.NewEncryptorFromHex(cfg.Security.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_ENCRYPTION_KEY: %w", err)
	}

	providerCfg := integrations.GoogleDriveConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURI,
		Scopes:       cfg.OAuth.Scopes,
		RevokeURL:    cfg.OAuth.RevokeURL,
	}
	if cfg.OAuth.VerifyIDToken {
		verifier, err := integrations.NewGoogleIDTokenVerifier(ctx, cfg.OAuth.ClientID)
		if err != nil {
			return nil, err
		}
		providerCfg.Verifier = verifier
	}
	provider, err := integrations.NewGoogleDriveProvider(providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure Google Drive provider: %w", err)
	}

	var states integrations.StateStore
	var limiter middleware.Limiter
	limitCfg := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.Requests,
		WindowDuration:    cfg.RateLimit.Window,
	}
	if b.redis != nil {
		states = integrations.NewRedisStateStore(b.redis, "")
		limiter = middleware.NewRedisRateLimiter(b.redis, limitCfg, "")
	} else {
		states = integrations.NewMemoryStateStore(0, cfg.OAuth.StateTTL)
		limiter = middleware.NewMemoryRateLimiter(limitCfg, 0)
	}

	a.integrations = integrations.NewService(
		integrations.NewPostgresStore(b.db), states, provider, encryptor, a.orgs,
		integrations.WithAuditLogger(auditLogger),
		integrations.WithMetrics(a.metrics),
		integrations.WithStateTTL(cfg.OAuth.StateTTL),
		integrations.WithRefreshBuffer(cfg.OAuth.RefreshBuffer),
		integrations.WithReturnURLHosts(cfg.OAuth.ReturnURLHosts),
	)

	if a.policy, err = files.LoadFolderPolicy(cfg.Files.FolderPolicyPath); err != nil {
		return nil, err
	}

	fileOpts := []files.Option{
		files.WithMetadataCache(cfg.Files.MetadataCacheSize, cfg.Files.MetadataCacheTTL),
		files.WithFolderPolicy(a.policy),
		files.WithAuditLogger(auditLogger),
		files.WithMetrics(a.metrics),
		files.WithMaxUploadBytes(cfg.Files.MaxUploadBytes),
		files.WithMaxDownloadBytes(cfg.Files.MaxDownloadBytes),
	}
	if b.objects != nil {
		a.cache = newDownloadCache(cfg, b)
		fileOpts = append(fileOpts, files.WithDownloadCache(a.cache))
	}
	a.files = files.NewService(a.integrations, files.NewDriveFactory(provider), files.NewPostgresStore(b.db), fileOpts...)

	a.server = server.New(server.Dependencies{
		Config:         cfg.Server,
		Logger:         logger,
		Metrics:        a.metrics,
		Keys:           a.apiKeys,
		Limiter:        limiter,
		Orgs:           a.orgs,
		Roles:          roles,
		Permissions:    checker,
		APIKeys:        a.apiKeys,
		Integrations:   a.integrations,
		Files:          a.files,
		Audit:          auditLogger,
		AuditEvents:    dbAudit,
		MaxUploadBytes: cfg.Files.MaxUploadBytes,
	})

	return a, nil
}

// housekeeping returns the cleanup jobs for the configured backends
func housekeeping(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, b *backends) *jobs.Runner {
	list := []jobs.Job{
		jobs.InvitationCleanup(orgs.NewPostgresService(b.db)),
		jobs.UsageLogCleanup(auth.NewAPIKeyService(b.db), cfg.Security.APIKeyLogRetention),
	}
	if b.objects != nil {
		list = append(list,
			jobs.DownloadCacheCleanup(b.objects, cfg.Storage.S3Prefix, cfg.Files.DownloadCacheTTL, nil),
			jobs.DownloadCacheBudget(newDownloadCache(cfg, b), cfg.Files.DownloadCacheMaxBytes),
		)
	}
	return jobs.NewRunner(logger, metrics, list...)
}

func newDownloadCache(cfg *config.Config, b *backends) *files.DownloadCache {
	return files.NewDownloadCache(b.objects, cfg.Storage.S3Prefix, cfg.Files.DownloadCacheTTL, cfg.Files.DownloadCacheMaxBytes)
}

func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName).
		WithField("version", version)
}

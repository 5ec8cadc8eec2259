package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/audit"
	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
	"github.com/platinummonkey/restoreassist/pkg/integrations"
	"github.com/platinummonkey/restoreassist/pkg/observability"
)

// Defaults for the metadata cache and sync log listing
const (
	DefaultMetadataCacheTTL  = 5 * time.Minute
	DefaultMetadataCacheSize = 5000
	DefaultSyncLogLimit      = 50
	MaxSyncLogLimit          = 500
	DefaultMaxDownloadBytes  = 100 << 20
)

const defaultMimeType = "application/octet-stream"

// IntegrationService hands out authenticated clients for integrations.
// *integrations.Service implements it.
type IntegrationService interface {
	GetForOrganization(ctx context.Context, orgID, id uuid.UUID) (*integrations.Integration, error)
	GetAuthenticatedClient(ctx context.Context, id uuid.UUID) (*integrations.AuthenticatedClient, error)
	Quota(ctx context.Context, id uuid.UUID) (*integrations.StorageQuota, error)
}

// Service runs file operations against connected storage accounts
type Service struct {
	integrations IntegrationService
	remotes      RemoteFactory
	store        Store
	policy       *FolderPolicy
	downloads    *DownloadCache
	metadata     *expirable.LRU[string, *File]
	audit        audit.Logger
	metrics      *observability.Metrics
	maxUpload    int64
	maxDownload  int64
	now          func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithDownloadCache enables the object storage download cache
func WithDownloadCache(cache *DownloadCache) Option {
	return func(s *Service) {
		s.downloads = cache
	}
}

// WithMetadataCache sizes the metadata cache. A ttl <= 0 disables it.
func WithMetadataCache(size int, ttl time.Duration) Option {
	return func(s *Service) {
		if ttl <= 0 {
			s.metadata = nil
			return
		}
		if size <= 0 {
			size = DefaultMetadataCacheSize
		}
		s.metadata = expirable.NewLRU[string, *File](size, nil, ttl)
	}
}

// WithFolderPolicy restricts which folders organizations may use
func WithFolderPolicy(policy *FolderPolicy) Option {
	return func(s *Service) {
		if policy != nil {
			s.policy = policy
		}
	}
}

// WithAuditLogger records uploads and shares
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.audit = logger
		}
	}
}

// WithMetrics records operation outcomes, bytes and cache hits
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithMaxUploadBytes rejects uploads with a larger declared size
func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) {
		s.maxUpload = n
	}
}

// WithMaxDownloadBytes caps how much file content is read from the
// provider. n <= 0 removes the cap.
func WithMaxDownloadBytes(n int64) Option {
	return func(s *Service) {
		s.maxDownload = n
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a file service
func NewService(integrationSvc IntegrationService, remotes RemoteFactory, store Store, opts ...Option) *Service {
	unrestricted, _ := NewFolderPolicy(PolicyDocument{})
	s := &Service{
		integrations: integrationSvc,
		remotes:      remotes,
		store:        store,
		policy:       unrestricted,
		metadata:     expirable.NewLRU[string, *File](DefaultMetadataCacheSize, nil, DefaultMetadataCacheTTL),
		audit:        audit.NoOpLogger{},
		maxDownload:  DefaultMaxDownloadBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveIntegration returns the integration if it belongs to orgID
func (s *Service) ResolveIntegration(ctx context.Context, orgID, integrationID uuid.UUID) (*integrations.Integration, error) {
	return s.integrations.GetForOrganization(ctx, orgID, integrationID)
}

func (s *Service) open(ctx context.Context, client *integrations.AuthenticatedClient) (RemoteDrive, error) {
	remote, err := s.remotes(ctx, client.HTTPClient)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return remote, nil
}

func (s *Service) connect(ctx context.Context, integrationID uuid.UUID) (*integrations.AuthenticatedClient, RemoteDrive, error) {
	client, err := s.integrations.GetAuthenticatedClient(ctx, integrationID)
	if err != nil {
		return nil, nil, err
	}
	remote, err := s.open(ctx, client)
	if err != nil {
		return nil, nil, err
	}
	return client, remote, nil
}

// List returns a page of non-trashed files
func (s *Service) List(ctx context.Context, integrationID uuid.UUID, req ListRequest) (*ListResult, error) {
	start := s.now()
	client, remote, err := s.connect(ctx, integrationID)
	if err != nil {
		return nil, err
	}

	orgID := client.Integration.OrganizationID
	if req.FolderID != "" && !s.policy.AllowsFolder(orgID, req.FolderID) {
		return nil, apierrors.PermissionDenied("folder is not in the allowed folders")
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	result, err := remote.List(ctx, buildListQuery(req, s.policy.AllowedFolders(orgID)), pageSize, req.PageToken)
	if err != nil {
		s.metrics.RecordFileOperation("list", StatusFailure, s.now().Sub(start))
		return nil, apierrors.ProviderRequestFailed("list files", err)
	}
	s.metrics.RecordFileOperation("list", StatusSuccess, s.now().Sub(start))
	return result, nil
}

// GetMetadata returns a file's metadata, served from cache when fresh
func (s *Service) GetMetadata(ctx context.Context, integrationID uuid.UUID, fileID string) (*File, error) {
	client, err := s.integrations.GetAuthenticatedClient(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	return s.metadataFor(ctx, client, nil, fileID, false)
}

// metadataFor resolves metadata through the cache and enforces the folder
// policy on the result. remote is opened lazily when nil. fresh bypasses
// the cache lookup and refreshes the entry.
func (s *Service) metadataFor(ctx context.Context, client *integrations.AuthenticatedClient, remote RemoteDrive, fileID string, fresh bool) (*File, error) {
	integ := client.Integration
	key := integ.ID.String() + "/" + fileID

	var file *File
	hit := false
	if !fresh {
		file, hit = s.cached(key)
		s.metrics.RecordCache("file_metadata", hit)
	}
	if !hit {
		if remote == nil {
			var err error
			if remote, err = s.open(ctx, client); err != nil {
				return nil, err
			}
		}

		fetched, err := remote.Get(ctx, fileID)
		if err != nil {
			return nil, apierrors.ProviderRequestFailed("get file metadata", err)
		}
		file = fetched
		if s.metadata != nil {
			s.metadata.Add(key, file)
		}
		s.recordFile(ctx, integ, file)
	}

	if !s.policy.AllowsParents(integ.OrganizationID, file.Parents) {
		return nil, apierrors.PermissionDenied("file is not in the allowed folders")
	}
	return file, nil
}

func (s *Service) cached(key string) (*File, bool) {
	if s.metadata == nil {
		return nil, false
	}
	return s.metadata.Get(key)
}

func (s *Service) invalidate(integrationID uuid.UUID, fileID string) {
	if s.metadata != nil {
		s.metadata.Remove(integrationID.String() + "/" + fileID)
	}
}

// metadataKeys returns the metadata cache keys held for an integration
func (s *Service) metadataKeys(integrationID uuid.UUID) []string {
	if s.metadata == nil {
		return nil
	}
	prefix := integrationID.String() + "/"
	var keys []string
	for _, key := range s.metadata.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// CacheStats reports an integration's download cache usage and cached
// metadata entries
func (s *Service) CacheStats(ctx context.Context, integrationID uuid.UUID) (*CacheStats, error) {
	stats := &CacheStats{MetadataEntries: len(s.metadataKeys(integrationID))}
	if s.downloads == nil {
		return stats, nil
	}

	usage, err := s.downloads.Usage(ctx, integrationID)
	if err != nil {
		return nil, apierrors.Internal(fmt.Errorf("failed to read download cache: %w", err))
	}
	stats.DownloadCacheEnabled = true
	stats.Download = usage
	stats.MaxBytes = s.downloads.MaxBytes()
	stats.TTLSeconds = int64(s.downloads.TTL() / time.Second)
	return stats, nil
}

// ClearCache drops an integration's cached metadata and downloads and
// returns what was removed. Inactive integrations can be cleared too.
func (s *Service) ClearCache(ctx context.Context, orgID, integrationID uuid.UUID) (*CacheStats, error) {
	if _, err := s.integrations.GetForOrganization(ctx, orgID, integrationID); err != nil {
		return nil, err
	}

	var err error
	keys := s.metadataKeys(integrationID)
	for _, key := range keys {
		s.metadata.Remove(key)
	}
	removed := &CacheStats{MetadataEntries: len(keys)}

	if s.downloads != nil {
		removed.DownloadCacheEnabled = true
		removed.Download, err = s.downloads.Clear(ctx, integrationID)
		if err != nil {
			return nil, apierrors.Internal(fmt.Errorf("failed to clear download cache: %w", err))
		}
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"integration_id":   integrationID.String(),
		"objects":          removed.Download.Objects,
		"bytes":            removed.Download.Bytes,
		"metadata_entries": removed.MetadataEntries,
	}).Info("file caches cleared")

	audit.Record(ctx, s.audit, audit.NewEvent(orgID, contextkeys.GetUserID(ctx),
		audit.EventTypeFileCacheClear, audit.ResourceTypeIntegration, integrationID.String()).
		WithDetail("objects", removed.Download.Objects).
		WithDetail("bytes", removed.Download.Bytes))

	return removed, nil
}

// Download returns a file's content, using the download cache when enabled
func (s *Service) Download(ctx context.Context, integrationID uuid.UUID, fileID string) (*Download, error) {
	return s.download(ctx, integrationID, fileID, true)
}

// DownloadUncached always fetches from the provider. The result still
// refreshes the download cache.
func (s *Service) DownloadUncached(ctx context.Context, integrationID uuid.UUID, fileID string) (*Download, error) {
	return s.download(ctx, integrationID, fileID, false)
}

func (s *Service) download(ctx context.Context, integrationID uuid.UUID, fileID string, useCache bool) (*Download, error) {
	start := s.now()
	client, remote, err := s.connect(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	integ := client.Integration
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"integration_id": integ.ID.String(),
		"file_id":        fileID,
	})

	// The cache key carries the modification time, so it must come from
	// the provider rather than the metadata cache.
	file, err := s.metadataFor(ctx, client, remote, fileID, true)
	if err != nil {
		return nil, err
	}
	if s.maxDownload > 0 && file.Size > s.maxDownload {
		s.metrics.RecordFileOperation(OperationDownload, StatusFailure, s.now().Sub(start))
		return nil, s.tooLarge()
	}

	var cacheKey string
	if s.downloads != nil {
		cacheKey = s.downloads.Key(integ.ID, file.ID, file.ModifiedTime)
		if useCache {
			data, ok, err := s.downloads.Get(ctx, cacheKey)
			if err != nil {
				logger.WithError(err).Warn("download cache read failed")
			}
			s.metrics.RecordCache("download", ok)
			if ok {
				s.metrics.RecordFileOperation(OperationDownload, StatusSuccess, s.now().Sub(start))
				s.logSync(ctx, integ, OperationDownload, file, int64(len(data)), nil)
				return &Download{File: file, Content: data, Cached: true}, nil
			}
		}
	}

	data, err := s.fetch(ctx, remote, fileID)
	if err != nil {
		s.metrics.RecordFileOperation(OperationDownload, StatusFailure, s.now().Sub(start))
		s.logSync(ctx, integ, OperationDownload, file, 0, err)
		if errors.Is(err, errTooLarge) {
			return nil, s.tooLarge()
		}
		return nil, apierrors.DownloadFailed(err)
	}

	if s.downloads != nil {
		if err := s.downloads.Put(ctx, cacheKey, data, file); err != nil {
			logger.WithError(err).Warn("download cache write failed")
		}
	}

	s.metrics.RecordFileBytes("download", int64(len(data)))
	s.metrics.RecordFileOperation(OperationDownload, StatusSuccess, s.now().Sub(start))
	s.logSync(ctx, integ, OperationDownload, file, int64(len(data)), nil)
	return &Download{File: file, Content: data}, nil
}

func (s *Service) fetch(ctx context.Context, remote RemoteDrive, fileID string) ([]byte, error) {
	body, err := remote.Download(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var r io.Reader = body
	if s.maxDownload > 0 {
		r = io.LimitReader(body, s.maxDownload+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}
	if s.maxDownload > 0 && int64(len(data)) > s.maxDownload {
		return nil, errTooLarge
	}
	return data, nil
}

var errTooLarge = errors.New("file content exceeds the maximum download size")

func (s *Service) tooLarge() error {
	return apierrors.BadRequest(fmt.Sprintf("file exceeds the maximum download size of %d bytes", s.maxDownload))
}

// Upload creates a file in an allowed folder. A known size is checked
// against the stored quota before any bytes are sent.
func (s *Service) Upload(ctx context.Context, orgID, integrationID uuid.UUID, req UploadRequest, content io.Reader) (*File, error) {
	start := s.now()
	if req.Name == "" {
		return nil, apierrors.BadRequest("name is required")
	}
	if req.MimeType == "" {
		req.MimeType = defaultMimeType
	}
	if s.maxUpload > 0 && req.Size > s.maxUpload {
		return nil, apierrors.BadRequest(fmt.Sprintf("file exceeds the maximum upload size of %d bytes", s.maxUpload))
	}

	client, err := s.integrations.GetAuthenticatedClient(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	integ := client.Integration
	if integ.OrganizationID != orgID {
		return nil, apierrors.NotFound("integration")
	}

	if s.policy.AllowedFolders(orgID) != nil && req.FolderID == "" {
		return nil, apierrors.PermissionDenied("a folder_id inside the allowed folders is required")
	}
	if req.FolderID != "" && !s.policy.AllowsFolder(orgID, req.FolderID) {
		return nil, apierrors.PermissionDenied("folder is not in the allowed folders")
	}

	quota := integrations.StorageQuota{Limit: integ.StorageQuotaLimit, Usage: integ.StorageQuotaUsage}
	if req.Size >= 0 && !quota.Allows(req.Size) {
		s.metrics.RecordFileOperation(OperationUpload, StatusFailure, s.now().Sub(start))
		return nil, apierrors.QuotaExceeded(quota.Usage, quota.Limit, req.Size)
	}

	remote, err := s.open(ctx, client)
	if err != nil {
		return nil, err
	}

	counter := &countingReader{r: content}
	file, err := remote.Upload(ctx, req, counter)
	if err != nil {
		s.metrics.RecordFileOperation(OperationUpload, StatusFailure, s.now().Sub(start))
		s.logSync(ctx, integ, OperationUpload, &File{Name: req.Name}, counter.n, err)
		return nil, apierrors.UploadFailed(err)
	}
	if file.Size == 0 {
		file.Size = counter.n
	}

	s.invalidate(integ.ID, file.ID)
	s.recordFile(ctx, integ, file)
	s.metrics.RecordFileBytes("upload", counter.n)
	s.metrics.RecordFileOperation(OperationUpload, StatusSuccess, s.now().Sub(start))
	s.logSync(ctx, integ, OperationUpload, file, counter.n, nil)

	audit.Record(ctx, s.audit, audit.NewEvent(orgID, contextkeys.GetUserID(ctx),
		audit.EventTypeFileUpload, audit.ResourceTypeFile, file.ID).
		WithDetail("integration_id", integ.ID.String()).
		WithDetail("name", file.Name).
		WithDetail("bytes", counter.n))

	return file, nil
}

// Share grants a user, group, domain or anyone access to a file
func (s *Service) Share(ctx context.Context, integrationID uuid.UUID, fileID string, req ShareRequest) (*Permission, error) {
	start := s.now()
	if err := validateShare(req); err != nil {
		return nil, err
	}

	client, remote, err := s.connect(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	integ := client.Integration

	file, err := s.metadataFor(ctx, client, remote, fileID, false)
	if err != nil {
		return nil, err
	}

	perm, err := remote.Share(ctx, fileID, req)
	if err != nil {
		s.metrics.RecordFileOperation(OperationShare, StatusFailure, s.now().Sub(start))
		s.logSync(ctx, integ, OperationShare, file, 0, err)
		return nil, apierrors.ProviderRequestFailed("share file", err)
	}

	s.metrics.RecordFileOperation(OperationShare, StatusSuccess, s.now().Sub(start))
	s.logSync(ctx, integ, OperationShare, file, 0, nil)

	event := audit.NewEvent(integ.OrganizationID, contextkeys.GetUserID(ctx),
		audit.EventTypeFileShare, audit.ResourceTypeFile, fileID).
		WithDetail("integration_id", integ.ID.String()).
		WithDetail("type", req.Type).
		WithDetail("role", req.Role)
	if req.EmailAddress != "" {
		event = event.WithDetail("email_address", req.EmailAddress)
	}
	audit.Record(ctx, s.audit, event)

	return perm, nil
}

func validateShare(req ShareRequest) error {
	if !validShareRoles[req.Role] {
		return apierrors.BadRequest("role must be one of reader, commenter, writer")
	}
	if !validShareTypes[req.Type] {
		return apierrors.BadRequest("type must be one of user, group, domain, anyone")
	}
	if (req.Type == "user" || req.Type == "group") && req.EmailAddress == "" {
		return apierrors.BadRequest("email_address is required for user and group shares")
	}
	if req.Type == "domain" && req.Domain == "" {
		return apierrors.BadRequest("domain is required for domain shares")
	}
	return nil
}

// Quota returns the live storage quota of the integration
func (s *Service) Quota(ctx context.Context, integrationID uuid.UUID) (*integrations.StorageQuota, error) {
	return s.integrations.Quota(ctx, integrationID)
}

// ListSyncLogs returns recent sync log entries, newest first
func (s *Service) ListSyncLogs(ctx context.Context, integrationID uuid.UUID, limit int) ([]*SyncLog, error) {
	if limit <= 0 {
		limit = DefaultSyncLogLimit
	}
	if limit > MaxSyncLogLimit {
		limit = MaxSyncLogLimit
	}
	logs, err := s.store.ListSyncLogs(ctx, integrationID, limit)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return logs, nil
}

// recordFile mirrors metadata into remote_files. Failures are logged only.
func (s *Service) recordFile(ctx context.Context, integ *integrations.Integration, file *File) {
	if err := s.store.UpsertFile(ctx, integ.OrganizationID, integ.ID, file, s.now().UTC()); err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("file_id", file.ID).
			Warn("failed to record remote file")
	}
}

// logSync appends a sync log entry. Failures are logged only.
func (s *Service) logSync(ctx context.Context, integ *integrations.Integration, operation string, file *File, n int64, opErr error) {
	entry := &SyncLog{
		OrganizationID: integ.OrganizationID,
		IntegrationID:  integ.ID,
		Operation:      operation,
		FileID:         file.ID,
		FileName:       file.Name,
		Status:         StatusSuccess,
		Bytes:          n,
		CreatedAt:      s.now().UTC(),
	}
	if opErr != nil {
		entry.Status = StatusFailure
		entry.ErrorMessage = opErr.Error()
	}
	if err := s.store.InsertSyncLog(ctx, entry); err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("operation", operation).
			Warn("failed to write sync log")
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

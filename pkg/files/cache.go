package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/restoreassist/pkg/storage/postgres"
)

// ObjectStore is the object storage used for the download cache.
// *postgres.S3Client implements it.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, *postgres.ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]postgres.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// DownloadCache keeps downloaded file content in object storage. Keys
// include the file's modification time, so an edited file never hits a
// stale entry. Objects are grouped by integration under the prefix.
type DownloadCache struct {
	objects  ObjectStore
	prefix   string
	ttl      time.Duration
	maxBytes int64
	now      func() time.Time
}

// NewDownloadCache creates a download cache under prefix. maxBytes is the
// budget Trim enforces; zero means unbounded.
func NewDownloadCache(objects ObjectStore, prefix string, ttl time.Duration, maxBytes int64) *DownloadCache {
	if prefix == "" {
		prefix = "download-cache/"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &DownloadCache{objects: objects, prefix: prefix, ttl: ttl, maxBytes: maxBytes, now: time.Now}
}

// Prefix returns the key prefix of cached objects
func (c *DownloadCache) Prefix() string {
	return c.prefix
}

// TTL returns how long cached objects are served
func (c *DownloadCache) TTL() time.Duration {
	return c.ttl
}

// MaxBytes returns the size budget, zero when unbounded
func (c *DownloadCache) MaxBytes() int64 {
	return c.maxBytes
}

// Key returns the object key for one version of a file
func (c *DownloadCache) Key(integrationID uuid.UUID, fileID string, modified time.Time) string {
	h := sha256.New()
	h.Write([]byte(fileID))
	h.Write([]byte{0})
	h.Write([]byte(modified.UTC().Format(time.RFC3339Nano)))
	return c.integrationPrefix(integrationID) + hex.EncodeToString(h.Sum(nil))
}

func (c *DownloadCache) integrationPrefix(integrationID uuid.UUID) string {
	return c.prefix + integrationID.String() + "/"
}

// Get returns cached content, or ok=false on a miss or an expired entry
func (c *DownloadCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, info, err := c.objects.Get(ctx, key)
	if errors.Is(err, postgres.ErrObjectNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer body.Close()

	if !info.LastModified.IsZero() && c.now().Sub(info.LastModified) >= c.ttl {
		return nil, false, nil
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Put stores content under key
func (c *DownloadCache) Put(ctx context.Context, key string, data []byte, file *File) error {
	return c.objects.Put(ctx, key, data, file.MimeType, map[string]string{
		"file-id":   file.ID,
		"file-name": file.Name,
	})
}

// CacheUsage summarizes stored objects
type CacheUsage struct {
	Objects int   `json:"objects"`
	Bytes   int64 `json:"bytes"`
}

func (u *CacheUsage) add(obj postgres.ObjectInfo) {
	u.Objects++
	u.Bytes += obj.Size
}

// Usage returns what one integration holds in the cache
func (c *DownloadCache) Usage(ctx context.Context, integrationID uuid.UUID) (CacheUsage, error) {
	var usage CacheUsage
	objects, err := c.objects.List(ctx, c.integrationPrefix(integrationID))
	if err != nil {
		return usage, err
	}
	for _, obj := range objects {
		usage.add(obj)
	}
	return usage, nil
}

// Clear deletes every cached object of one integration and returns what
// was removed. Objects deleted before a failure are still counted.
func (c *DownloadCache) Clear(ctx context.Context, integrationID uuid.UUID) (CacheUsage, error) {
	var removed CacheUsage
	objects, err := c.objects.List(ctx, c.integrationPrefix(integrationID))
	if err != nil {
		return removed, err
	}
	for _, obj := range objects {
		if err := c.objects.Delete(ctx, obj.Key); err != nil {
			return removed, err
		}
		removed.add(obj)
	}
	return removed, nil
}

// Trim evicts the least recently written objects until the whole cache
// fits in maxBytes, and returns how many were deleted. maxBytes <= 0
// falls back to the configured budget; with neither set nothing is
// evicted.
func (c *DownloadCache) Trim(ctx context.Context, maxBytes int64) (int64, error) {
	if maxBytes <= 0 {
		maxBytes = c.maxBytes
	}
	if maxBytes <= 0 {
		return 0, nil
	}

	objects, err := c.objects.List(ctx, c.prefix)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, obj := range objects {
		total += obj.Size
	}
	if total <= maxBytes {
		return 0, nil
	}

	slices.SortStableFunc(objects, func(a, b postgres.ObjectInfo) int {
		return a.LastModified.Compare(b.LastModified)
	})

	var removed int64
	for _, obj := range objects {
		if total <= maxBytes {
			break
		}
		if err := c.objects.Delete(ctx, obj.Key); err != nil {
			return removed, err
		}
		total -= obj.Size
		removed++
	}
	return removed, nil
}

package files

import (
	"time"

	"github.com/google/uuid"
)

// Page size bounds for List
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// File is remote file metadata
type File struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	Parents      []string  `json:"parents,omitempty"`
	WebViewLink  string    `json:"web_view_link,omitempty"`
	ModifiedTime time.Time `json:"modified_time"`
}

// ListRequest selects a page of files
type ListRequest struct {
	FolderID  string
	Query     string
	PageSize  int
	PageToken string
}

// ListResult is one page of files
type ListResult struct {
	Files         []*File `json:"files"`
	NextPageToken string  `json:"next_page_token,omitempty"`
}

// UploadRequest describes a file to create. Size is -1 when unknown.
type UploadRequest struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	FolderID string `json:"folder_id"`
	Size     int64  `json:"size"`
}

// Share roles and grantee types accepted by Share
var (
	validShareRoles = map[string]bool{"reader": true, "commenter": true, "writer": true}
	validShareTypes = map[string]bool{"user": true, "group": true, "domain": true, "anyone": true}
)

// ShareRequest grants access to a file
type ShareRequest struct {
	Type         string `json:"type"`
	Role         string `json:"role"`
	EmailAddress string `json:"email_address,omitempty"`
	Domain       string `json:"domain,omitempty"`
}

// Permission is a created sharing permission
type Permission struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Role         string `json:"role"`
	EmailAddress string `json:"email_address,omitempty"`
	Domain       string `json:"domain,omitempty"`
}

// Download is a file's metadata and content
type Download struct {
	File    *File
	Content []byte
	Cached  bool
}

// CacheStats describes what an integration holds in the file caches
type CacheStats struct {
	DownloadCacheEnabled bool       `json:"download_cache_enabled"`
	Download             CacheUsage `json:"download"`
	MaxBytes             int64      `json:"max_bytes,omitempty"`
	TTLSeconds           int64      `json:"ttl_seconds,omitempty"`
	MetadataEntries      int        `json:"metadata_entries"`
}

// Sync log operations and statuses
const (
	OperationUpload   = "upload"
	OperationDownload = "download"
	OperationShare    = "share"

	StatusSuccess = "success"
	StatusFailure = "failure"
)

// SyncLog records one file transfer or sharing change
type SyncLog struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	IntegrationID  uuid.UUID `json:"integration_id"`
	Operation      string    `json:"operation"`
	FileID         string    `json:"file_id,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	Status         string    `json:"status"`
	Bytes          int64     `json:"bytes"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

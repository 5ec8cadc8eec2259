package files

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/httputil"
)

// multipartMemory is how much of a multipart upload is buffered in memory
// before spilling to disk
const multipartMemory = 32 << 20

// Handlers provides HTTP handlers for file operations
type Handlers struct {
	service *Service
}

// NewHandlers creates new file handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// resolve parses {orgID} and {integrationID} and checks the integration
// belongs to the organization
func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	integrationID, ok := httputil.ParsePathUUIDOrError(w, r, "integrationID")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	if _, err := h.service.ResolveIntegration(r.Context(), orgID, integrationID); err != nil {
		httputil.WriteAPIError(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, integrationID, true
}

// List handles GET .../integrations/{integrationID}/files
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	_, integrationID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	pageSize, ok := httputil.ParseQueryIntOrError(w, r, "page_size", DefaultPageSize)
	if !ok {
		return
	}

	result, err := h.service.List(r.Context(), integrationID, ListRequest{
		FolderID:  httputil.ParseQueryString(r, "folder_id", ""),
		Query:     httputil.ParseQueryString(r, "q", ""),
		PageSize:  pageSize,
		PageToken: httputil.ParseQueryString(r, "page_token", ""),
	})
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// Get handles GET .../integrations/{integrationID}/files/{fileID}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	_, integrationID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathStringOrError(w, r, "fileID")
	if !ok {
		return
	}

	file, err := h.service.GetMetadata(r.Context(), integrationID, fileID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, file)
}

// Download handles GET .../integrations/{integrationID}/files/{fileID}/content.
// ?cache=false skips the download cache.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	_, integrationID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathStringOrError(w, r, "fileID")
	if !ok {
		return
	}

	download := h.service.Download
	if useCache, err := strconv.ParseBool(httputil.ParseQueryString(r, "cache", "true")); err == nil && !useCache {
		download = h.service.DownloadUncached
	}

	result, err := download(r.Context(), integrationID, fileID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	contentType := result.File.MimeType
	if contentType == "" {
		contentType = defaultMimeType
	}
	cacheStatus := "MISS"
	if result.Cached {
		cacheStatus = "HIT"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Content)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.File.Name}))
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Content)
}

// Upload handles POST .../integrations/{integrationID}/files. The body is
// either multipart/form-data with a "file" part, or the raw file content
// with name and folder_id in the query string.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	orgID, integrationID, ok := h.resolve(w, r)
	if !ok {
		return
	}

	req := UploadRequest{
		Name:     httputil.ParseQueryString(r, "name", ""),
		FolderID: httputil.ParseQueryString(r, "folder_id", ""),
		Size:     -1,
	}

	var content io.Reader
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			httputil.WriteBadRequest(w, fmt.Sprintf("invalid multipart body: %v", err))
			return
		}
		part, header, err := r.FormFile("file")
		if err != nil {
			httputil.WriteBadRequest(w, "multipart body must contain a file part")
			return
		}
		defer part.Close()

		content = part
		req.Size = header.Size
		req.MimeType = header.Header.Get("Content-Type")
		if req.Name == "" {
			req.Name = r.FormValue("name")
		}
		if req.Name == "" {
			req.Name = header.Filename
		}
		if req.FolderID == "" {
			req.FolderID = r.FormValue("folder_id")
		}
	} else {
		content = r.Body
		req.MimeType = mediaType
		if r.ContentLength >= 0 {
			req.Size = r.ContentLength
		}
	}

	if req.Name == "" {
		httputil.WriteAPIError(w, apierrors.BadRequest("name is required"))
		return
	}

	file, err := h.service.Upload(r.Context(), orgID, integrationID, req, content)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteCreated(w, file)
}

// Share handles POST .../integrations/{integrationID}/files/{fileID}/share
func (h *Handlers) Share(w http.ResponseWriter, r *http.Request) {
	_, integrationID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathStringOrError(w, r, "fileID")
	if !ok {
		return
	}

	var req ShareRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	perm, err := h.service.Share(r.Context(), integrationID, fileID, req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteCreated(w, perm)
}

// SyncLogs handles GET .../integrations/{integrationID}/sync-logs
func (h *Handlers) SyncLogs(w http.ResponseWriter, r *http.Request) {
	_, integrationID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	limit, ok := httputil.ParseQueryIntOrError(w, r, "limit", DefaultSyncLogLimit)
	if !ok {
		return
	}

	logs, err := h.service.ListSyncLogs(r.Context(), integrationID, limit)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, logs)
}

// CacheStats handles GET .../integrations/{integrationID}/cache
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	_, integrationID, ok := h.resolve(w, r)
	if !ok {
		return
	}

	stats, err := h.service.CacheStats(r.Context(), integrationID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}

// ClearCache handles DELETE .../integrations/{integrationID}/cache
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	orgID, integrationID, ok := h.resolve(w, r)
	if !ok {
		return
	}

	removed, err := h.service.ClearCache(r.Context(), orgID, integrationID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, removed)
}

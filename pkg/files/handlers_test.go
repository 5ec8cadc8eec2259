package files

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T, policy PolicyDocument) (*mux.Router, *fixture) {
	t.Helper()
	f := setupService(t, policy)
	h := NewHandlers(f.svc)

	r := mux.NewRouter()
	base := "/organizations/{orgID}/integrations/{integrationID}"
	r.HandleFunc(base+"/files", h.List).Methods("GET")
	r.HandleFunc(base+"/files", h.Upload).Methods("POST")
	r.HandleFunc(base+"/files/{fileID}", h.Get).Methods("GET")
	r.HandleFunc(base+"/files/{fileID}/content", h.Download).Methods("GET")
	r.HandleFunc(base+"/files/{fileID}/share", h.Share).Methods("POST")
	r.HandleFunc(base+"/sync-logs", h.SyncLogs).Methods("GET")
	r.HandleFunc(base+"/cache", h.CacheStats).Methods("GET")
	r.HandleFunc(base+"/cache", h.ClearCache).Methods("DELETE")
	return r, f
}

func (f *fixture) path(suffix string) string {
	return "/organizations/" + f.orgID.String() + "/integrations/" + f.integration.String() + suffix
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func codeOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestHandlers_OtherOrganizationIsNotFound(t *testing.T) {
	r, f := setupRouter(t, PolicyDocument{})
	other := "/organizations/" + uuid.New().String() + "/integrations/" + f.integration.String()

	for _, p := range []string{"/files", "/files/f1", "/files/f1/content", "/sync-logs", "/cache"} {
		w := do(r, httptest.NewRequest("GET", other+p, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, p)
	}
	w := do(r, httptest.NewRequest("POST", other+"/files?name=a.txt", strings.NewReader("x")))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, f.remote.calls)
}

func TestHandlers_List(t *testing.T) {
	r, f := setupRouter(t, PolicyDocument{})

	w := do(r, httptest.NewRequest("GET", f.path("/files?folder_id=folder-a&q=rep&page_size=10"), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, f.remote.lastSize)

	var result ListResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Len(t, result.Files, 1)

	w = do(r, httptest.NewRequest("GET", f.path("/files?page_size=lots"), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_GetForbiddenFolder(t *testing.T) {
	r, f := setupRouter(t, PolicyDocument{DefaultAllowedFolders: []string{"folder-a"}})

	w := do(r, httptest.NewRequest("GET", f.path("/files/secret"), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "PERMISSION_DENIED", codeOf(t, w))
}

func TestHandlers_Download(t *testing.T) {
	r, f := setupRouter(t, PolicyDocument{})

	w := do(r, httptest.NewRequest("GET", f.path("/files/f1/content"), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pdf-data", w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "8", w.Header().Get("Content-Length"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename=report.pdf`)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	w = do(r, httptest.NewRequest("GET", f.path("/files/f1/content"), nil))
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	w = do(r, httptest.NewRequest("GET", f.path("/files/f1/content?cache=false"), nil))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, 2, f.remote.count("download"))
}

func TestHandlers_UploadMultipart(t *testing.T) {
	r, f := setupRouter(t, PolicyDocument{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("folder_id", "folder-a"))
	part, err := mw.CreateFormFile("file", "claim-photo.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", f.path("/files"), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := do(r, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var file File
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &file))
	assert.Equal(t, "claim-photo.jpg", file.Name)
	assert.Equal(t, []string{"folder-a"}, file.Parents)
	assert.Equal(t, "jpeg", string(f.remote.content[file.ID]))
}

func TestHandlers_UploadRaw(t *testing.T) {
	r, f := setupRouter(t, PolicyDocument{})

	req := httptest.NewRequest("POST", f.path("/files?name=notes.txt&folder_id=folder-a"), strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	w := do(r, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var file File
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &file))
	assert.Equal(t, "text/plain", file.MimeType)

	w = do(r, httptest.NewRequest("POST", f.path("/files"), strings.NewReader("hello")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := httptest.NewRequest("POST", f.path("/files?name=big.bin"), strings.NewReader(strings.Repeat("x", 20)))
	w = do(r, big)
	assert.Equal(t, http.StatusInsufficientStorage, w.Code)
	assert.Equal(t, "QUOTA_EXCEEDED", codeOf(t, w))
}

func TestHandlers_Share(t *testing.T) {
	r, f := setupRouter(t, PolicyDocument{})

	w := do(r, httptest.NewRequest("POST", f.path("/files/f1/share"),
		strings.NewReader(`{"type":"user","role":"reader","email_address":"a@example.com"}`)))
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, httptest.NewRequest("POST", f.path("/files/f1/share"), strings.NewReader(`{"type":"user","role":"reader"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_SyncLogs(t *testing.T) {
	r, f := setupRouter(t, PolicyDocument{})
	do(r, httptest.NewRequest("GET", f.path("/files/f1/content"), nil))

	w := do(r, httptest.NewRequest("GET", f.path("/sync-logs?limit=5"), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var logs []SyncLog
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, OperationDownload, logs[0].Operation)
}

func TestHandlers_Cache(t *testing.T) {
	r, f := setupRouter(t, PolicyDocument{})

	w := do(r, httptest.NewRequest("GET", f.path("/files/f1/content"), nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, httptest.NewRequest("GET", f.path("/cache"), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stats CacheStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.True(t, stats.DownloadCacheEnabled)
	assert.Equal(t, CacheUsage{Objects: 1, Bytes: 8}, stats.Download)
	assert.Equal(t, int64(3600), stats.TTLSeconds)
	assert.Equal(t, 1, stats.MetadataEntries)

	w = do(r, httptest.NewRequest("DELETE", f.path("/cache"), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var removed CacheStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &removed))
	assert.Equal(t, CacheUsage{Objects: 1, Bytes: 8}, removed.Download)
	assert.Equal(t, 1, removed.MetadataEntries)

	w = do(r, httptest.NewRequest("GET", f.path("/files/f1/content"), nil))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, 2, f.remote.count("download"))

	other := "/organizations/" + uuid.New().String() + "/integrations/" + f.integration.String()
	w = do(r, httptest.NewRequest("DELETE", other+"/cache", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

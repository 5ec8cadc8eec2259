package files

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// fileFields is the Drive field mask for File
const fileFields = "id,name,mimeType,size,parents,webViewLink,modifiedTime"

// RemoteDrive is the file API of one connected account
type RemoteDrive interface {
	List(ctx context.Context, query string, pageSize int, pageToken string) (*ListResult, error)
	Get(ctx context.Context, fileID string) (*File, error)
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
	Upload(ctx context.Context, req UploadRequest, content io.Reader) (*File, error)
	Share(ctx context.Context, fileID string, req ShareRequest) (*Permission, error)
}

// RemoteFactory opens a RemoteDrive over an authenticated HTTP client
type RemoteFactory func(ctx context.Context, client *http.Client) (RemoteDrive, error)

// DriveServiceOpener builds Drive API services.
// *integrations.GoogleDriveProvider implements it.
type DriveServiceOpener interface {
	DriveService(ctx context.Context, client *http.Client) (*drive.Service, error)
}

// NewDriveFactory returns a RemoteFactory backed by Drive v3
func NewDriveFactory(opener DriveServiceOpener) RemoteFactory {
	return func(ctx context.Context, client *http.Client) (RemoteDrive, error) {
		svc, err := opener.DriveService(ctx, client)
		if err != nil {
			return nil, err
		}
		return &driveRemote{svc: svc}, nil
	}
}

type driveRemote struct {
	svc *drive.Service
}

func (d *driveRemote) List(ctx context.Context, query string, pageSize int, pageToken string) (*ListResult, error) {
	call := d.svc.Files.List().
		Q(query).
		PageSize(int64(pageSize)).
		Fields(googleapi.Field("nextPageToken,files(" + fileFields + ")")).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	result := &ListResult{Files: make([]*File, 0, len(resp.Files)), NextPageToken: resp.NextPageToken}
	for _, f := range resp.Files {
		result.Files = append(result.Files, fromDrive(f))
	}
	return result, nil
}

func (d *driveRemote) Get(ctx context.Context, fileID string) (*File, error) {
	f, err := d.svc.Files.Get(fileID).Fields(googleapi.Field(fileFields)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", fileID, err)
	}
	return fromDrive(f), nil
}

func (d *driveRemote) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := d.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	return resp.Body, nil
}

func (d *driveRemote) Upload(ctx context.Context, req UploadRequest, content io.Reader) (*File, error) {
	meta := &drive.File{Name: req.Name, MimeType: req.MimeType}
	if req.FolderID != "" {
		meta.Parents = []string{req.FolderID}
	}

	f, err := d.svc.Files.Create(meta).
		Media(content).
		Fields(googleapi.Field(fileFields)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}
	return fromDrive(f), nil
}

func (d *driveRemote) Share(ctx context.Context, fileID string, req ShareRequest) (*Permission, error) {
	perm, err := d.svc.Permissions.Create(fileID, &drive.Permission{
		Type:         req.Type,
		Role:         req.Role,
		EmailAddress: req.EmailAddress,
		Domain:       req.Domain,
	}).Fields("id,type,role,emailAddress,domain").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to share file %s: %w", fileID, err)
	}
	return &Permission{
		ID:           perm.Id,
		Type:         perm.Type,
		Role:         perm.Role,
		EmailAddress: perm.EmailAddress,
		Domain:       perm.Domain,
	}, nil
}

func fromDrive(f *drive.File) *File {
	out := &File{
		ID:          f.Id,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Size:        f.Size,
		Parents:     f.Parents,
		WebViewLink: f.WebViewLink,
	}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			out.ModifiedTime = t.UTC()
		}
	}
	return out
}

// escapeQuery quotes a value for a Drive query string literal
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// buildListQuery builds the Drive search expression for a ListRequest.
// When no folder is given and the organization is restricted, the search
// is limited to the allowed folders.
func buildListQuery(req ListRequest, allowed []string) string {
	var parts []string
	switch {
	case req.FolderID != "":
		parts = append(parts, fmt.Sprintf("'%s' in parents", escapeQuery(req.FolderID)))
	case len(allowed) > 0:
		clauses := make([]string, len(allowed))
		for i, id := range allowed {
			clauses[i] = fmt.Sprintf("'%s' in parents", escapeQuery(id))
		}
		parts = append(parts, "("+strings.Join(clauses, " or ")+")")
	}
	if req.Query != "" {
		parts = append(parts, fmt.Sprintf("name contains '%s'", escapeQuery(req.Query)))
	}
	parts = append(parts, "trashed=false")
	return strings.Join(parts, " and ")
}

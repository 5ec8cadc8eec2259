// Package apierrors defines the typed errors returned by RestoreAssist services.
//
// Every error carries a machine-readable code and the HTTP status it maps to
// at the API boundary. Handlers render them with httputil.WriteAPIError as
// {"error": "...", "code": "..."}.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Code is a machine-readable error code
type Code string

const (
	CodeNotFound              Code = "NOT_FOUND"
	CodeForbidden             Code = "FORBIDDEN"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeBadRequest            Code = "BAD_REQUEST"
	CodeConflict              Code = "CONFLICT"
	CodeInvitationExpired     Code = "INVITATION_EXPIRED"
	CodeInvalidState          Code = "INVALID_STATE"
	CodeOAuthProviderError    Code = "OAUTH_PROVIDER_ERROR"
	CodeScopeValidationFailed Code = "SCOPE_VALIDATION_FAILED"
	CodeTokenExchangeFailed   Code = "TOKEN_EXCHANGE_FAILED"
	CodeTokenRefreshFailed    Code = "TOKEN_REFRESH_FAILED"
	CodeIntegrationInactive   Code = "INTEGRATION_INACTIVE"
	CodeQuotaExceeded         Code = "QUOTA_EXCEEDED"
	CodeUploadFailed          Code = "UPLOAD_FAILED"
	CodeDownloadFailed        Code = "DOWNLOAD_FAILED"
	CodeProviderRequestFailed Code = "PROVIDER_REQUEST_FAILED"
	CodePermissionDenied      Code = "PERMISSION_DENIED"
	CodeEncryptionConfig      Code = "ENCRYPTION_CONFIG_ERROR"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// Error is a typed service error
type Error struct {
	Code    Code
	Status  int
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail returns a copy of the error with an extra detail attached
func (e *Error) WithDetail(key string, value interface{}) *Error {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newError(code Code, status int, message string, err error) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// NotFound reports a missing resource
func NotFound(resource string) *Error {
	return newError(CodeNotFound, http.StatusNotFound, resource+" not found", nil)
}

// Forbidden reports an authenticated caller acting outside their membership
func Forbidden(message string) *Error {
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// Unauthorized reports missing or invalid credentials
func Unauthorized(message string) *Error {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// BadRequest reports invalid input
func BadRequest(message string) *Error {
	return newError(CodeBadRequest, http.StatusBadRequest, message, nil)
}

// Conflict reports a uniqueness or state conflict
func Conflict(message string) *Error {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

// InvitationExpired reports an invitation past its expiry
func InvitationExpired() *Error {
	return newError(CodeInvitationExpired, http.StatusGone, "invitation has expired", nil)
}

// InvalidState reports an unknown, expired or already consumed OAuth state token
func InvalidState() *Error {
	return newError(CodeInvalidState, http.StatusBadRequest, "invalid or expired oauth state", nil)
}

// OAuthProviderError reports an error returned by the provider on the callback
func OAuthProviderError(providerError, description string) *Error {
	msg := "oauth provider returned error: " + providerError
	if description != "" {
		msg += " (" + description + ")"
	}
	return newError(CodeOAuthProviderError, http.StatusBadRequest, msg, nil).
		WithDetail("provider_error", providerError)
}

// ScopeValidationFailed reports granted scopes missing some required scopes
func ScopeValidationFailed(missing []string) *Error {
	sorted := append([]string(nil), missing...)
	sort.Strings(sorted)
	msg := "granted scopes are missing required scopes: " + strings.Join(sorted, ", ")
	return newError(CodeScopeValidationFailed, http.StatusForbidden, msg, nil).
		WithDetail("missing_scopes", sorted)
}

// TokenExchangeFailed reports a failed authorization code exchange
func TokenExchangeFailed(reason string, err error) *Error {
	return newError(CodeTokenExchangeFailed, http.StatusBadGateway, "token exchange failed: "+reason, err)
}

// TokenRefreshFailed reports a failed refresh grant
func TokenRefreshFailed(err error) *Error {
	return newError(CodeTokenRefreshFailed, http.StatusBadGateway, "token refresh failed", err)
}

// IntegrationInactive reports use of a revoked integration
func IntegrationInactive(integrationID string) *Error {
	return newError(CodeIntegrationInactive, http.StatusConflict, "integration is inactive", nil).
		WithDetail("integration_id", integrationID)
}

// QuotaExceeded reports an upload that would exceed the remote storage quota
func QuotaExceeded(usage, limit, requested int64) *Error {
	return newError(CodeQuotaExceeded, http.StatusInsufficientStorage, "storage quota exceeded", nil).
		WithDetail("usage", usage).
		WithDetail("limit", limit).
		WithDetail("requested", requested)
}

// UploadFailed reports a failed remote upload
func UploadFailed(err error) *Error {
	return newError(CodeUploadFailed, http.StatusBadGateway, "upload failed", err)
}

// DownloadFailed reports a failed remote download
func DownloadFailed(err error) *Error {
	return newError(CodeDownloadFailed, http.StatusBadGateway, "download failed", err)
}

// ProviderRequestFailed reports a failed call to the remote provider API
func ProviderRequestFailed(operation string, err error) *Error {
	return newError(CodeProviderRequestFailed, http.StatusBadGateway, "provider request failed: "+operation, err)
}

// PermissionDenied reports a missing RBAC permission or a restricted resource
func PermissionDenied(message string) *Error {
	return newError(CodePermissionDenied, http.StatusForbidden, message, nil)
}

// EncryptionConfig reports a token that could not be decrypted with the configured key
func EncryptionConfig(err error) *Error {
	return newError(CodeEncryptionConfig, http.StatusInternalServerError, "stored credentials could not be decrypted", err)
}

// RateLimited reports a caller over its request budget
func RateLimited() *Error {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil)
}

// Internal wraps an unexpected failure
func Internal(err error) *Error {
	return newError(CodeInternal, http.StatusInternalServerError, "internal server error", err)
}

// From returns err as a typed error, mapping untyped errors to Internal
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// HasCode reports whether err is a typed error with the given code
func HasCode(err error, code Code) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

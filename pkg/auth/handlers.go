package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
	"github.com/platinummonkey/restoreassist/pkg/httputil"
)

// Handlers provides HTTP handlers for API key management
type Handlers struct {
	service *APIKeyService
}

// NewHandlers creates new API key handlers
func NewHandlers(service *APIKeyService) *Handlers {
	return &Handlers{service: service}
}

type createKeyBody struct {
	Name          string  `json:"name"`
	Scopes        []Scope `json:"scopes"`
	ExpiresInDays int     `json:"expires_in_days,omitempty"`
}

// ListKeys handles GET /organizations/{orgID}/api-keys
func (h *Handlers) ListKeys(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	keys, err := h.service.List(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, keys)
}

// CreateKey handles POST /organizations/{orgID}/api-keys
func (h *Handlers) CreateKey(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	var body createKeyBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if body.ExpiresInDays < 0 {
		httputil.WriteBadRequest(w, "expires_in_days must not be negative")
		return
	}

	// A key can never carry more scopes than the key that created it
	if caller := FromContext(r.Context()); caller != nil {
		for _, scope := range body.Scopes {
			if !caller.HasScope(scope) {
				httputil.WriteForbidden(w, fmt.Sprintf("cannot grant scope %q", scope))
				return
			}
		}
	}

	created, err := h.service.Create(r.Context(), CreateKeyRequest{
		OrganizationID: orgID,
		UserID:         contextkeys.GetUserID(r.Context()),
		Name:           body.Name,
		Scopes:         body.Scopes,
		ExpiresIn:      time.Duration(body.ExpiresInDays) * 24 * time.Hour,
	})
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteCreated(w, created)
}

// RotateKey handles POST /organizations/{orgID}/api-keys/{keyID}/rotate
func (h *Handlers) RotateKey(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}
	keyID, ok := httputil.ParsePathUUIDOrError(w, r, "keyID")
	if !ok {
		return
	}

	created, err := h.service.Rotate(r.Context(), orgID, keyID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteCreated(w, created)
}

// RevokeKey handles DELETE /organizations/{orgID}/api-keys/{keyID}
func (h *Handlers) RevokeKey(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}
	keyID, ok := httputil.ParsePathUUIDOrError(w, r, "keyID")
	if !ok {
		return
	}

	if err := h.service.Revoke(r.Context(), orgID, keyID); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// KeyUsage handles GET /organizations/{orgID}/api-keys/{keyID}/usage
func (h *Handlers) KeyUsage(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}
	keyID, ok := httputil.ParsePathUUIDOrError(w, r, "keyID")
	if !ok {
		return
	}
	limit, ok := httputil.ParseQueryIntOrError(w, r, "limit", DefaultUsageLimit)
	if !ok {
		return
	}

	// The key must belong to the organization in the path
	if _, err := h.service.Get(r.Context(), orgID, keyID); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	records, err := h.service.ListUsage(r.Context(), keyID, limit)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, records)
}

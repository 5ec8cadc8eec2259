package integrations

import (
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
	"github.com/platinummonkey/restoreassist/pkg/httputil"
)

// Handlers provides HTTP handlers for OAuth integrations
type Handlers struct {
	service *Service
}

// NewHandlers creates new integration handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

type authorizeRequest struct {
	ReturnURL string `json:"return_url"`
}

// Authorize handles POST /organizations/{orgID}/integrations/google-drive/authorize
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	var req authorizeRequest
	if r.ContentLength != 0 {
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
	}

	authReq, err := h.service.InitiateAuthorization(r.Context(), orgID, contextkeys.GetUserID(r.Context()), req.ReturnURL)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, authReq)
}

// Callback handles GET /integrations/google-drive/callback. The state token
// is the only credential on this route.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.service.HandleCallback(r.Context(), CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	if result.ReturnURL != "" {
		http.Redirect(w, r, withConnectedParams(result.ReturnURL, result.Integration.ID), http.StatusFound)
		return
	}

	httputil.WriteSuccess(w, result)
}

func withConnectedParams(returnURL string, integrationID uuid.UUID) string {
	u, err := url.Parse(returnURL)
	if err != nil {
		return returnURL
	}
	q := u.Query()
	q.Set("integration_id", integrationID.String())
	q.Set("status", "connected")
	u.RawQuery = q.Encode()
	return u.String()
}

// List handles GET /organizations/{orgID}/integrations
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	integrations, err := h.service.ListForOrganization(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, integrations)
}

// resolve loads the {integrationID} integration, scoped to {orgID}
func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request) (*Integration, bool) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return nil, false
	}
	integrationID, ok := httputil.ParsePathUUIDOrError(w, r, "integrationID")
	if !ok {
		return nil, false
	}

	integ, err := h.service.GetForOrganization(r.Context(), orgID, integrationID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return nil, false
	}
	return integ, true
}

// Get handles GET /organizations/{orgID}/integrations/{integrationID}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	integ, ok := h.resolve(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, integ)
}

// Refresh handles POST /organizations/{orgID}/integrations/{integrationID}/refresh
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	integ, ok := h.resolve(w, r)
	if !ok {
		return
	}

	refreshed, err := h.service.Refresh(r.Context(), integ.ID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, refreshed)
}

// Revoke handles POST /organizations/{orgID}/integrations/{integrationID}/revoke
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	integ, ok := h.resolve(w, r)
	if !ok {
		return
	}

	revoked, err := h.service.Revoke(r.Context(), integ.ID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, revoked)
}

// Quota handles GET /organizations/{orgID}/integrations/{integrationID}/quota
func (h *Handlers) Quota(w http.ResponseWriter, r *http.Request) {
	integ, ok := h.resolve(w, r)
	if !ok {
		return
	}

	quota, err := h.service.Quota(r.Context(), integ.ID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"integration_id": integ.ID,
		"limit":          quota.Limit,
		"usage":          quota.Usage,
		"available":      quota.Available(),
	})
}

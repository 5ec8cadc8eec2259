package orgs

import (
	"net/http"

	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
	"github.com/platinummonkey/restoreassist/pkg/httputil"
)

// Handlers provides HTTP handlers for organizations, members and invitations
type Handlers struct {
	service *PostgresService
}

// NewHandlers creates new organization handlers
func NewHandlers(service *PostgresService) *Handlers {
	return &Handlers{service: service}
}

// CreateOrganization handles POST /organizations
func (h *Handlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req CreateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.service.CreateOrganization(r.Context(), req, contextkeys.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteCreated(w, org)
}

// ListOrganizations handles GET /organizations
func (h *Handlers) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.service.ListUserOrganizations(r.Context(), contextkeys.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, orgs)
}

// GetOrganization handles GET /organizations/{orgID}
func (h *Handlers) GetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	org, err := h.service.GetOrganization(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, org)
}

// UpdateOrganization handles PATCH /organizations/{orgID}
func (h *Handlers) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	var req UpdateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.service.UpdateOrganization(r.Context(), orgID, req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, org)
}

// DeleteOrganization handles DELETE /organizations/{orgID}
func (h *Handlers) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	if err := h.service.DeleteOrganization(r.Context(), orgID); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// ListMembers handles GET /organizations/{orgID}/members
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	members, err := h.service.ListMembers(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, members)
}

// AddMember handles POST /organizations/{orgID}/members
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	var req AddMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.service.AddMember(r.Context(), orgID, req, contextkeys.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteCreated(w, member)
}

// UpdateMember handles PUT /organizations/{orgID}/members/{userID}
func (h *Handlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	var req UpdateMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.service.UpdateMemberRole(r.Context(), orgID, userID, req.Role)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, member)
}

// RemoveMember handles DELETE /organizations/{orgID}/members/{userID}
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), orgID, userID); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// ListInvitations handles GET /organizations/{orgID}/invitations
func (h *Handlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	invitations, err := h.service.ListInvitations(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, invitations)
}

// CreateInvitation handles POST /organizations/{orgID}/invitations
func (h *Handlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}

	var req InviteMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	inv, err := h.service.CreateInvitation(r.Context(), orgID, req.Email, req.Role, contextkeys.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteCreated(w, inv)
}

// RevokeInvitation handles DELETE /organizations/{orgID}/invitations/{invitationID}
func (h *Handlers) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "orgID")
	if !ok {
		return
	}
	invitationID, ok := httputil.ParsePathUUIDOrError(w, r, "invitationID")
	if !ok {
		return
	}

	if err := h.service.RevokeInvitation(r.Context(), orgID, invitationID); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// AcceptInvitation handles POST /invitations/{token}/accept
func (h *Handlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}

	member, err := h.service.AcceptInvitation(r.Context(), token, contextkeys.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}

	httputil.WriteSuccess(w, member)
}

package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the action recorded by an audit event
type EventType string

const (
	// Organization events
	EventTypeOrgCreate           EventType = "organization.create"
	EventTypeOrgUpdate           EventType = "organization.update"
	EventTypeOrgDelete           EventType = "organization.delete"
	EventTypeMemberAdd           EventType = "member.add"
	EventTypeMemberRemove        EventType = "member.remove"
	EventTypeMemberRoleChange    EventType = "member.role_change"
	EventTypeInvitationCreate    EventType = "invitation.create"
	EventTypeInvitationAccept    EventType = "invitation.accept"
	EventTypeInvitationRevoke    EventType = "invitation.revoke"
	EventTypeRoleCreate          EventType = "role.create"
	EventTypeRoleDelete          EventType = "role.delete"
	EventTypeAPIKeyCreate        EventType = "api_key.create"
	EventTypeAPIKeyRotate        EventType = "api_key.rotate"
	EventTypeAPIKeyRevoke        EventType = "api_key.revoke"
	EventTypeIntegrationConnect  EventType = "integration.connect"
	EventTypeIntegrationRefresh  EventType = "integration.refresh"
	EventTypeIntegrationRevoke   EventType = "integration.revoke"
	EventTypeFileUpload          EventType = "file.upload"
	EventTypeFileShare           EventType = "file.share"
	EventTypeFileCacheClear      EventType = "file.cache_clear"
	EventTypeAccessDenied        EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource an event acted on
type ResourceType string

const (
	ResourceTypeOrganization ResourceType = "organization"
	ResourceTypeMember       ResourceType = "member"
	ResourceTypeInvitation   ResourceType = "invitation"
	ResourceTypeRole         ResourceType = "role"
	ResourceTypeAPIKey       ResourceType = "api_key"
	ResourceTypeIntegration  ResourceType = "integration"
	ResourceTypeFile         ResourceType = "file"
)

// Event is a single audit log entry
type Event struct {
	ID             uuid.UUID              `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	OrganizationID *uuid.UUID             `json:"organization_id,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
	Action         EventType              `json:"action"`
	ResourceType   ResourceType           `json:"resource_type"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	Status         EventStatus            `json:"status"`
	Details        map[string]interface{} `json:"details,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
}

// NewEvent builds a successful event for an organization-scoped action
func NewEvent(orgID uuid.UUID, userID string, action EventType, resourceType ResourceType, resourceID string) *Event {
	event := &Event{
		Action:       action,
		UserID:       userID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Status:       EventStatusSuccess,
	}
	if orgID != uuid.Nil {
		event.OrganizationID = &orgID
	}
	return event
}

// WithDetail sets a detail value and returns the event
func (e *Event) WithDetail(key string, value interface{}) *Event {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithStatus sets the event status and returns the event
func (e *Event) WithStatus(status EventStatus) *Event {
	e.Status = status
	return e
}

// SearchFilter narrows an audit event listing
type SearchFilter struct {
	OrganizationID uuid.UUID
	UserID         string
	Actions        []EventType
	StartTime      *time.Time
	EndTime        *time.Time
	Limit          int
	Offset         int
}

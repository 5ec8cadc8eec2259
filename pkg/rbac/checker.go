package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/restoreassist/pkg/observability"
)

// DefaultCacheSize bounds the number of cached member permission sets
const DefaultCacheSize = 10000

// PermissionChecker evaluates permissions against a member's role, caching
// resolved permission sets per organization and user
type PermissionChecker struct {
	store   PermissionStore
	cache   *expirable.LRU[string, *MemberAccess]
	metrics *observability.Metrics
}

// CheckerOption configures a PermissionChecker
type CheckerOption func(*PermissionChecker)

// WithMetrics records permission check outcomes
func WithMetrics(metrics *observability.Metrics) CheckerOption {
	return func(pc *PermissionChecker) {
		pc.metrics = metrics
	}
}

// NewPermissionChecker creates a new permission checker. A non-positive ttl
// disables caching.
func NewPermissionChecker(store PermissionStore, cacheSize int, ttl time.Duration, opts ...CheckerOption) *PermissionChecker {
	pc := &PermissionChecker{store: store}
	if ttl > 0 {
		if cacheSize <= 0 {
			cacheSize = DefaultCacheSize
		}
		pc.cache = expirable.NewLRU[string, *MemberAccess](cacheSize, nil, ttl)
	}
	for _, opt := range opts {
		opt(pc)
	}
	return pc
}

func cacheKey(orgID uuid.UUID, userID string) string {
	return orgID.String() + ":" + userID
}

// GetMemberAccess returns the member's role and effective permissions
func (pc *PermissionChecker) GetMemberAccess(ctx context.Context, orgID uuid.UUID, userID string) (*MemberAccess, error) {
	key := cacheKey(orgID, userID)
	if pc.cache != nil {
		if access, ok := pc.cache.Get(key); ok {
			pc.metrics.RecordCache("rbac", true)
			return access, nil
		}
		pc.metrics.RecordCache("rbac", false)
	}

	access, err := pc.store.GetMemberAccess(ctx, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	if pc.cache != nil {
		pc.cache.Add(key, access)
	}
	return access, nil
}

// GetEffectivePermissions returns the permission set of a user in an
// organization. Non-members have an empty set.
func (pc *PermissionChecker) GetEffectivePermissions(ctx context.Context, orgID uuid.UUID, userID string) (PermissionSet, error) {
	access, err := pc.GetMemberAccess(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	return access.Permissions, nil
}

// HasPermission reports whether the user may perform action on resource
func (pc *PermissionChecker) HasPermission(ctx context.Context, orgID uuid.UUID, userID string, resource Resource, action Action) (bool, error) {
	result, err := pc.CheckPermission(ctx, PermissionCheck{
		OrganizationID: orgID,
		UserID:         userID,
		Resource:       resource,
		Action:         action,
	})
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// CheckPermission evaluates a permission check and explains the outcome
func (pc *PermissionChecker) CheckPermission(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error) {
	access, err := pc.GetMemberAccess(ctx, check.OrganizationID, check.UserID)
	if err != nil {
		return nil, err
	}

	result := &PermissionCheckResult{
		Role:      access.Role,
		CheckedAt: time.Now(),
	}

	required := Permission{Resource: check.Resource, Action: check.Action}
	switch {
	case !access.IsMember:
		result.Reason = "not a member of the organization"
	case access.Permissions.Allows(check.Resource, check.Action):
		result.Allowed = true
		result.Reason = fmt.Sprintf("granted by role %s", access.Role)
	default:
		result.Reason = fmt.Sprintf("role %s does not grant %s", access.Role, required)
	}

	pc.metrics.RecordPermissionCheck(result.Allowed)
	return result, nil
}

// InvalidateUser drops the cached permissions of one member
func (pc *PermissionChecker) InvalidateUser(orgID uuid.UUID, userID string) {
	if pc.cache != nil {
		pc.cache.Remove(cacheKey(orgID, userID))
	}
}

// InvalidateOrganization drops the cached permissions of every member of an organization
func (pc *PermissionChecker) InvalidateOrganization(orgID uuid.UUID) {
	if pc.cache == nil {
		return
	}
	prefix := orgID.String() + ":"
	for _, key := range pc.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			pc.cache.Remove(key)
		}
	}
}

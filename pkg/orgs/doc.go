// Package orgs provides multi-tenant organization management.
//
// # Overview
//
// An organization is the tenant boundary for every other resource: members,
// roles, API keys, integrations and files all carry its ID. This package
// manages the organization record, its membership and its invitations.
//
// # Ownership
//
// The creator becomes the owner member. The owner cannot be removed and the
// owner's role cannot be changed; no other member can be promoted to owner.
//
// # Invitations
//
// An invitation token is 32 random bytes, hex encoded, valid for seven days
// by default:
//
//	inv, err := service.CreateInvitation(ctx, orgID, "ops@example.com", rbac.RoleMember, inviterID)
//	// share inv.Token out of band
//	member, err := service.AcceptInvitation(ctx, inv.Token, userID)
//
// Accepting runs in one transaction that locks the invitation row, so a token
// can be redeemed once.
//
// # Cache Invalidation
//
// Every membership change calls the configured Invalidator so cached RBAC
// permission sets never outlive the membership they were built from.
//
//	svc := orgs.NewPostgresService(db,
//		orgs.WithInvalidator(checker),
//		orgs.WithRoleValidator(rbacStore),
//	)
package orgs

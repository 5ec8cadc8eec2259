// Package audit records security-relevant actions: membership and role
// changes, API key lifecycle, integration connect and revoke, uploads and
// shares.
//
// Services hold a Logger and call Record, which never fails the request:
//
//	audit.Record(ctx, s.audit, audit.NewEvent(orgID, userID,
//		audit.EventTypeIntegrationConnect, audit.ResourceTypeIntegration, id.String()).
//		WithDetail("provider", "google_drive"))
//
// DBLogger writes to the audit_events table, StructuredLogger writes to the
// application log, and MultiLogger combines sinks.
package audit

// Package jobs runs periodic housekeeping: expired invitations, old API key
// usage logs and stale download-cache objects are removed, and the download
// cache is trimmed to its size budget. Jobs run on a cron schedule in the
// server, or once from the cleanup command.
package jobs

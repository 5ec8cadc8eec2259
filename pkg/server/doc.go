// Package server assembles the REST API: every route under /api/v1 with its
// API key scope and RBAC permission, the shared middleware chain, and the
// separate health and metrics listener.
package server

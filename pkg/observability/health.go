package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthCheckFunc checks an optional dependency. A failure degrades readiness.
type HealthCheckFunc func(ctx context.Context) error

// HealthChecker provides liveness and readiness probes
type HealthChecker struct {
	db       *sql.DB
	redis    *redis.Client
	optional map[string]HealthCheckFunc
	version  string
}

// NewHealthChecker creates a health checker. redis may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, version string) *HealthChecker {
	return &HealthChecker{
		db:       db,
		redis:    redisClient,
		optional: make(map[string]HealthCheckFunc),
		version:  version,
	}
}

// AddCheck registers an optional dependency check, e.g. the S3 download cache
func (h *HealthChecker) AddCheck(name string, check HealthCheckFunc) {
	h.optional[name] = check
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Liveness always reports healthy while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness reports 503 when the database is unreachable
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check runs every dependency check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		dbStatus := h.checkDatabase(ctx)
		status.Dependencies["database"] = dbStatus
		status.Status = worst(status.Status, dbStatus.Status)
	}

	if h.redis != nil {
		redisStatus := runCheck(ctx, func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		})
		status.Dependencies["redis"] = redisStatus
		if redisStatus.Status == StatusUnhealthy {
			status.Status = worst(status.Status, StatusDegraded)
		}
	}

	for name, check := range h.optional {
		depStatus := runCheck(ctx, check)
		status.Dependencies[name] = depStatus
		if depStatus.Status == StatusUnhealthy {
			status.Status = worst(status.Status, StatusDegraded)
		}
	}

	return status
}

func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	status := runCheck(ctx, func(ctx context.Context) error {
		var one int
		return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
	if status.Status != StatusHealthy {
		return status
	}

	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		status.Status = StatusDegraded
		status.Message = "connection pool exhausted"
	}
	return status
}

func runCheck(ctx context.Context, check HealthCheckFunc) DependencyStatus {
	start := time.Now()
	err := check(ctx)
	status := DependencyStatus{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

func worst(current, candidate string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[candidate] > rank[current] {
		return candidate
	}
	return current
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(serveMux *http.ServeMux, checker *HealthChecker) {
	serveMux.HandleFunc("/health", checker.Readiness)
	serveMux.HandleFunc("/health/live", checker.Liveness)
	serveMux.HandleFunc("/health/ready", checker.Readiness)
}

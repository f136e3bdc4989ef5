package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readinessTimeout = 5 * time.Second

// HealthStatus is the body served by the readiness endpoint.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the result of checking one backend.
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// dependency checks one backend. A failing critical dependency makes the service
// unhealthy; any other failure only degrades it.
type dependency struct {
	name     string
	critical bool
	check    func(context.Context) (status, message string)
}

// HealthChecker serves liveness and readiness for the store of record and
// the shared decision cache. Authorization keeps working from the local
// cache tier when Redis is gone, so Redis is not critical.
type HealthChecker struct {
	version string
	deps    []dependency
}

// NewHealthChecker builds a checker. Either dependency may be nil.
func NewHealthChecker(db *sql.DB, rdb *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.deps = append(h.deps, dependency{name: "database", critical: true, check: databaseCheck(db)})
	}
	if rdb != nil {
		h.deps = append(h.deps, dependency{name: "redis", check: redisCheck(rdb)})
	}
	return h
}

// Liveness answers 200 whenever the process can serve HTTP at all.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now().UTC(), Version: h.version})
}

// Readiness answers 503 when a critical dependency is down.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

// Check runs every dependency check and folds the results into one status.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	overall := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.deps)),
	}

	for _, p := range h.deps {
		start := time.Now()
		status, message := p.check(ctx)
		overall.Dependencies[p.name] = DependencyStatus{
			Status:    status,
			Message:   message,
			Latency:   time.Since(start),
			Timestamp: start.UTC(),
		}
		overall.Status = worse(overall.Status, effective(status, p.critical))
	}
	return overall
}

// effective downgrades a non-critical failure to degraded.
func effective(status string, critical bool) string {
	if status == StatusUnhealthy && !critical {
		return StatusDegraded
	}
	return status
}

func worse(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func databaseCheck(db *sql.DB) func(context.Context) (string, string) {
	return func(ctx context.Context) (string, string) {
		if err := db.PingContext(ctx); err != nil {
			return StatusUnhealthy, err.Error()
		}
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return StatusUnhealthy, fmt.Sprintf("query failed: %v", err)
		}
		if stats := db.Stats(); stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return StatusDegraded, "connection pool exhausted"
		}
		return StatusHealthy, ""
	}
}

func redisCheck(rdb *redis.Client) func(context.Context) (string, string) {
	return func(ctx context.Context) (string, string) {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return StatusUnhealthy, err.Error()
		}
		return StatusHealthy, ""
	}
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

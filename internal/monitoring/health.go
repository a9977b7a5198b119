package monitoring

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// severity orders statuses so the worst component decides the overall status.
func (s HealthStatus) severity() int {
	switch s {
	case HealthStatusUnhealthy:
		return 2
	case HealthStatusDegraded:
		return 1
	}
	return 0
}

type ComponentHealth struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	Latency     *int64       `json:"latency_ms,omitempty"`
	LastChecked time.Time    `json:"last_checked"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Service    string                     `json:"service"`
	Version    string                     `json:"version"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
	System     SystemInfo                 `json:"system"`
}

type SystemInfo struct {
	Goroutines int    `json:"goroutines"`
	CPUCount   int    `json:"cpu_count"`
	GoVersion  string `json:"go_version"`
	AllocBytes uint64 `json:"alloc_bytes"`
}

// PingFunc checks one dependency.
type PingFunc func(ctx context.Context) error

type componentCheck struct {
	ping          PingFunc
	degradedAfter time.Duration
}

func (c componentCheck) run(ctx context.Context, timeout time.Duration) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := c.ping(ctx)
	elapsed := time.Since(start)
	latency := elapsed.Milliseconds()

	result := ComponentHealth{Status: HealthStatusHealthy, Message: "ok", Latency: &latency, LastChecked: time.Now()}
	if err != nil {
		result.Status, result.Message = HealthStatusUnhealthy, "check failed: "+err.Error()
	} else if c.degradedAfter > 0 && elapsed > c.degradedAfter {
		result.Status, result.Message = HealthStatusDegraded, "slow response"
	}
	return result
}

// HealthChecker runs registered dependency checks in parallel and caches the
// results for checkInterval.
type HealthChecker struct {
	service   string
	version   string
	startTime time.Time

	checkInterval time.Duration
	timeout       time.Duration

	mu         sync.Mutex
	checks     map[string]componentCheck
	components map[string]ComponentHealth
	lastCheck  time.Time
}

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service:       service,
		version:       version,
		startTime:     time.Now(),
		checkInterval: 10 * time.Second,
		timeout:       5 * time.Second,
		checks:        make(map[string]componentCheck),
		components:    make(map[string]ComponentHealth),
	}
}

// RegisterCheck adds a dependency check. A check slower than degradedAfter
// marks the component degraded. Registering invalidates cached results.
func (hc *HealthChecker) RegisterCheck(name string, ping PingFunc, degradedAfter time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = componentCheck{ping: ping, degradedAfter: degradedAfter}
	hc.lastCheck = time.Time{}
}

// refresh runs every check concurrently. Callers hold hc.mu.
func (hc *HealthChecker) refresh(ctx context.Context) {
	var (
		wg      sync.WaitGroup
		resultM sync.Mutex
	)
	for name, check := range hc.checks {
		wg.Go(func() {
			result := check.run(ctx, hc.timeout)
			resultM.Lock()
			hc.components[name] = result
			resultM.Unlock()
		})
	}
	wg.Wait()
	hc.lastCheck = time.Now()
}

// GetHealth returns the worst component status as the overall status,
// re-running the checks when the cached results are stale.
func (hc *HealthChecker) GetHealth(ctx context.Context) HealthResponse {
	hc.mu.Lock()
	if time.Since(hc.lastCheck) > hc.checkInterval {
		hc.refresh(ctx)
	}
	overall := HealthStatusHealthy
	components := make(map[string]ComponentHealth, len(hc.components))
	for name, component := range hc.components {
		components[name] = component
		if component.Status.severity() > overall.severity() {
			overall = component.Status
		}
	}
	hc.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return HealthResponse{
		Status:     overall,
		Service:    hc.service,
		Version:    hc.version,
		Timestamp:  time.Now(),
		Uptime:     hc.uptime(),
		Components: components,
		System: SystemInfo{
			Goroutines: runtime.NumGoroutine(),
			CPUCount:   runtime.NumCPU(),
			GoVersion:  runtime.Version(),
			AllocBytes: mem.Alloc,
		},
	}
}

func (hc *HealthChecker) uptime() string {
	return time.Since(hc.startTime).Round(time.Second).String()
}

// HealthHandler serves the aggregated health; unhealthy answers 503.
func (hc *HealthChecker) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.GetHealth(c.Request.Context())
		status := http.StatusOK
		if health.Status == HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, health)
	}
}

// LivenessHandler reports that the process is up without touching dependencies.
func (hc *HealthChecker) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive", "uptime": hc.uptime(), "timestamp": time.Now()})
	}
}

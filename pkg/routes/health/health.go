package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

const checkTimeout = 2 * time.Second

// DBPinger checks connectivity to the database
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// Pinger checks connectivity to a backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueLener reports the depth of a stream
type QueueLener interface {
	Len(ctx context.Context, stream string) (int64, error)
}

// Checker handles health check endpoints
type Checker struct {
	db          DBPinger
	redis       Pinger
	queue       QueueLener
	queueStream string
	version     string
	startTime   time.Time
	ready       atomic.Bool
}

// NewChecker creates a new health checker. queue may be nil when the
// service runs without a worker.
func NewChecker(db DBPinger, redis Pinger, queue QueueLener, queueStream, version string) *Checker {
	return &Checker{
		db:          db,
		redis:       redis,
		queue:       queue,
		queueStream: queueStream,
		version:     version,
		startTime:   time.Now(),
	}
}

// SetReady sets the readiness state
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// RegisterRoutes registers health check endpoints
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/v1/health", c.Health)
	e.GET("/api/v1/health/live", c.Live)
	e.GET("/api/v1/health/ready", c.Ready)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks"`
	ReportedAt time.Time               `json:"reported_at"`
}

// CheckResult represents an individual check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
	Depth   int64  `json:"depth,omitempty"`
}

// Health returns the overall health status. Database and Redis failures
// mark the service unhealthy; a queue check failure only degrades it,
// since the API can still serve reads while the worker path is down.
func (c *Checker) Health(ec echo.Context) error {
	ctx := ec.Request().Context()

	status := &HealthStatus{
		Status:     "healthy",
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     make(map[string]*CheckResult),
		ReportedAt: time.Now(),
	}

	if c.db != nil {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := time.Now()
		err := c.db.PingContext(checkCtx)
		latency := time.Since(start)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks["database"] = &CheckResult{
				Status:  "unhealthy",
				Message: err.Error(),
			}
		} else {
			status.Checks["database"] = &CheckResult{
				Status:  "healthy",
				Latency: latency.String(),
			}
		}
	} else {
		status.Status = "unhealthy"
		status.Checks["database"] = &CheckResult{
			Status:  "unhealthy",
			Message: "database not configured",
		}
	}

	if c.redis != nil {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := time.Now()
		err := c.redis.Ping(checkCtx)
		latency := time.Since(start)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks["redis"] = &CheckResult{
				Status:  "unhealthy",
				Message: err.Error(),
			}
		} else {
			status.Checks["redis"] = &CheckResult{
				Status:  "healthy",
				Latency: latency.String(),
			}
		}
	}

	if c.queue != nil {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		depth, err := c.queue.Len(checkCtx, c.queueStream)
		cancel()

		if err != nil {
			if status.Status == "healthy" {
				status.Status = "degraded"
			}
			status.Checks["job_queue"] = &CheckResult{
				Status:  "degraded",
				Message: err.Error(),
			}
		} else {
			status.Checks["job_queue"] = &CheckResult{
				Status: "healthy",
				Depth:  depth,
			}
		}
	}

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	return ec.JSON(httpStatus, status)
}

// Live returns the liveness status (is the service running)
func (c *Checker) Live(ec echo.Context) error {
	return ec.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// Ready returns the readiness status (is the service ready to accept traffic)
func (c *Checker) Ready(ec echo.Context) error {
	if c.ready.Load() {
		return ec.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	return ec.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

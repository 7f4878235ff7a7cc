package monitoring

import (
	"context"
	"sync"
	"time"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/ports"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:    name,
		Check:   check,
		Timeout: timeout,
	})
}

// AddStorageCheck pings the room registry.
func (h *HealthChecker) AddStorageCheck(ping func(ctx context.Context) error, timeout time.Duration) {
	h.AddCheck("storage", ping, timeout)
}

// AddPlatformCheck looks up a channel that must exist, normally a creator channel.
func (h *HealthChecker) AddPlatformCheck(platform ports.Platform, known domain.ChannelID, timeout time.Duration) {
	h.AddCheck("platform", func(ctx context.Context) error {
		_, err := platform.GetChannel(ctx, known)
		return err
	}, timeout)
}

// CheckAll runs every check concurrently and reports unhealthy if any fails.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range checks {
		wg.Add(1)
		go func(check HealthCheck) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
			defer cancel()

			result := "healthy"
			if err := check.Check(checkCtx); err != nil {
				result = err.Error()
			}

			mu.Lock()
			status.Checks[check.Name] = result
			if result != "healthy" {
				status.Status = "unhealthy"
			}
			mu.Unlock()
		}(check)
	}
	wg.Wait()
	return status
}

func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}

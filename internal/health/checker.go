package health

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDisabled  = "disabled"
)

// Probe checks one dependency. A nil Check marks the dependency as not
// configured for this deployment.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type ServiceHealth struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	ResponseTime int    `json:"response_time_ms"`
	Error        string `json:"error,omitempty"`
	LastChecked  string `json:"last_checked"`
}

type OverallHealth struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
	Uptime   string          `json:"uptime"`
}

type HealthChecker struct {
	probes  []Probe
	timeout time.Duration
	cache   *cache.Cache
	started time.Time
	logger  *logrus.Logger
}

func NewHealthChecker(probes []Probe, timeout time.Duration, logger *logrus.Logger) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		probes:  probes,
		timeout: timeout,
		cache:   cache.New(10*time.Second, time.Minute),
		started: time.Now(),
		logger:  logger,
	}
}

const cacheKey = "health:overall"

// CheckAll runs every probe concurrently. One failing probe does not cancel
// the others.
func (h *HealthChecker) CheckAll(ctx context.Context) OverallHealth {
	services := make([]ServiceHealth, len(h.probes))

	var g errgroup.Group
	for i, p := range h.probes {
		i, p := i, p
		g.Go(func() error {
			services[i] = h.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, s := range services {
		if s.Status == StatusUnhealthy {
			overall = StatusUnhealthy
			break
		}
	}

	result := OverallHealth{
		Status:   overall,
		Services: services,
		Uptime:   time.Since(h.started).Round(time.Second).String(),
	}
	h.cache.Set(cacheKey, result, cache.DefaultExpiration)
	return result
}

// Cached returns the last result while it is fresh, otherwise probes again.
func (h *HealthChecker) Cached(ctx context.Context) OverallHealth {
	if v, ok := h.cache.Get(cacheKey); ok {
		return v.(OverallHealth)
	}
	return h.CheckAll(ctx)
}

func (h *HealthChecker) run(ctx context.Context, p Probe) ServiceHealth {
	result := ServiceHealth{Name: p.Name, Status: StatusHealthy}
	if p.Check == nil {
		result.Status = StatusDisabled
		result.LastChecked = time.Now().Format(time.RFC3339)
		return result
	}

	pctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := p.Check(pctx)
	result.ResponseTime = int(time.Since(start).Milliseconds())
	result.LastChecked = time.Now().Format(time.RFC3339)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		h.logger.WithError(err).WithField("service", p.Name).Error("Health check failed")
	}
	return result
}

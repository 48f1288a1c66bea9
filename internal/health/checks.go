package health

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/livefeed/internal/bus"
	"github.com/ManuGH/livefeed/internal/mirror"
	"github.com/ManuGH/livefeed/internal/supervisor"
)

// PhaseChecker maps the supervisor phase onto a check result. Starting and
// Stopped are not ready; Degraded and Offline still serve cached values.
type PhaseChecker struct {
	phase func() bus.Phase
}

// NewPhaseChecker creates a checker reading the phase from fn.
func NewPhaseChecker(fn func() bus.Phase) *PhaseChecker {
	return &PhaseChecker{phase: fn}
}

func (c *PhaseChecker) Name() string { return "supervisor" }

func (c *PhaseChecker) Check(context.Context) CheckResult {
	p := c.phase()
	switch p {
	case bus.PhaseLive:
		return CheckResult{Status: StatusHealthy, Message: string(p)}
	case bus.PhaseDegraded, bus.PhaseOffline:
		return CheckResult{Status: StatusDegraded, Message: string(p)}
	default:
		return CheckResult{Status: StatusUnhealthy, Message: string(p)}
	}
}

// SourceView is the part of the supervisor the freshness check needs.
type SourceView interface {
	Sources() []supervisor.SourceInfo
	Fresh(id string) bool
}

// FreshnessChecker reports degraded while any source is stale.
type FreshnessChecker struct {
	view SourceView
}

// NewFreshnessChecker creates a freshness checker.
func NewFreshnessChecker(view SourceView) *FreshnessChecker {
	return &FreshnessChecker{view: view}
}

func (c *FreshnessChecker) Name() string { return "freshness" }

func (c *FreshnessChecker) Check(context.Context) CheckResult {
	sources := c.view.Sources()
	stale := 0
	for _, s := range sources {
		if !c.view.Fresh(s.ID) {
			stale++
		}
	}
	if stale == 0 {
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d sources fresh", len(sources))}
	}
	return CheckResult{
		Status:  StatusDegraded,
		Message: fmt.Sprintf("%d of %d sources stale", stale, len(sources)),
	}
}

// MirrorChecker probes a durable mirror. Mirror trouble only degrades the
// service: the cache keeps serving from memory.
type MirrorChecker struct {
	sink    mirror.HealthChecker
	timeout time.Duration
}

// NewMirrorChecker creates a checker for sink with a per-check timeout.
func NewMirrorChecker(sink mirror.HealthChecker, timeout time.Duration) *MirrorChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &MirrorChecker{sink: sink, timeout: timeout}
}

func (c *MirrorChecker) Name() string { return "mirror" }

func (c *MirrorChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.sink.HealthCheck(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error(), Message: "durable mirror unreachable"}
	}
	return CheckResult{Status: StatusHealthy}
}

// Package scheduler runs the periodic compliance monitor: every active,
// located project is checked for precipitation on a fixed cadence and alerts
// are fanned out for exceedances and for projects whose status could not be
// determined.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"braveforms/internal/notifications"
	"braveforms/internal/types"
)

const (
	// DefaultInterval is the monitor cadence.
	DefaultInterval = time.Hour
	// DefaultConcurrency bounds concurrent project checks within one pass.
	DefaultConcurrency = 4
)

// ProjectLister lists the projects the monitor should check.
type ProjectLister interface {
	ListMonitorable(ctx context.Context) ([]*types.Project, error)
}

// ComplianceChecker runs a single precipitation check.
type ComplianceChecker interface {
	CheckPrecipitation(ctx context.Context, lat, lon float64, projectID string) (*types.ComplianceCheckResult, error)
}

// AlertPublisher delivers alerts for a tenant. Delivery is best effort.
type AlertPublisher interface {
	Publish(ctx context.Context, tenantID string, alert types.Alert)
}

// Metrics records monitor pass outcomes.
type Metrics interface {
	RecordMonitorPass(ctx context.Context, checked, exceeded, failed int, duration time.Duration)
}

// MonitorSummary counts the outcomes of one pass.
type MonitorSummary struct {
	Checked  int `json:"checked"`
	Exceeded int `json:"exceeded"`
	Failed   int `json:"failed"`
}

// MonitorConfig holds the monitor dependencies.
type MonitorConfig struct {
	Projects    ProjectLister
	Checker     ComplianceChecker
	Alerts      AlertPublisher
	Metrics     Metrics
	Clock       clockwork.Clock
	Interval    time.Duration
	Concurrency int
	Logger      *slog.Logger
}

// ComplianceMonitor checks every monitorable project once per interval.
type ComplianceMonitor struct {
	projects    ProjectLister
	checker     ComplianceChecker
	alerts      AlertPublisher
	metrics     Metrics
	clock       clockwork.Clock
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewComplianceMonitor validates cfg and applies defaults.
func NewComplianceMonitor(cfg MonitorConfig) (*ComplianceMonitor, error) {
	if cfg.Projects == nil {
		return nil, errors.New("scheduler: project lister is required")
	}
	if cfg.Checker == nil {
		return nil, errors.New("scheduler: compliance checker is required")
	}
	if cfg.Alerts == nil {
		return nil, errors.New("scheduler: alert publisher is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ComplianceMonitor{
		projects:    cfg.Projects,
		checker:     cfg.Checker,
		alerts:      cfg.Alerts,
		metrics:     cfg.Metrics,
		clock:       cfg.Clock,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger.With("component", "compliance_monitor"),
	}, nil
}

// Run performs a pass immediately and then once per interval until ctx is
// cancelled. A failed pass is logged and the loop continues.
func (m *ComplianceMonitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "compliance monitor started", "interval", m.interval.String())

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
			m.logger.ErrorContext(ctx, "compliance monitor pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("compliance monitor stopped")
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunOnce checks every monitorable project. A failing project never stops
// the pass; it is counted and a monitoring-failure alert is emitted for it.
// The only pass-level errors are a failure to list projects and
// cancellation of ctx.
func (m *ComplianceMonitor) RunOnce(ctx context.Context) (MonitorSummary, error) {
	start := m.clock.Now()

	projects, err := m.projects.ListMonitorable(ctx)
	if err != nil {
		return MonitorSummary{}, fmt.Errorf("failed to list monitorable projects: %w", err)
	}

	var checked, exceeded, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(m.concurrency)

	for _, p := range projects {
		if ctx.Err() != nil {
			break
		}
		if !p.Monitorable() {
			continue
		}
		p := p
		g.Go(func() error {
			checked.Add(1)
			hit, err := m.checkProject(ctx, p)
			switch {
			case err != nil:
				failed.Add(1)
			case hit:
				exceeded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := MonitorSummary{
		Checked:  int(checked.Load()),
		Exceeded: int(exceeded.Load()),
		Failed:   int(failed.Load()),
	}
	duration := m.clock.Since(start)

	if m.metrics != nil {
		m.metrics.RecordMonitorPass(ctx, summary.Checked, summary.Exceeded, summary.Failed, duration)
	}
	m.logger.InfoContext(ctx, "compliance monitor pass complete",
		"projects", len(projects),
		"checked", summary.Checked,
		"exceeded", summary.Exceeded,
		"failed", summary.Failed,
		"duration_ms", duration.Milliseconds(),
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// checkProject runs one check and publishes the resulting alert. It reports
// whether the threshold was exceeded.
func (m *ComplianceMonitor) checkProject(ctx context.Context, p *types.Project) (exceeded bool, err error) {
	logger := m.logger.With("project_id", p.ID, "organization_id", p.OrganizationID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during compliance check: %v", r)
			logger.ErrorContext(ctx, "compliance check panicked", "panic", r)
			if ctx.Err() == nil {
				m.alerts.Publish(ctx, p.OrganizationID, notifications.NewMonitoringFailureAlert(p, err, m.clock.Now()))
			}
		}
	}()

	coords, _ := p.Coordinates()
	result, err := m.checker.CheckPrecipitation(ctx, coords.Latitude, coords.Longitude, p.ID)
	if err != nil {
		logger.ErrorContext(ctx, "compliance check failed", "error", err)
		if ctx.Err() == nil {
			m.alerts.Publish(ctx, p.OrganizationID, notifications.NewMonitoringFailureAlert(p, err, m.clock.Now()))
		}
		return false, err
	}

	if !result.Exceeded {
		return false, nil
	}

	logger.InfoContext(ctx, "precipitation threshold exceeded",
		"amount_inches", result.Amount.String(),
		"source", string(result.Source),
		"confidence", string(result.Confidence),
	)
	m.alerts.Publish(ctx, p.OrganizationID, notifications.NewThresholdAlert(p, result, m.clock.Now()))
	return true, nil
}

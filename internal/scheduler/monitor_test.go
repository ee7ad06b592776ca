package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"braveforms/internal/notifications"
	"braveforms/internal/types"
)

var monitorNow = time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLister struct {
	projects []*types.Project
	err      error
}

func (f *fakeLister) ListMonitorable(context.Context) ([]*types.Project, error) {
	return f.projects, f.err
}

type checkFunc func(ctx context.Context, lat, lon float64, projectID string) (*types.ComplianceCheckResult, error)

type fakeChecker struct {
	fn    checkFunc
	mu    sync.Mutex
	calls []string
}

func (f *fakeChecker) CheckPrecipitation(ctx context.Context, lat, lon float64, projectID string) (*types.ComplianceCheckResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, projectID)
	f.mu.Unlock()
	return f.fn(ctx, lat, lon, projectID)
}

func (f *fakeChecker) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type published struct {
	tenantID string
	alert    types.Alert
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []published
}

func (f *fakeAlerts) Publish(_ context.Context, tenantID string, alert types.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, published{tenantID: tenantID, alert: alert})
}

func (f *fakeAlerts) byProject() map[string]published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]published, len(f.alerts))
	for _, p := range f.alerts {
		out[p.alert.ProjectID] = p
	}
	return out
}

type fakeMetrics struct {
	passes  int
	summary MonitorSummary
}

func (f *fakeMetrics) RecordMonitorPass(_ context.Context, checked, exceeded, failed int, _ time.Duration) {
	f.passes++
	f.summary = MonitorSummary{Checked: checked, Exceeded: exceeded, Failed: failed}
}

func project(id, org string) *types.Project {
	lat, lon := 30.27, -97.74
	return &types.Project{
		ID:             id,
		OrganizationID: org,
		Name:           "Project " + id,
		Status:         types.ProjectStatusActive,
		Latitude:       &lat,
		Longitude:      &lon,
	}
}

func exceededResult(amount string) *types.ComplianceCheckResult {
	return &types.ComplianceCheckResult{
		Exceeded:   true,
		Amount:     decimal.RequireFromString(amount),
		Source:     types.SourcePrimary,
		Confidence: types.ConfidenceHigh,
		WeatherEvent: &types.WeatherEvent{
			ID:                 "wev_1",
			InspectionDeadline: monitorNow.Add(24 * time.Hour),
		},
	}
}

func newMonitor(t *testing.T, lister ProjectLister, checker ComplianceChecker, alerts AlertPublisher, clock clockwork.Clock, metrics Metrics) *ComplianceMonitor {
	t.Helper()
	m, err := NewComplianceMonitor(MonitorConfig{
		Projects:    lister,
		Checker:     checker,
		Alerts:      alerts,
		Metrics:     metrics,
		Clock:       clock,
		Interval:    time.Hour,
		Concurrency: 2,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)
	return m
}

func TestNewComplianceMonitor_RequiresDependencies(t *testing.T) {
	_, err := NewComplianceMonitor(MonitorConfig{})
	assert.Error(t, err)

	_, err = NewComplianceMonitor(MonitorConfig{Projects: &fakeLister{}})
	assert.Error(t, err)

	_, err = NewComplianceMonitor(MonitorConfig{Projects: &fakeLister{}, Checker: &fakeChecker{}})
	assert.Error(t, err)
}

func TestRunOnce_ExceededPublishesThresholdAlert(t *testing.T) {
	lister := &fakeLister{projects: []*types.Project{project("prj_1", "org_a"), project("prj_2", "org_b")}}
	checker := &fakeChecker{fn: func(_ context.Context, _, _ float64, id string) (*types.ComplianceCheckResult, error) {
		if id == "prj_1" {
			return exceededResult("0.251234567"), nil
		}
		return &types.ComplianceCheckResult{Amount: decimal.RequireFromString("0.1"), Source: types.SourcePrimary, Confidence: types.ConfidenceHigh}, nil
	}}
	alerts := &fakeAlerts{}
	metrics := &fakeMetrics{}
	m := newMonitor(t, lister, checker, alerts, clockwork.NewFakeClockAt(monitorNow), metrics)

	summary, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MonitorSummary{Checked: 2, Exceeded: 1, Failed: 0}, summary)
	assert.Equal(t, 1, metrics.passes)
	assert.Equal(t, summary, metrics.summary)

	got := alerts.byProject()
	require.Len(t, got, 1)
	p := got["prj_1"]
	assert.Equal(t, "org_a", p.tenantID)
	assert.Equal(t, types.AlertRainThresholdExceeded, p.alert.Type)
	assert.Equal(t, "org_a", p.alert.OrganizationID)
	assert.Equal(t, "Project prj_1", p.alert.ProjectName)
	assert.Equal(t, types.RainThresholdMessage, p.alert.Message)
	assert.Equal(t, types.SourcePrimary, p.alert.Source)
	require.NotNil(t, p.alert.PrecipitationInches)
	assert.True(t, p.alert.PrecipitationInches.Equal(decimal.RequireFromString("0.251234567")))
	require.NotNil(t, p.alert.InspectionDeadline)
	assert.Equal(t, monitorNow.Add(24*time.Hour), *p.alert.InspectionDeadline)
	assert.Contains(t, p.alert.ID, notifications.AlertIDPrefix)
	assert.Equal(t, monitorNow, p.alert.CreatedAt)
}

func TestRunOnce_FailingProjectDoesNotAbortPass(t *testing.T) {
	const n = 6
	var projects []*types.Project
	for i := 0; i < n; i++ {
		projects = append(projects, project(string(rune('a'+i)), "org_a"))
	}
	failing := "c"

	checker := &fakeChecker{fn: func(_ context.Context, _, _ float64, id string) (*types.ComplianceCheckResult, error) {
		if id == failing {
			return nil, types.NewAppError(types.ErrCodeComplianceStatusUnknown, "unable to determine compliance status", errors.New("pq: connection refused"))
		}
		return exceededResult("0.30"), nil
	}}
	alerts := &fakeAlerts{}
	m := newMonitor(t, &fakeLister{projects: projects}, checker, alerts, clockwork.NewFakeClockAt(monitorNow), nil)

	summary, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MonitorSummary{Checked: n, Exceeded: n - 1, Failed: 1}, summary)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e", "f"}, checker.called())

	got := alerts.byProject()
	require.Len(t, got, n)
	failure := got[failing].alert
	assert.Equal(t, types.AlertMonitoringFailure, failure.Type)
	assert.Equal(t, types.MonitoringFailureMessage, failure.Message)
	assert.Equal(t, "unable to determine compliance status", failure.Error)
	assert.NotContains(t, failure.Error, "connection refused")
	assert.Nil(t, failure.PrecipitationInches)
}

func TestRunOnce_PanickingCheckBecomesFailure(t *testing.T) {
	checker := &fakeChecker{fn: func(_ context.Context, _, _ float64, id string) (*types.ComplianceCheckResult, error) {
		if id == "prj_1" {
			panic("nil map")
		}
		return &types.ComplianceCheckResult{}, nil
	}}
	alerts := &fakeAlerts{}
	lister := &fakeLister{projects: []*types.Project{project("prj_1", "org_a"), project("prj_2", "org_a")}}
	m := newMonitor(t, lister, checker, alerts, clockwork.NewFakeClockAt(monitorNow), nil)

	summary, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MonitorSummary{Checked: 2, Failed: 1}, summary)
	assert.Equal(t, types.AlertMonitoringFailure, alerts.byProject()["prj_1"].alert.Type)
}

func TestRunOnce_SkipsUnmonitorableProjects(t *testing.T) {
	onHold := project("prj_hold", "org_a")
	onHold.Status = types.ProjectStatusOnHold
	noCoords := project("prj_nowhere", "org_a")
	noCoords.Latitude = nil

	checker := &fakeChecker{fn: func(context.Context, float64, float64, string) (*types.ComplianceCheckResult, error) {
		return &types.ComplianceCheckResult{}, nil
	}}
	lister := &fakeLister{projects: []*types.Project{onHold, noCoords, project("prj_1", "org_a")}}
	m := newMonitor(t, lister, checker, &fakeAlerts{}, clockwork.NewFakeClockAt(monitorNow), nil)

	summary, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, []string{"prj_1"}, checker.called())
}

func TestRunOnce_ListFailureIsPassError(t *testing.T) {
	listErr := errors.New("db down")
	m := newMonitor(t, &fakeLister{err: listErr}, &fakeChecker{}, &fakeAlerts{}, clockwork.NewFakeClockAt(monitorNow), nil)

	_, err := m.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, listErr)
}

func TestRunOnce_CancelledContextSuppressesFailureAlerts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	checker := &fakeChecker{fn: func(ctx context.Context, _, _ float64, _ string) (*types.ComplianceCheckResult, error) {
		cancel()
		return nil, ctx.Err()
	}}
	alerts := &fakeAlerts{}
	lister := &fakeLister{projects: []*types.Project{project("prj_1", "org_a")}}
	m := newMonitor(t, lister, checker, alerts, clockwork.NewFakeClockAt(monitorNow), nil)

	_, err := m.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, alerts.byProject())
}

func TestRunOnce_PanicAfterCancelSuppressesFailureAlert(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	checker := &fakeChecker{fn: func(context.Context, float64, float64, string) (*types.ComplianceCheckResult, error) {
		cancel()
		panic("nil map")
	}}
	alerts := &fakeAlerts{}
	lister := &fakeLister{projects: []*types.Project{project("prj_1", "org_a")}}
	m := newMonitor(t, lister, checker, alerts, clockwork.NewFakeClockAt(monitorNow), nil)

	_, err := m.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, alerts.byProject())
}

func TestRun_PassesImmediatelyAndOnEachTick(t *testing.T) {
	var passes atomic.Int32
	checker := &fakeChecker{fn: func(context.Context, float64, float64, string) (*types.ComplianceCheckResult, error) {
		passes.Add(1)
		return &types.ComplianceCheckResult{}, nil
	}}
	clock := clockwork.NewFakeClockAt(monitorNow)
	lister := &fakeLister{projects: []*types.Project{project("prj_1", "org_a")}}
	m := newMonitor(t, lister, checker, &fakeAlerts{}, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return passes.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return passes.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

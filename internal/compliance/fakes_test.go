package compliance

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"braveforms/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource returns a fixed result and records its calls. With block set
// it first waits for the call context to end, like an upstream that hangs
// until the client times out.
type fakeSource struct {
	mu          sync.Mutex
	result      types.SourceResult
	block       bool
	calls       int
	hadDeadline bool
	deadline    time.Time
}

func (f *fakeSource) GetPrecipitation(ctx context.Context, _, _ float64) types.SourceResult {
	f.mu.Lock()
	f.calls++
	f.deadline, f.hadDeadline = ctx.Deadline()
	block, result := f.block, f.result
	f.mu.Unlock()

	if block {
		<-ctx.Done()
	}
	return result
}

func (f *fakeSource) callDeadline() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deadline
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore is an in-memory WeatherEventStore.
type fakeStore struct {
	mu sync.Mutex

	created   []*types.WeatherEvent
	createErr error
	createCtx context.Context

	recent      *types.WeatherEvent
	recentErr   error
	recentSince time.Time

	pending      []*types.WeatherEvent
	pendingOrg   string
	pendingNow   time.Time
	pendingCalls int
}

func (f *fakeStore) Create(ctx context.Context, event *types.WeatherEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCtx = ctx
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, event)
	return nil
}

// FindRecent returns the event with the newest EventDate at or after since,
// considering the preset recent event and every created one.
func (f *fakeStore) FindRecent(_ context.Context, projectID string, since time.Time) (*types.WeatherEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentSince = since
	if f.recentErr != nil {
		return nil, f.recentErr
	}

	candidates := append([]*types.WeatherEvent(nil), f.created...)
	if f.recent != nil {
		candidates = append(candidates, f.recent)
	}
	var newest *types.WeatherEvent
	for _, ev := range candidates {
		if ev.ProjectID != projectID || ev.EventDate.Before(since) {
			continue
		}
		if newest == nil || ev.EventDate.After(newest.EventDate) {
			newest = ev
		}
	}
	return newest, nil
}

func (f *fakeStore) ListPendingInspections(_ context.Context, orgID string, now time.Time) ([]*types.WeatherEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingCalls++
	f.pendingOrg = orgID
	f.pendingNow = now
	return f.pending, nil
}

func (f *fakeStore) createdEvents() []*types.WeatherEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.WeatherEvent(nil), f.created...)
}

// fakeCache is a map-backed ReadingCache honouring the since bound.
type fakeCache struct {
	mu        sync.Mutex
	readings  map[string]types.PrecipitationReading
	putErr    error
	getErr    error
	getCtxErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{readings: make(map[string]types.PrecipitationReading)}
}

func (f *fakeCache) Put(_ context.Context, r types.PrecipitationReading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.readings[r.ProjectID] = r
	return nil
}

func (f *fakeCache) Latest(ctx context.Context, projectID string, since time.Time) (*types.PrecipitationReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCtxErr = ctx.Err()
	if f.getErr != nil {
		return nil, f.getErr
	}
	r, ok := f.readings[projectID]
	if !ok || r.ObservedAt.Before(since) {
		return nil, nil
	}
	return &r, nil
}

// fakeMetrics counts calls.
type fakeMetrics struct {
	mu             sync.Mutex
	checks         []types.WeatherSource
	sourceFailures []types.WeatherSource
	unknown        int
}

func (f *fakeMetrics) RecordCheck(_ context.Context, source types.WeatherSource, _ types.Confidence, _ bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, source)
}

func (f *fakeMetrics) RecordSourceFailure(_ context.Context, source types.WeatherSource, _ types.SourceState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sourceFailures = append(f.sourceFailures, source)
}

func (f *fakeMetrics) RecordStatusUnknown(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unknown++
}

package compliance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"braveforms/internal/types"
)

func newTestRecorder(t *testing.T, store *fakeStore, cache ReadingCache, clock clockwork.Clock) *Recorder {
	t.Helper()
	r, err := NewRecorder(RecorderConfig{
		Store:     store,
		Cache:     cache,
		Deadlines: NewDeadlineCalculator(time.UTC),
		Clock:     clock,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	return r
}

func TestRecorder_Record(t *testing.T) {
	clock := clockwork.NewFakeClockAt(utc(8, 10, 0))
	store := &fakeStore{}
	cache := newFakeCache()
	r := newTestRecorder(t, store, cache, clock)

	amount := decimal.RequireFromString("0.251234567")
	ev, err := r.Record(context.Background(), RecordInput{
		ProjectID:  "proj_1",
		Amount:     amount,
		Source:     types.SourcePrimary,
		Confidence: types.ConfidenceHigh,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(ev.ID, WeatherEventIDPrefix))
	assert.Equal(t, "proj_1", ev.ProjectID)
	assert.Equal(t, "0.251234567", ev.PrecipitationInches.String())
	assert.Equal(t, utc(8, 10, 0), ev.EventDate)
	assert.Equal(t, utc(9, 10, 0), ev.InspectionDeadline)
	assert.False(t, ev.InspectionCompleted)
	assert.False(t, ev.NotificationsSent)
	assert.Equal(t, types.SourcePrimary, ev.Source)
	require.Len(t, store.createdEvents(), 1)

	cached, err := cache.Latest(context.Background(), "proj_1", utc(8, 0, 0))
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.True(t, cached.Amount.Equal(amount))
	assert.Equal(t, types.ConfidenceHigh, cached.Confidence)
}

func TestRecorder_AppendOnly(t *testing.T) {
	store := &fakeStore{}
	r := newTestRecorder(t, store, nil, clockwork.NewFakeClockAt(utc(8, 10, 0)))

	in := RecordInput{ProjectID: "proj_1", Amount: decimal.RequireFromString("0.3"), Source: types.SourcePrimary}
	first, err := r.Record(context.Background(), in)
	require.NoError(t, err)
	second, err := r.Record(context.Background(), in)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, store.createdEvents(), 2)
}

func TestRecorder_WriteSurvivesCallerCancellation(t *testing.T) {
	store := &fakeStore{}
	r := newTestRecorder(t, store, nil, clockwork.NewFakeClockAt(utc(8, 10, 0)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Record(ctx, RecordInput{ProjectID: "proj_1", Amount: decimal.RequireFromString("0.5"), Source: types.SourcePrimary})
	require.NoError(t, err)
	require.NotNil(t, store.createCtx)
	assert.NoError(t, store.createCtx.Err())
	_, hasDeadline := store.createCtx.Deadline()
	assert.True(t, hasDeadline)
}

func TestRecorder_PersistenceFailurePropagates(t *testing.T) {
	dbErr := types.NewAppError(types.ErrCodeInternalDB, "failed to create weather event", errors.New("connection reset"))
	store := &fakeStore{createErr: dbErr}
	cache := newFakeCache()
	r := newTestRecorder(t, store, cache, clockwork.NewFakeClockAt(utc(8, 10, 0)))

	ev, err := r.Record(context.Background(), RecordInput{ProjectID: "proj_1", Amount: decimal.RequireFromString("0.5")})
	assert.Nil(t, ev)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
	assert.Empty(t, cache.readings, "nothing cached when the write failed")
}

func TestRecorder_CacheFailureDoesNotFailRecord(t *testing.T) {
	store := &fakeStore{}
	cache := newFakeCache()
	cache.putErr = errors.New("redis down")
	r := newTestRecorder(t, store, cache, clockwork.NewFakeClockAt(utc(8, 10, 0)))

	ev, err := r.Record(context.Background(), RecordInput{ProjectID: "proj_1", Amount: decimal.RequireFromString("0.5")})
	require.NoError(t, err)
	assert.NotNil(t, ev)
}

func TestRecorder_ExplicitEventTime(t *testing.T) {
	store := &fakeStore{}
	r := newTestRecorder(t, store, nil, clockwork.NewFakeClockAt(utc(8, 10, 0)))

	ev, err := r.Record(context.Background(), RecordInput{
		ProjectID: "proj_1",
		Amount:    decimal.RequireFromString("0.4"),
		Source:    types.SourceManual,
		EventTime: utc(5, 18, 0), // Friday evening
	})
	require.NoError(t, err)
	assert.Equal(t, utc(5, 18, 0), ev.EventDate)
	assert.Equal(t, utc(8, 7, 0), ev.InspectionDeadline)
}

func TestNewRecorder_RequiresStore(t *testing.T) {
	_, err := NewRecorder(RecorderConfig{Deadlines: NewDeadlineCalculator(nil)})
	assert.Error(t, err)
}

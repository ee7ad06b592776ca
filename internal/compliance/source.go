package compliance

import (
	"context"
	"errors"
	"time"

	"braveforms/internal/types"
)

// ErrNoSecondarySource is returned by the fallback chain when the primary is
// unavailable and no secondary provider is configured. The orchestrator
// treats it like a secondary failure and moves to the cache.
var ErrNoSecondarySource = errors.New("primary unavailable and no secondary precipitation source configured")

// ErrSourceUnavailable marks a source that reported no usable data.
var ErrSourceUnavailable = errors.New("precipitation source unavailable")

// PrecipitationSource returns the total precipitation in inches for the
// trailing 24 hours at a point.
//
// Implementations must never map a transport or parse failure to a zero
// amount. A primary source reports "no data here" or a timeout as
// SourceStateUnavailable; a secondary source reports every failure as
// SourceStateFailed.
type PrecipitationSource interface {
	GetPrecipitation(ctx context.Context, lat, lon float64) types.SourceResult
}

// WeatherEventStore persists WeatherEvents.
type WeatherEventStore interface {
	// Create inserts the event. The row is append-only.
	Create(ctx context.Context, event *types.WeatherEvent) error

	// FindRecent returns the event for projectID with the newest EventDate
	// at or after since, or (nil, nil) when there is none.
	FindRecent(ctx context.Context, projectID string, since time.Time) (*types.WeatherEvent, error)

	// ListPendingInspections returns events of the organization's projects
	// with an open inspection whose deadline is after now, soonest first.
	ListPendingInspections(ctx context.Context, organizationID string, now time.Time) ([]*types.WeatherEvent, error)
}

// ReadingCache holds the latest known reading per project for degraded mode.
type ReadingCache interface {
	Put(ctx context.Context, reading types.PrecipitationReading) error

	// Latest returns the newest reading for projectID observed at or after
	// since, or (nil, nil) on a miss.
	Latest(ctx context.Context, projectID string, since time.Time) (*types.PrecipitationReading, error)
}

// Metrics receives check outcomes. Implementations must not block.
type Metrics interface {
	RecordCheck(ctx context.Context, source types.WeatherSource, confidence types.Confidence, exceeded bool)
	RecordSourceFailure(ctx context.Context, source types.WeatherSource, state types.SourceState)
	RecordStatusUnknown(ctx context.Context)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordCheck(context.Context, types.WeatherSource, types.Confidence, bool)    {}
func (NopMetrics) RecordSourceFailure(context.Context, types.WeatherSource, types.SourceState) {}
func (NopMetrics) RecordStatusUnknown(context.Context)                                         {}

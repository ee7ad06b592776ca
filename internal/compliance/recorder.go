package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"braveforms/internal/types"
)

// WeatherEventIDPrefix prefixes generated WeatherEvent identifiers.
const WeatherEventIDPrefix = "wev_"

// DefaultRecordTimeout bounds a WeatherEvent write once it has started.
const DefaultRecordTimeout = 10 * time.Second

// RecordInput describes an exceedance to persist.
type RecordInput struct {
	ProjectID  string
	Amount     decimal.Decimal
	Source     types.WeatherSource
	Confidence types.Confidence
	Latitude   float64
	Longitude  float64
	// EventTime defaults to the recorder clock when zero.
	EventTime time.Time
}

// RecorderConfig holds the dependencies of a Recorder.
type RecorderConfig struct {
	Store     WeatherEventStore
	Cache     ReadingCache // optional
	Deadlines *DeadlineCalculator
	Clock     clockwork.Clock
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Recorder persists exceedances as WeatherEvents. It is the only writer of
// WeatherEvent rows.
type Recorder struct {
	store     WeatherEventStore
	cache     ReadingCache
	deadlines *DeadlineCalculator
	clock     clockwork.Clock
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRecorder creates a Recorder. Store and Deadlines are required.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("compliance: recorder requires a weather event store")
	}
	if cfg.Deadlines == nil {
		return nil, fmt.Errorf("compliance: recorder requires a deadline calculator")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRecordTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recorder{
		store:     cfg.Store,
		cache:     cfg.Cache,
		deadlines: cfg.Deadlines,
		clock:     cfg.Clock,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}, nil
}

// Record creates a WeatherEvent with a business-hours deadline.
//
// The write is detached from the caller's cancellation: once the recorder
// has been reached, a disconnecting client cannot leave a detected
// exceedance unrecorded. A persistence failure is returned to the caller and
// must never be reported as "not exceeded".
func (r *Recorder) Record(ctx context.Context, in RecordInput) (*types.WeatherEvent, error) {
	if in.ProjectID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "project_id is required to record a weather event", nil)
	}

	now := r.clock.Now().UTC()
	eventTime := in.EventTime
	if eventTime.IsZero() {
		eventTime = now
	}

	event := &types.WeatherEvent{
		ID:                  WeatherEventIDPrefix + uuid.NewString(),
		ProjectID:           in.ProjectID,
		PrecipitationInches: in.Amount,
		EventDate:           eventTime.UTC(),
		InspectionDeadline:  r.deadlines.ComputeDeadline(eventTime).UTC(),
		Source:              in.Source,
		InspectionCompleted: false,
		NotificationsSent:   false,
		CreatedAt:           now,
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.store.Create(writeCtx, event); err != nil {
		r.logger.ErrorContext(ctx, "failed to record weather event",
			"project_id", in.ProjectID,
			"precipitation_inches", in.Amount.String(),
			"source", in.Source,
			"error", err,
		)
		return nil, err
	}

	r.logger.InfoContext(ctx, "weather event recorded",
		"weather_event_id", event.ID,
		"project_id", event.ProjectID,
		"precipitation_inches", event.PrecipitationInches.String(),
		"source", event.Source,
		"confidence", in.Confidence,
		"latitude", in.Latitude,
		"longitude", in.Longitude,
		"inspection_deadline", event.InspectionDeadline,
	)

	if r.cache != nil {
		reading := types.PrecipitationReading{
			ProjectID:  event.ProjectID,
			Amount:     event.PrecipitationInches,
			Source:     event.Source,
			Confidence: in.Confidence,
			ObservedAt: event.EventDate,
		}
		if err := r.cache.Put(writeCtx, reading); err != nil {
			r.logger.WarnContext(ctx, "failed to cache precipitation reading",
				"project_id", event.ProjectID,
				"error", err,
			)
		}
	}

	return event, nil
}

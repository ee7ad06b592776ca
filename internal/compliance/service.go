package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"braveforms/internal/types"
)

const (
	// DefaultCacheMaxAge is how old a reading may be and still serve a
	// degraded-mode answer.
	DefaultCacheMaxAge = 4 * time.Hour

	// DefaultSourceTimeout bounds each adapter call.
	DefaultSourceTimeout = 15 * time.Second

	// DefaultLookupTimeout bounds the degraded-path cache and store lookup.
	DefaultLookupTimeout = 5 * time.Second

	// StatusUnknownMessage is returned when no source and no cache can answer.
	StatusUnknownMessage = "unable to determine compliance status, manual verification required"

	// manualReadingMaxSkew tolerates small clock differences between a field
	// device and the server.
	manualReadingMaxSkew = 5 * time.Minute
)

// ServiceConfig holds the dependencies of the compliance check orchestrator.
type ServiceConfig struct {
	Primary   PrecipitationSource
	Secondary PrecipitationSource // nil disables the commercial fallback

	Evaluator *ThresholdEvaluator
	Deadlines *DeadlineCalculator
	Recorder  *Recorder
	Store     WeatherEventStore
	Cache     ReadingCache // optional; Store is always consulted on a miss

	CacheMaxAge   time.Duration
	SourceTimeout time.Duration
	LookupTimeout time.Duration

	Metrics Metrics
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// Service is the compliance check orchestrator. It is safe for concurrent
// use; concurrent checks for the same project are not coordinated and may
// each record an event.
type Service struct {
	primary       PrecipitationSource
	secondary     PrecipitationSource
	evaluator     *ThresholdEvaluator
	deadlines     *DeadlineCalculator
	recorder      *Recorder
	store         WeatherEventStore
	cache         ReadingCache
	cacheMaxAge   time.Duration
	sourceTimeout time.Duration
	lookupTimeout time.Duration
	metrics       Metrics
	clock         clockwork.Clock
	logger        *slog.Logger
}

// NewService validates cfg and builds the orchestrator. A nil Evaluator is
// rejected, so a misconfigured threshold can never reach a check.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Primary == nil:
		return nil, errors.New("compliance: primary precipitation source is required")
	case cfg.Evaluator == nil:
		return nil, errors.New("compliance: threshold evaluator is required")
	case cfg.Deadlines == nil:
		return nil, errors.New("compliance: deadline calculator is required")
	case cfg.Recorder == nil:
		return nil, errors.New("compliance: recorder is required")
	case cfg.Store == nil:
		return nil, errors.New("compliance: weather event store is required")
	}
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = DefaultCacheMaxAge
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Service{
		primary:       cfg.Primary,
		secondary:     cfg.Secondary,
		evaluator:     cfg.Evaluator,
		deadlines:     cfg.Deadlines,
		recorder:      cfg.Recorder,
		store:         cfg.Store,
		cache:         cfg.Cache,
		cacheMaxAge:   cfg.CacheMaxAge,
		sourceTimeout: cfg.SourceTimeout,
		lookupTimeout: cfg.LookupTimeout,
		metrics:       cfg.Metrics,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
	}, nil
}

// resolvedAmount is a live reading with its provenance.
type resolvedAmount struct {
	amount     decimal.Decimal
	source     types.WeatherSource
	confidence types.Confidence
	detail     string
}

// CheckPrecipitation runs the fallback chain for a coordinate and evaluates
// the regulatory threshold.
//
// Primary value: HIGH. Primary unavailable: secondary value, MEDIUM. Any
// failure after that: a cached reading no older than the max age, LOW and
// never requiring inspection. No cache: compliance_status_unknown. An
// exceedance from a live source is recorded before the result is returned;
// a recording failure fails the check.
func (s *Service) CheckPrecipitation(ctx context.Context, lat, lon float64, projectID string) (*types.ComplianceCheckResult, error) {
	if err := validateCheckInput(lat, lon, projectID); err != nil {
		return nil, err
	}

	logger := s.logger.With("project_id", projectID)

	resolved, sourceErr := s.resolve(ctx, lat, lon, logger)
	if sourceErr != nil {
		// An abandoned check has no answer to give. A caller deadline hit
		// while sources timed out still gets the degraded answer.
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return s.degraded(ctx, projectID, sourceErr, logger)
	}

	exceeded := s.evaluator.Exceeds(resolved.amount)
	result := &types.ComplianceCheckResult{
		Exceeded:   exceeded,
		Amount:     resolved.amount,
		Source:     resolved.source,
		Confidence: resolved.confidence,
	}

	if exceeded {
		// Last point at which the caller may abandon the check.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		event, err := s.recorder.Record(ctx, RecordInput{
			ProjectID:  projectID,
			Amount:     resolved.amount,
			Source:     resolved.source,
			Confidence: resolved.confidence,
			Latitude:   lat,
			Longitude:  lon,
		})
		if err != nil {
			return nil, err
		}
		result.WeatherEvent = event
		result.RequiresInspection = s.deadlines.IsWorkingHours(s.clock.Now())
	}

	s.metrics.RecordCheck(ctx, result.Source, result.Confidence, result.Exceeded)
	logger.InfoContext(ctx, "compliance check completed",
		"amount_inches", result.Amount.String(),
		"source", result.Source,
		"source_detail", resolved.detail,
		"confidence", result.Confidence,
		"exceeded", result.Exceeded,
		"requires_inspection", result.RequiresInspection,
	)

	return result, nil
}

// resolve walks primary then secondary. The returned error is non-nil when
// neither produced a value and the cache path must be taken.
func (s *Service) resolve(ctx context.Context, lat, lon float64, logger *slog.Logger) (*resolvedAmount, error) {
	pending := 1
	if s.secondary != nil {
		pending = 2
	}

	primary := s.call(ctx, s.primary, lat, lon, pending)
	switch primary.State {
	case types.SourceStateValue:
		return &resolvedAmount{
			amount:     primary.Amount,
			source:     types.SourcePrimary,
			confidence: types.ConfidenceHigh,
			detail:     primary.Detail,
		}, nil
	case types.SourceStateFailed:
		s.metrics.RecordSourceFailure(ctx, types.SourcePrimary, primary.State)
		logger.WarnContext(ctx, "primary precipitation source failed", "error", primary.Err)
		return nil, fmt.Errorf("primary source: %w", primary.Err)
	case types.SourceStateUnavailable:
		s.metrics.RecordSourceFailure(ctx, types.SourcePrimary, primary.State)
		logger.InfoContext(ctx, "primary precipitation source unavailable, falling back", "reason", primary.Reason)
	default:
		return nil, fmt.Errorf("primary source: unexpected state %s", primary.State)
	}

	if s.secondary == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSecondarySource, primary.Reason)
	}

	secondary := s.call(ctx, s.secondary, lat, lon, 1)
	switch secondary.State {
	case types.SourceStateValue:
		return &resolvedAmount{
			amount:     secondary.Amount,
			source:     types.SourceSecondary,
			confidence: types.ConfidenceMedium,
			detail:     secondary.Detail,
		}, nil
	case types.SourceStateUnavailable:
		s.metrics.RecordSourceFailure(ctx, types.SourceSecondary, secondary.State)
		logger.WarnContext(ctx, "secondary precipitation source unavailable", "reason", secondary.Reason)
		return nil, fmt.Errorf("secondary source: %w: %s", ErrSourceUnavailable, secondary.Reason)
	default:
		s.metrics.RecordSourceFailure(ctx, types.SourceSecondary, types.SourceStateFailed)
		logger.WarnContext(ctx, "secondary precipitation source failed", "error", secondary.Err)
		return nil, fmt.Errorf("secondary source: %w", secondary.Err)
	}
}

// call bounds a single adapter call by the source timeout. Under a caller
// deadline the call also gets no more than an equal share of the time left,
// counting the pending source calls plus one share kept for the degraded
// lookup.
func (s *Service) call(ctx context.Context, src PrecipitationSource, lat, lon float64, pending int) types.SourceResult {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout(ctx, pending))
	defer cancel()
	return src.GetPrecipitation(callCtx, lat, lon)
}

func (s *Service) callTimeout(ctx context.Context, pending int) time.Duration {
	timeout := s.sourceTimeout
	deadline, ok := ctx.Deadline()
	if !ok {
		return timeout
	}
	if share := time.Until(deadline) / time.Duration(pending+1); share < timeout {
		timeout = share
	}
	return timeout
}

// degraded serves the newest reading no older than the cache max age. The
// lookup runs detached from caller cancellation under its own timeout.
func (s *Service) degraded(parent context.Context, projectID string, sourceErr error, logger *slog.Logger) (*types.ComplianceCheckResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.lookupTimeout)
	defer cancel()

	since := s.clock.Now().Add(-s.cacheMaxAge)

	reading, lookupErr := s.lookupRecent(ctx, projectID, since, logger)
	if reading == nil {
		s.metrics.RecordStatusUnknown(ctx)
		logger.ErrorContext(ctx, "compliance status unknown",
			"source_error", sourceErr,
			"lookup_error", lookupErr,
		)
		return nil, types.NewAppError(types.ErrCodeComplianceStatusUnknown, StatusUnknownMessage,
			errors.Join(sourceErr, lookupErr)).
			WithDetails(map[string]any{"project_id": projectID})
	}

	result := &types.ComplianceCheckResult{
		Exceeded:           s.evaluator.Exceeds(reading.Amount),
		Amount:             reading.Amount,
		RequiresInspection: false,
		Source:             types.SourceCached,
		Confidence:         types.ConfidenceLow,
	}

	s.metrics.RecordCheck(ctx, result.Source, result.Confidence, result.Exceeded)
	logger.WarnContext(ctx, "serving cached precipitation reading",
		"amount_inches", reading.Amount.String(),
		"observed_at", reading.ObservedAt,
		"original_source", reading.Source,
		"exceeded", result.Exceeded,
		"source_error", sourceErr,
	)

	return result, nil
}

// lookupRecent consults the reading cache, then the WeatherEvent store.
func (s *Service) lookupRecent(ctx context.Context, projectID string, since time.Time, logger *slog.Logger) (*types.PrecipitationReading, error) {
	if s.cache != nil {
		reading, err := s.cache.Latest(ctx, projectID, since)
		if err != nil {
			logger.WarnContext(ctx, "reading cache lookup failed", "error", err)
		} else if reading != nil {
			return reading, nil
		}
	}

	event, err := s.store.FindRecent(ctx, projectID, since)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, nil
	}
	return &types.PrecipitationReading{
		ProjectID:  event.ProjectID,
		Amount:     event.PrecipitationInches,
		Source:     event.Source,
		Confidence: types.ConfidenceLow,
		ObservedAt: event.EventDate,
	}, nil
}

// ListPendingInspections returns the organization's open inspections whose
// deadline has not passed, soonest deadline first.
func (s *Service) ListPendingInspections(ctx context.Context, organizationID string) ([]*types.WeatherEvent, error) {
	if organizationID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "organization_id is required", nil)
	}
	return s.store.ListPendingInspections(ctx, organizationID, s.clock.Now())
}

// RecordManualReading evaluates a rain gauge reading entered on site. An
// exceedance is recorded with source manual and a deadline computed from
// observedAt. A zero observedAt means now.
func (s *Service) RecordManualReading(ctx context.Context, projectID string, amount decimal.Decimal, observedAt time.Time) (*types.ComplianceCheckResult, error) {
	if projectID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "project_id is required", nil)
	}
	if amount.IsNegative() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidAmount, "precipitation amount must not be negative", nil)
	}

	now := s.clock.Now()
	if observedAt.IsZero() {
		observedAt = now
	}
	if observedAt.After(now.Add(manualReadingMaxSkew)) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidRequest, "observed_at must not be in the future", nil)
	}

	exceeded := s.evaluator.Exceeds(amount)
	result := &types.ComplianceCheckResult{
		Exceeded:   exceeded,
		Amount:     amount,
		Source:     types.SourceManual,
		Confidence: types.ConfidenceHigh,
	}

	if exceeded {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		event, err := s.recorder.Record(ctx, RecordInput{
			ProjectID:  projectID,
			Amount:     amount,
			Source:     types.SourceManual,
			Confidence: types.ConfidenceHigh,
			EventTime:  observedAt,
		})
		if err != nil {
			return nil, err
		}
		result.WeatherEvent = event
		result.RequiresInspection = s.deadlines.IsWorkingHours(now)
	}

	s.metrics.RecordCheck(ctx, result.Source, result.Confidence, result.Exceeded)
	s.logger.InfoContext(ctx, "manual precipitation reading evaluated",
		"project_id", projectID,
		"amount_inches", amount.String(),
		"observed_at", observedAt,
		"exceeded", exceeded,
	)

	return result, nil
}

func validateCheckInput(lat, lon float64, projectID string) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return types.NewAppError(types.ErrCodeValidationInvalidLat, "latitude must be between -90 and 90", nil)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return types.NewAppError(types.ErrCodeValidationInvalidLon, "longitude must be between -180 and 180", nil)
	}
	if projectID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "project_id is required", nil)
	}
	return nil
}

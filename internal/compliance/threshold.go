// Package compliance implements the weather-triggered inspection rule: the
// EPA CGP 0.25 inch threshold, the business-hours inspection deadline, the
// append-only WeatherEvent recorder and the check orchestrator that ties the
// precipitation sources together.
package compliance

import (
	"github.com/shopspring/decimal"

	"braveforms/internal/config"
	"braveforms/internal/types"
)

// ThresholdEvaluator decides exceedance against the regulatory threshold.
// It can only be constructed with a threshold of exactly 0.25 inches.
type ThresholdEvaluator struct {
	threshold decimal.Decimal
}

// NewThresholdEvaluator validates threshold and returns an evaluator. Any
// value other than 0.25 returns internal_threshold_misconfigured and no
// evaluator, so no orchestrator can be built on a wrong rule.
func NewThresholdEvaluator(threshold decimal.Decimal) (*ThresholdEvaluator, error) {
	if err := config.ValidateThreshold(threshold); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalThresholdMisconfig,
			"compliance threshold is misconfigured", err)
	}
	return &ThresholdEvaluator{threshold: threshold}, nil
}

// Exceeds reports amount >= threshold with exact decimal comparison. There is
// no epsilon and no rounding: 0.25 exceeds, 0.2499999 does not.
func (e *ThresholdEvaluator) Exceeds(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(e.threshold)
}

// Threshold returns the configured threshold in inches.
func (e *ThresholdEvaluator) Threshold() decimal.Decimal {
	return e.threshold
}

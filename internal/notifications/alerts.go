package notifications

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"braveforms/internal/types"
)

// AlertIDPrefix prefixes generated alert ids.
const AlertIDPrefix = "alt_"

// NewThresholdAlert builds the RAIN_THRESHOLD_EXCEEDED alert for a check
// result on project p.
func NewThresholdAlert(p *types.Project, result *types.ComplianceCheckResult, now time.Time) types.Alert {
	amount := result.Amount
	alert := types.Alert{
		ID:                  AlertIDPrefix + uuid.NewString(),
		Type:                types.AlertRainThresholdExceeded,
		OrganizationID:      p.OrganizationID,
		ProjectID:           p.ID,
		ProjectName:         p.Name,
		PrecipitationInches: &amount,
		Source:              result.Source,
		Confidence:          result.Confidence,
		Message:             types.RainThresholdMessage,
		CreatedAt:           now.UTC(),
	}
	if result.WeatherEvent != nil {
		deadline := result.WeatherEvent.InspectionDeadline
		alert.InspectionDeadline = &deadline
	}
	return alert
}

// NewMonitoringFailureAlert builds the MONITORING_FAILURE alert for a
// project whose check failed. Only the client-safe message of err is
// included.
func NewMonitoringFailureAlert(p *types.Project, err error, now time.Time) types.Alert {
	return types.Alert{
		ID:             AlertIDPrefix + uuid.NewString(),
		Type:           types.AlertMonitoringFailure,
		OrganizationID: p.OrganizationID,
		ProjectID:      p.ID,
		ProjectName:    p.Name,
		Message:        types.MonitoringFailureMessage,
		Error:          publicError(err),
		CreatedAt:      now.UTC(),
	}
}

func publicError(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an unexpected error occurred"
}

// Package notifications dispatches compliance alerts. Dispatch is best
// effort: a failed notification is logged by the fan-out and never undoes or
// fails the compliance record that produced it.
package notifications

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RainThresholdNotice is the payload of a rain-threshold notification.
type RainThresholdNotice struct {
	AlertID             string          `json:"alert_id"`
	OrganizationID      string          `json:"organization_id"`
	ProjectID           string          `json:"project_id"`
	ProjectName         string          `json:"project_name"`
	PrecipitationInches decimal.Decimal `json:"precipitation_inches"`
	InspectionDeadline  *time.Time      `json:"inspection_deadline,omitempty"`
	Message             string          `json:"message"`
}

// Notifier delivers rain-threshold notifications to a traditional channel
// (email, SMS) through whatever transport the implementation wraps.
type Notifier interface {
	SendRainThresholdAlert(ctx context.Context, notice RainThresholdNotice) error
}

package notifications

import (
	"context"
	"log/slog"

	"braveforms/internal/realtime"
	"braveforms/internal/types"
)

// FanOut delivers an alert to the notification channel and to the tenant's
// real-time channel. The two deliveries are independent: a failure in one
// never prevents the other.
type FanOut struct {
	notifier  Notifier
	publisher realtime.Publisher
	logger    *slog.Logger
}

// NewFanOut creates a FanOut. Either channel may be nil, in which case it is
// skipped.
func NewFanOut(notifier Notifier, publisher realtime.Publisher, logger *slog.Logger) *FanOut {
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
	}
}

// Publish delivers alert for tenantID. Only rain-threshold alerts go to the
// notification channel; every alert goes to real-time subscribers. Errors are
// logged and not returned.
func (f *FanOut) Publish(ctx context.Context, tenantID string, alert types.Alert) {
	logger := f.logger.With(
		"organization_id", tenantID,
		"project_id", alert.ProjectID,
		"alert_id", alert.ID,
		"alert_type", string(alert.Type),
	)

	if alert.OrganizationID == "" {
		alert.OrganizationID = tenantID
	}

	if f.notifier != nil && alert.Type == types.AlertRainThresholdExceeded {
		if err := f.notifier.SendRainThresholdAlert(ctx, noticeFromAlert(alert)); err != nil {
			logger.ErrorContext(ctx, "failed to send rain threshold notification", "error", err)
		}
	}

	if f.publisher != nil {
		if err := f.publisher.Publish(ctx, tenantID, alert); err != nil {
			logger.ErrorContext(ctx, "failed to publish real-time alert",
				"channel", realtime.ChannelKey(tenantID),
				"error", err,
			)
		}
	}
}

func noticeFromAlert(alert types.Alert) RainThresholdNotice {
	notice := RainThresholdNotice{
		AlertID:            alert.ID,
		OrganizationID:     alert.OrganizationID,
		ProjectID:          alert.ProjectID,
		ProjectName:        alert.ProjectName,
		InspectionDeadline: alert.InspectionDeadline,
		Message:            alert.Message,
	}
	if alert.PrecipitationInches != nil {
		notice.PrecipitationInches = *alert.PrecipitationInches
	}
	return notice
}

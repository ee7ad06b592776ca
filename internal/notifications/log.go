package notifications

import (
	"context"
	"log/slog"
)

// LogNotifier writes notifications to the structured log. It is used when no
// notification queue is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendRainThresholdAlert logs the notice and never fails.
func (n *LogNotifier) SendRainThresholdAlert(ctx context.Context, notice RainThresholdNotice) error {
	n.logger.InfoContext(ctx, "rain threshold notification",
		"alert_id", notice.AlertID,
		"organization_id", notice.OrganizationID,
		"project_id", notice.ProjectID,
		"project_name", notice.ProjectName,
		"amount_inches", notice.PrecipitationInches.String(),
	)
	return nil
}

package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// MessageTypeRainThreshold tags rain-threshold messages on the queue.
const MessageTypeRainThreshold = "rain_threshold_alert"

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier enqueues notifications for the delivery workers that own email
// and SMS.
type SQSNotifier struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSNotifier creates a notifier targeting queueURL.
func NewSQSNotifier(client SQSSender, queueURL string, logger *slog.Logger) *SQSNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSNotifier{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// SendRainThresholdAlert serializes the notice and sends it to the queue.
// The organization and message type travel as message attributes so that
// consumers can route without parsing the body.
func (n *SQSNotifier) SendRainThresholdAlert(ctx context.Context, notice RainThresholdNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("sqs notifier: failed to marshal notice: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(MessageTypeRainThreshold),
			},
			"organization_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(notice.OrganizationID),
			},
		},
	}

	out, err := n.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("sqs notifier: failed to send message to %s: %w", n.queueURL, err)
	}

	n.logger.InfoContext(ctx, "notification message published",
		"alert_id", notice.AlertID,
		"project_id", notice.ProjectID,
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}

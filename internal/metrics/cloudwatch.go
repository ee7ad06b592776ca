package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"braveforms/internal/types"
)

// DefaultNamespace is the CloudWatch namespace used when none is configured.
const DefaultNamespace = "BrAveForms/Compliance"

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch emits metrics with PutMetricData. Failures are logged and never
// surface to the caller.
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatch creates a CloudWatch recorder for namespace.
func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordCheck counts a completed check by source, confidence and outcome.
func (m *CloudWatch) RecordCheck(ctx context.Context, source types.WeatherSource, confidence types.Confidence, exceeded bool) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricComplianceCheck),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(DimSource, string(source)),
			dim(DimConfidence, string(confidence)),
			dim(DimExceeded, strconv.FormatBool(exceeded)),
		},
	})
}

// RecordSourceFailure counts a source result that was not a value.
func (m *CloudWatch) RecordSourceFailure(ctx context.Context, source types.WeatherSource, state types.SourceState) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricSourceFailure),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(DimSource, string(source)),
			dim(DimState, state.String()),
		},
	})
}

// RecordStatusUnknown counts checks that ended with no usable reading.
func (m *CloudWatch) RecordStatusUnknown(ctx context.Context) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricStatusUnknown),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// RecordMonitorPass emits the counts and duration of one monitor pass in a
// single PutMetricData call.
func (m *CloudWatch) RecordMonitorPass(ctx context.Context, checked, exceeded, failed int, duration time.Duration) {
	m.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricMonitorChecked),
			Value:      aws.Float64(float64(checked)),
			Unit:       cwtypes.StandardUnitCount,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricMonitorExceeded),
			Value:      aws.Float64(float64(exceeded)),
			Unit:       cwtypes.StandardUnitCount,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricMonitorFailed),
			Value:      aws.Float64(float64(failed)),
			Unit:       cwtypes.StandardUnitCount,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricMonitorPassDuration),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
		},
	)
}

// RecordRequest emits API request count and latency.
func (m *CloudWatch) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(DimMethod, method),
		dim(DimEndpoint, endpoint),
		dim(DimStatus, status),
	}
	m.put(context.Background(),
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPIRequest),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	)
}

func (m *CloudWatch) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to put metric data",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// Package metrics records compliance telemetry. The same events are exposed
// through CloudWatch (Lambda deployments) or Prometheus (long-running API
// process); Nop discards them.
package metrics

import (
	"context"
	"time"

	"braveforms/internal/types"
)

// Metric names shared by every backend.
const (
	MetricComplianceCheck     = "ComplianceCheck"
	MetricSourceFailure       = "PrecipitationSourceFailure"
	MetricStatusUnknown       = "ComplianceStatusUnknown"
	MetricMonitorChecked      = "MonitorProjectsChecked"
	MetricMonitorExceeded     = "MonitorProjectsExceeded"
	MetricMonitorFailed       = "MonitorProjectsFailed"
	MetricMonitorPassDuration = "MonitorPassDuration"
	MetricAPIRequest          = "APIRequest"
	MetricAPILatency          = "APILatency"
)

// Dimension names.
const (
	DimSource     = "Source"
	DimConfidence = "Confidence"
	DimExceeded   = "Exceeded"
	DimState      = "State"
	DimMethod     = "Method"
	DimEndpoint   = "Endpoint"
	DimStatus     = "Status"
)

// Nop discards every metric.
type Nop struct{}

func (Nop) RecordCheck(context.Context, types.WeatherSource, types.Confidence, bool)    {}
func (Nop) RecordSourceFailure(context.Context, types.WeatherSource, types.SourceState) {}
func (Nop) RecordStatusUnknown(context.Context)                                         {}
func (Nop) RecordMonitorPass(context.Context, int, int, int, time.Duration)             {}
func (Nop) RecordRequest(string, string, string, time.Duration)                         {}

package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// WeatherSource identifies where a precipitation amount came from.
type WeatherSource string

const (
	SourcePrimary   WeatherSource = "primary"   // NOAA observation network
	SourceSecondary WeatherSource = "secondary" // commercial weather API
	SourceManual    WeatherSource = "manual"    // rain gauge reading entered on site
	SourceCached    WeatherSource = "cached"    // degraded-mode cached reading
)

// Valid reports whether s is one of the known sources.
func (s WeatherSource) Valid() bool {
	switch s {
	case SourcePrimary, SourceSecondary, SourceManual, SourceCached:
		return true
	}
	return false
}

// Confidence labels how authoritative a reading is. It is a label, not a
// statistical measure.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ProjectStatus is the lifecycle state of a construction project.
type ProjectStatus string

const (
	ProjectStatusPlanning  ProjectStatus = "PLANNING"
	ProjectStatusActive    ProjectStatus = "ACTIVE"
	ProjectStatusOnHold    ProjectStatus = "ON_HOLD"
	ProjectStatusCompleted ProjectStatus = "COMPLETED"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Project is the subset of the project entity the compliance engine reads.
// Projects are owned by generic CRUD outside this module.
type Project struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	Name           string        `json:"name"`
	Status         ProjectStatus `json:"status"`
	Latitude       *float64      `json:"latitude,omitempty"`
	Longitude      *float64      `json:"longitude,omitempty"`
}

// Coordinates returns the project location and whether it is set.
func (p *Project) Coordinates() (Coordinates, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return Coordinates{}, false
	}
	return Coordinates{Latitude: *p.Latitude, Longitude: *p.Longitude}, true
}

// Monitorable reports whether the scheduled monitor should check this project.
func (p *Project) Monitorable() bool {
	_, ok := p.Coordinates()
	return ok && p.Status == ProjectStatusActive
}

// WeatherEvent is the durable compliance record created when precipitation
// meets the regulatory threshold. PrecipitationInches keeps the exact value
// received from the source. Rows are append-only and never deleted.
type WeatherEvent struct {
	ID                  string          `json:"id"`
	ProjectID           string          `json:"project_id"`
	PrecipitationInches decimal.Decimal `json:"precipitation_inches"`
	EventDate           time.Time       `json:"event_date"`
	InspectionDeadline  time.Time       `json:"inspection_deadline"`
	Source              WeatherSource   `json:"source"`
	InspectionCompleted bool            `json:"inspection_completed"`
	NotificationsSent   bool            `json:"notifications_sent"`
	CreatedAt           time.Time       `json:"created_at"`
}

// PrecipitationReading is an ephemeral reading used by the degraded path.
type PrecipitationReading struct {
	ProjectID  string          `json:"project_id"`
	Amount     decimal.Decimal `json:"amount_inches"`
	Source     WeatherSource   `json:"source"`
	Confidence Confidence      `json:"confidence"`
	ObservedAt time.Time       `json:"observed_at"`
}

// ComplianceCheckResult is returned to callers of a precipitation check.
// RequiresInspection answers "must someone act right now"; the deadline on
// the recorded WeatherEvent answers "by when".
type ComplianceCheckResult struct {
	Exceeded           bool            `json:"exceeded"`
	Amount             decimal.Decimal `json:"amount"`
	RequiresInspection bool            `json:"requires_inspection"`
	Source             WeatherSource   `json:"source"`
	Confidence         Confidence      `json:"confidence"`
	WeatherEvent       *WeatherEvent   `json:"weather_event,omitempty"`
}

// AlertType distinguishes alert payloads delivered through the fan-out.
type AlertType string

const (
	AlertRainThresholdExceeded AlertType = "RAIN_THRESHOLD_EXCEEDED"
	AlertMonitoringFailure     AlertType = "MONITORING_FAILURE"
)

// RainThresholdMessage is the fixed human-readable compliance message.
const RainThresholdMessage = "Precipitation has met the 0.25 inch EPA CGP threshold. A stormwater inspection is required within 24 hours."

// MonitoringFailureMessage is sent when the compliance status of a project
// could not be determined.
const MonitoringFailureMessage = "Weather monitoring failed for this project. Compliance status is unknown; verify precipitation manually."

// Alert is the payload delivered to notification and real-time channels.
type Alert struct {
	ID                  string           `json:"id"`
	Type                AlertType        `json:"type"`
	OrganizationID      string           `json:"organization_id"`
	ProjectID           string           `json:"project_id"`
	ProjectName         string           `json:"project_name"`
	PrecipitationInches *decimal.Decimal `json:"precipitation_inches,omitempty"`
	Source              WeatherSource    `json:"source,omitempty"`
	Confidence          Confidence       `json:"confidence,omitempty"`
	InspectionDeadline  *time.Time       `json:"inspection_deadline,omitempty"`
	Message             string           `json:"message"`
	Error               string           `json:"error,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

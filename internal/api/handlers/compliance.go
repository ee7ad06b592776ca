// Package handlers contains the HTTP handlers of the compliance API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"braveforms/internal/core"
	"braveforms/internal/notifications"
	"braveforms/internal/types"
)

// ComplianceService is the orchestrator contract used by the handler.
type ComplianceService interface {
	CheckPrecipitation(ctx context.Context, lat, lon float64, projectID string) (*types.ComplianceCheckResult, error)
	RecordManualReading(ctx context.Context, projectID string, amount decimal.Decimal, observedAt time.Time) (*types.ComplianceCheckResult, error)
	ListPendingInspections(ctx context.Context, organizationID string) ([]*types.WeatherEvent, error)
}

// ProjectLookup resolves a project within an organization. A project owned
// by another organization is reported as not found.
type ProjectLookup interface {
	GetByID(ctx context.Context, id, organizationID string) (*types.Project, error)
}

// EventLookup resolves a weather event within an organization.
type EventLookup interface {
	GetByID(ctx context.Context, id, organizationID string) (*types.WeatherEvent, error)
}

// AlertPublisher fans out alerts for a tenant.
type AlertPublisher interface {
	Publish(ctx context.Context, tenantID string, alert types.Alert)
}

// ComplianceHandler serves the /v1/compliance endpoints.
type ComplianceHandler struct {
	service   ComplianceService
	projects  ProjectLookup
	events    EventLookup
	alerts    AlertPublisher
	validator *core.Validator
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewComplianceHandler creates the handler. alerts may be nil, in which case
// exceedances found by ad hoc checks are recorded but not fanned out.
func NewComplianceHandler(
	svc ComplianceService,
	projects ProjectLookup,
	events EventLookup,
	alerts AlertPublisher,
	val *core.Validator,
	clock clockwork.Clock,
	logger *slog.Logger,
) *ComplianceHandler {
	if val == nil {
		val = core.NewValidator()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ComplianceHandler{
		service:   svc,
		projects:  projects,
		events:    events,
		alerts:    alerts,
		validator: val,
		clock:     clock,
		logger:    logger,
	}
}

// RegisterRoutes mounts the compliance endpoints. All routes require an
// authenticated Actor.
func (h *ComplianceHandler) RegisterRoutes(r chi.Router) {
	r.Route("/compliance", func(r chi.Router) {
		r.Post("/check", h.HandleCheck)
		r.Post("/manual-readings", h.HandleManualReading)
		r.Get("/pending-inspections", h.HandlePendingInspections)
		r.Get("/weather-events/{id}", h.HandleGetWeatherEvent)
	})
}

type checkRequest struct {
	ProjectID string   `json:"project_id" validate:"required"`
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

type manualReadingRequest struct {
	ProjectID           string           `json:"project_id" validate:"required"`
	PrecipitationInches *decimal.Decimal `json:"precipitation_inches" validate:"required"`
	ObservedAt          *time.Time       `json:"observed_at" validate:"required"`
}

// Amounts are written as JSON numbers carrying the exact decimal digits.
type checkResponse struct {
	Exceeded           bool                  `json:"exceeded"`
	Amount             json.Number           `json:"amount"`
	RequiresInspection bool                  `json:"requires_inspection"`
	Source             types.WeatherSource   `json:"source"`
	Confidence         types.Confidence      `json:"confidence"`
	WeatherEvent       *weatherEventResponse `json:"weather_event,omitempty"`
}

type weatherEventResponse struct {
	ID                  string              `json:"id"`
	ProjectID           string              `json:"project_id"`
	PrecipitationInches json.Number         `json:"precipitation_inches"`
	EventDate           time.Time           `json:"event_date"`
	InspectionDeadline  time.Time           `json:"inspection_deadline"`
	Source              types.WeatherSource `json:"source"`
	InspectionCompleted bool                `json:"inspection_completed"`
	NotificationsSent   bool                `json:"notifications_sent"`
	CreatedAt           time.Time           `json:"created_at"`
}

func newWeatherEventResponse(ev *types.WeatherEvent) *weatherEventResponse {
	if ev == nil {
		return nil
	}
	return &weatherEventResponse{
		ID:                  ev.ID,
		ProjectID:           ev.ProjectID,
		PrecipitationInches: json.Number(ev.PrecipitationInches.String()),
		EventDate:           ev.EventDate,
		InspectionDeadline:  ev.InspectionDeadline,
		Source:              ev.Source,
		InspectionCompleted: ev.InspectionCompleted,
		NotificationsSent:   ev.NotificationsSent,
		CreatedAt:           ev.CreatedAt,
	}
}

func newCheckResponse(res *types.ComplianceCheckResult) checkResponse {
	return checkResponse{
		Exceeded:           res.Exceeded,
		Amount:             json.Number(res.Amount.String()),
		RequiresInspection: res.RequiresInspection,
		Source:             res.Source,
		Confidence:         res.Confidence,
		WeatherEvent:       newWeatherEventResponse(res.WeatherEvent),
	}
}

// HandleCheck handles POST /v1/compliance/check.
func (h *ComplianceHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req checkRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	project, err := h.projects.GetByID(r.Context(), req.ProjectID, actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.CheckPrecipitation(r.Context(), *req.Latitude, *req.Longitude, project.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "compliance check failed",
			"project_id", project.ID,
			"organization_id", actor.OrganizationID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.publishIfRecorded(r.Context(), project, result)
	core.Data(w, r, http.StatusOK, newCheckResponse(result))
}

// HandleManualReading handles POST /v1/compliance/manual-readings. A reading
// that meets the threshold is recorded and answered with 201.
func (h *ComplianceHandler) HandleManualReading(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req manualReadingRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	project, err := h.projects.GetByID(r.Context(), req.ProjectID, actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.RecordManualReading(r.Context(), project.ID, *req.PrecipitationInches, *req.ObservedAt)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	status := http.StatusOK
	if result.WeatherEvent != nil {
		status = http.StatusCreated
	}
	h.publishIfRecorded(r.Context(), project, result)
	core.Data(w, r, status, newCheckResponse(result))
}

// HandlePendingInspections handles GET /v1/compliance/pending-inspections
// for the caller's organization.
func (h *ComplianceHandler) HandlePendingInspections(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	events, err := h.service.ListPendingInspections(r.Context(), actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out := make([]*weatherEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, newWeatherEventResponse(ev))
	}
	core.Data(w, r, http.StatusOK, out)
}

// HandleGetWeatherEvent handles GET /v1/compliance/weather-events/{id}.
// Events of other organizations are reported as not found.
func (h *ComplianceHandler) HandleGetWeatherEvent(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	ev, err := h.events.GetByID(r.Context(), chi.URLParam(r, "id"), actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, newWeatherEventResponse(ev))
}

// publishIfRecorded fans out a threshold alert when the request created a
// weather event. Degraded results never create one.
func (h *ComplianceHandler) publishIfRecorded(ctx context.Context, p *types.Project, result *types.ComplianceCheckResult) {
	if h.alerts == nil || !result.Exceeded || result.WeatherEvent == nil {
		return
	}
	h.alerts.Publish(ctx, p.OrganizationID, notifications.NewThresholdAlert(p, result, h.clock.Now()))
}

func requireActor(r *http.Request) (types.Actor, error) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.OrganizationID == "" {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil)
	}
	return actor, nil
}

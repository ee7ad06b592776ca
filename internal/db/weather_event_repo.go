package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"braveforms/internal/types"
)

// WeatherEventRepository provides data access for the weather_events table.
type WeatherEventRepository struct {
	db DBTX
}

// NewWeatherEventRepository creates a new WeatherEventRepository backed by
// the given database connection (pool or transaction).
func NewWeatherEventRepository(db DBTX) *WeatherEventRepository {
	return &WeatherEventRepository{db: db}
}

const weatherEventColumns = `e.id, e.project_id, e.precipitation_inches,
	e.event_date, e.inspection_deadline, e.source,
	e.inspection_completed, e.notifications_sent, e.created_at`

func scanWeatherEvent(row pgx.Row) (*types.WeatherEvent, error) {
	var ev types.WeatherEvent
	err := row.Scan(
		&ev.ID,
		&ev.ProjectID,
		&ev.PrecipitationInches,
		&ev.EventDate,
		&ev.InspectionDeadline,
		&ev.Source,
		&ev.InspectionCompleted,
		&ev.NotificationsSent,
		&ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Create inserts a new weather event. The amount is written as NUMERIC
// exactly as received. A duplicate id or a missing project is reported as
// internal_database_error; nothing is ever upserted.
func (r *WeatherEventRepository) Create(ctx context.Context, ev *types.WeatherEvent) error {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO weather_events (
			id, project_id, precipitation_inches, event_date, inspection_deadline,
			source, inspection_completed, notifications_sent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID,
		ev.ProjectID,
		ev.PrecipitationInches,
		ev.EventDate,
		ev.InspectionDeadline,
		string(ev.Source),
		ev.InspectionCompleted,
		ev.NotificationsSent,
		createdAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create weather event", err)
	}
	ev.CreatedAt = createdAt
	return nil
}

// FindRecent returns the event for projectID with the newest event_date at
// or after since, or (nil, nil) when there is none. event_date is when the
// rain was observed; a backdated manual reading is old even if its row is
// new.
func (r *WeatherEventRepository) FindRecent(ctx context.Context, projectID string, since time.Time) (*types.WeatherEvent, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+weatherEventColumns+`
		 FROM weather_events e
		 WHERE e.project_id = $1 AND e.event_date >= $2
		 ORDER BY e.event_date DESC
		 LIMIT 1`,
		projectID, since,
	)
	ev, err := scanWeatherEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find recent weather event", err)
	}
	return ev, nil
}

// GetByID returns a weather event visible to organizationID.
func (r *WeatherEventRepository) GetByID(ctx context.Context, id, organizationID string) (*types.WeatherEvent, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+weatherEventColumns+`
		 FROM weather_events e
		 JOIN projects p ON p.id = e.project_id
		 WHERE e.id = $1 AND p.organization_id = $2`,
		id, organizationID,
	)
	ev, err := scanWeatherEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundWeatherEvent, "weather event not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get weather event", err)
	}
	return ev, nil
}

// ListPendingInspections returns events for the organization's projects
// whose inspection is open and whose deadline is after now, soonest first.
func (r *WeatherEventRepository) ListPendingInspections(ctx context.Context, organizationID string, now time.Time) ([]*types.WeatherEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+weatherEventColumns+`
		 FROM weather_events e
		 JOIN projects p ON p.id = e.project_id
		 WHERE p.organization_id = $1
		   AND e.inspection_completed = FALSE
		   AND e.inspection_deadline > $2
		 ORDER BY e.inspection_deadline ASC, e.id ASC`,
		organizationID, now,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending inspections", err)
	}
	defer rows.Close()

	events := []*types.WeatherEvent{}
	for rows.Next() {
		ev, err := scanWeatherEvent(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan weather event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate weather events", err)
	}
	return events, nil
}

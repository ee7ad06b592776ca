package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"braveforms/internal/types"
)

// ProjectRepository reads projects. It never writes them.
type ProjectRepository struct {
	db DBTX
}

// NewProjectRepository creates a new ProjectRepository backed by the given
// database connection (pool or transaction).
func NewProjectRepository(db DBTX) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `p.id, p.organization_id, p.name, p.status, p.latitude, p.longitude`

func scanProject(row pgx.Row) (*types.Project, error) {
	var p types.Project
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Status, &p.Latitude, &p.Longitude); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID returns the project if it belongs to organizationID. A project of
// another organization is reported as not found.
func (r *ProjectRepository) GetByID(ctx context.Context, id, organizationID string) (*types.Project, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+projectColumns+`
		 FROM projects p
		 WHERE p.id = $1 AND p.organization_id = $2`,
		id, organizationID,
	)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProject, "project not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get project", err)
	}
	return p, nil
}

// ListMonitorable returns every ACTIVE project with coordinates, ordered by
// id so monitor passes are deterministic.
func (r *ProjectRepository) ListMonitorable(ctx context.Context) ([]*types.Project, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+projectColumns+`
		 FROM projects p
		 WHERE p.status = $1
		   AND p.latitude IS NOT NULL
		   AND p.longitude IS NOT NULL
		 ORDER BY p.id`,
		string(types.ProjectStatusActive),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list monitorable projects", err)
	}
	defer rows.Close()

	projects := []*types.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan project", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate projects", err)
	}
	return projects, nil
}

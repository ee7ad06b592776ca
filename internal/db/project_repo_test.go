package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"braveforms/internal/types"
)

func scanProjectFn(id string, lat, lon *float64) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = "org_1"
		*dest[2].(*string) = "Project " + id
		*dest[3].(*types.ProjectStatus) = types.ProjectStatusActive
		*dest[4].(**float64) = lat
		*dest[5].(**float64) = lon
		return nil
	}
}

func ptr(f float64) *float64 { return &f }

func TestProjectRepository_GetByID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProjectRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"proj_1", "org_1"}).
		Return(&mockRow{scanFn: scanProjectFn("proj_1", ptr(30.27), ptr(-97.74))})

	p, err := repo.GetByID(context.Background(), "proj_1", "org_1")
	require.NoError(t, err)
	assert.Equal(t, "proj_1", p.ID)
	assert.True(t, p.Monitorable())
}

func TestProjectRepository_GetByID_OtherTenantIsNotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProjectRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "proj_1", "org_2")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundProject))
}

func TestProjectRepository_GetByID_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProjectRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("boom")})

	_, err := repo.GetByID(context.Background(), "proj_1", "org_1")
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestProjectRepository_ListMonitorable(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProjectRepository(db)

	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "latitude IS NOT NULL") && strings.Contains(sql, "ORDER BY p.id")
	}), []any{"ACTIVE"}).Return(newMockRows(
		scanProjectFn("proj_a", ptr(30.27), ptr(-97.74)),
		scanProjectFn("proj_b", ptr(29.76), ptr(-95.37)),
	), nil)

	projects, err := repo.ListMonitorable(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "proj_b", projects[1].ID)
	db.AssertExpectations(t)
}

func TestProjectRepository_ListMonitorable_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProjectRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("pool exhausted"))

	_, err := repo.ListMonitorable(context.Background())
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-grading-api/internal/models"
)

func TestAlertExistsOpen(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAlertRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts WHERE student_id = $1 AND class_id = $2 AND alert_type = $3 AND severity = $4 AND is_dismissed = FALSE")).
		WithArgs("s1", "c1", models.AlertTypeLowGrade, models.AlertSeverityCritical).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := repo.ExistsOpen(context.Background(), nil, "s1", "c1", models.AlertTypeLowGrade, models.AlertSeverityCritical)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertDismissForeignStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAlertRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts SET is_dismissed = TRUE WHERE id = $1 AND student_id = $2")).
		WithArgs("al1", "other").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Dismiss(context.Background(), "other", "al1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

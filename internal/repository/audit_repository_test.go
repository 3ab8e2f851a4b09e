package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestAuditCreateFillsDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	userID := "65f0c0ffee65f0c0ffee65f0"
	entry := &models.AuditLog{UserID: &userID, Action: models.AuditActionEnrollment, Resource: "course"}
	require.NoError(t, repo.Create(context.Background(), entry))

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditListByResource(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "action", "resource", "resource_id", "new_values", "ip_address", "user_agent", "created_at"}).
		AddRow("a1", "u1", models.AuditActionEnrollment, "course", "c1", []byte(`{"transition":"approve"}`), "", "", now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs WHERE resource = $1 AND resource_id = $2 ORDER BY created_at DESC LIMIT $3")).
		WithArgs("course", "c1", 50).
		WillReturnRows(rows)

	logs, err := repo.ListByResource(context.Background(), "course", "c1", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "a1", logs[0].ID)
	assert.JSONEq(t, `{"transition":"approve"}`, string(logs[0].NewValues))
	assert.JSONEq(t, `{"transition":"approve"}`, string(logs[0].Details))
	assert.NoError(t, mock.ExpectationsWereMet())
}

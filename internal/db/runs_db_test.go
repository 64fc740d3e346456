package db

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"github.com/pablintino/deploy-executor/internal/models"
)

func buildMockedRunsDb(t *testing.T, queryMatcher sqlmock.QueryMatcher) (sqlmock.Sqlmock, *sql.DB, *sqlRunsDb) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(queryMatcher))
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	runsDb := newSqlRunsDb(sqlx.NewDb(db, databaseDriverName))
	return mock, db, runsDb
}

func TestRunsDbCreateRunOk(t *testing.T) {
	mock, db, runsDb := buildMockedRunsDb(t,
		NewSqlMockFifoQueryMatcher(
			func(query string) error {
				if !strings.Contains(query, "insert into") || !strings.Contains(query, "run (host, status, started_at)") {
					return fmt.Errorf("expected insert into run not found")
				}
				return nil
			},
		))
	defer db.Close()

	runId := uuid.New()
	mock.ExpectQuery("<unused>").
		WithArgs("10.0.0.5", models.RunStatusRunning, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(runId))

	model, err := runsDb.CreateRun("10.0.0.5")
	assert.NoError(t, err)
	assert.NotNil(t, model)
	if model != nil {
		assert.Equal(t, runId, model.Id)
		assert.Equal(t, "10.0.0.5", model.Host)
		assert.Equal(t, models.RunStatusRunning, model.Status)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsDbFinishRunOk(t *testing.T) {
	mock, db, runsDb := buildMockedRunsDb(t,
		NewSqlMockFifoQueryMatcher(
			func(query string) error {
				if !strings.Contains(query, "update") || !strings.Contains(query, "run") {
					return fmt.Errorf("expected update run not found")
				}
				return nil
			},
		))
	defer db.Close()

	runId := uuid.New()
	mock.ExpectExec("<unused>").
		WithArgs(models.RunStatusSucceeded, sqlmock.AnyArg(), runId).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, runsDb.FinishRun(runId, models.RunStatusSucceeded))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsDbSaveTaskResultOk(t *testing.T) {
	mock, db, runsDb := buildMockedRunsDb(t,
		NewSqlMockFifoQueryMatcher(
			func(query string) error {
				if !strings.Contains(query, "insert into") || !strings.Contains(query, "run_task (run_id, sequence, name, kind, status, exit_code, output)") {
					return fmt.Errorf("expected insert into run_task not found")
				}
				return nil
			},
		))
	defer db.Close()

	resultId := uuid.New()
	expectedModel := models.TaskResultModel{
		RunId:    uuid.New(),
		Sequence: 3,
		Name:     "unpack application artifact",
		Kind:     models.TaskKindArtifact,
		Status:   models.TaskStatusChanged,
		ExitCode: 0,
		Output:   models.StringArray{"extracted"},
	}
	mock.ExpectQuery("<unused>").
		WithArgs(expectedModel.RunId, expectedModel.Sequence, expectedModel.Name,
			expectedModel.Kind, expectedModel.Status, expectedModel.ExitCode, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(resultId))

	model, err := runsDb.SaveTaskResult(&expectedModel)
	assert.NoError(t, err)
	assert.NotNil(t, model)
	if model != nil {
		assert.Equal(t, resultId, model.Id)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pablintino/deploy-executor/internal/models"
)

type RunsDb interface {
	CreateRun(host string) (*models.RunModel, error)
	FinishRun(runId uuid.UUID, status string) error
	SaveTaskResult(model *models.TaskResultModel) (*models.TaskResultModel, error)
	GetRunTaskResults(runId uuid.UUID) ([]models.TaskResultModel, error)
}

type sqlRunsDb struct {
	db *sqlx.DB
}

func newSqlRunsDb(db *sqlx.DB) *sqlRunsDb {
	return &sqlRunsDb{db: db}
}

func (s *sqlRunsDb) CreateRun(host string) (*models.RunModel, error) {
	const query = `
	INSERT INTO
		run (host, status, started_at)
	VALUES ($1, $2, $3)
	RETURNING id
	`
	startedAt := time.Now().UTC()
	row := s.db.QueryRow(query, host, models.RunStatusRunning, startedAt)
	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		return nil, err
	}
	return &models.RunModel{Id: id, Host: host, Status: models.RunStatusRunning, StartedAt: startedAt}, nil
}

func (s *sqlRunsDb) FinishRun(runId uuid.UUID, status string) error {
	const query = `
	UPDATE
		run
	SET
		status=$1, finished_at=$2
	WHERE
		id=$3
	`
	_, err := s.db.Exec(query, status, time.Now().UTC(), runId)
	return err
}

func (s *sqlRunsDb) SaveTaskResult(model *models.TaskResultModel) (*models.TaskResultModel, error) {
	const query = `
	INSERT INTO
		run_task (run_id, sequence, name, kind, status, exit_code, output)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id
	`
	row := s.db.QueryRow(query, model.RunId, model.Sequence, model.Name,
		model.Kind, model.Status, model.ExitCode, pq.StringArray(model.Output))
	if err := row.Scan(&model.Id); err != nil {
		return nil, err
	}
	return model, nil
}

func (s *sqlRunsDb) GetRunTaskResults(runId uuid.UUID) ([]models.TaskResultModel, error) {
	const query = `
	SELECT
		id, run_id, sequence, name, kind, status, exit_code, output
	FROM
		run_task
	WHERE
		run_id=$1
	ORDER BY sequence
	`
	var tableRec []models.TaskResultModel
	err := s.db.Select(&tableRec, query, runId)
	if err != nil {
		return nil, err
	}
	return tableRec, nil
}

package journal

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pablintino/deploy-executor/internal/config"
	"github.com/pablintino/deploy-executor/internal/db"
	"github.com/pablintino/deploy-executor/internal/models"
)

// JournalService records runs and their per-task results. When no database
// is configured recording silently becomes a no-op so the CLI works
// standalone.
type JournalService interface {
	StartRun(host string) uuid.UUID
	RecordTaskResult(runId uuid.UUID, sequence int, result *models.TaskResult)
	FinishRun(runId uuid.UUID, succeeded bool)
}

func NewJournalService(databaseConfig *config.DatabaseConfig, logger *zap.SugaredLogger) (JournalService, error) {
	if databaseConfig.DataSource == "" {
		return &noopJournal{}, nil
	}
	database, err := db.NewSQLDatabase(databaseConfig)
	if err != nil {
		return nil, err
	}
	return &sqlJournal{runsDb: database.Runs(), logger: logger}, nil
}

type noopJournal struct{}

func (noopJournal) StartRun(string) uuid.UUID {
	return uuid.New()
}

func (noopJournal) RecordTaskResult(uuid.UUID, int, *models.TaskResult) {}

func (noopJournal) FinishRun(uuid.UUID, bool) {}

type sqlJournal struct {
	runsDb db.RunsDb
	logger *zap.SugaredLogger
}

func (j *sqlJournal) StartRun(host string) uuid.UUID {
	run, err := j.runsDb.CreateRun(host)
	if err != nil {
		// Journal failures never abort a deployment.
		j.logger.Warnw("cannot record run start", "host", host, "error", err)
		return uuid.New()
	}
	return run.Id
}

func (j *sqlJournal) RecordTaskResult(runId uuid.UUID, sequence int, result *models.TaskResult) {
	model := &models.TaskResultModel{
		RunId:    runId,
		Sequence: sequence,
		Name:     result.TaskName,
		Kind:     result.Kind,
		Status:   result.Status,
		ExitCode: result.ExitCode,
		Output:   splitOutputLines(result.Output),
	}
	if _, err := j.runsDb.SaveTaskResult(model); err != nil {
		j.logger.Warnw("cannot record task result", "task", result.TaskName, "error", err)
	}
}

func (j *sqlJournal) FinishRun(runId uuid.UUID, succeeded bool) {
	status := models.RunStatusSucceeded
	if !succeeded {
		status = models.RunStatusFailed
	}
	if err := j.runsDb.FinishRun(runId, status); err != nil {
		j.logger.Warnw("cannot record run end", "run-id", runId, "error", err)
	}
}

func splitOutputLines(output string) []string {
	trimmed := strings.TrimRight(output, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

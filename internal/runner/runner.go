package runner

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/pablintino/deploy-executor/internal/config"
	"github.com/pablintino/deploy-executor/internal/connection"
	"github.com/pablintino/deploy-executor/internal/models"
	"github.com/pablintino/deploy-executor/internal/services/journal"
	"github.com/pablintino/deploy-executor/internal/shells"
	"github.com/pablintino/deploy-executor/internal/storage"
	"github.com/pablintino/deploy-executor/internal/utils"
	"github.com/pablintino/deploy-executor/internal/verify"
)

// TaskError reports which task failed and the remote output it produced.
type TaskError struct {
	TaskName string
	Result   *models.TaskResult
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%v: task %q failed (exit %d)", utils.ErrTask, e.TaskName, e.Result.ExitCode)
}

func (e *TaskError) Unwrap() error {
	return utils.ErrTask
}

// OnResultFn lets the caller observe each task result as it is produced.
type OnResultFn func(sequence int, result *models.TaskResult)

type Runner struct {
	connector    connection.Connector
	shell        shells.RemoteShell
	repository   storage.Repository
	scanner      storage.ArtifactsScanner
	scanConfig   *storage.ScanConfig
	workspaces   storage.Manager
	journal      journal.JournalService
	verifier     *verify.Verifier
	runnerConfig *config.RunnerConfig
	logger       *zap.SugaredLogger
	OnResult     OnResultFn
}

func NewRunner(
	connector connection.Connector,
	shell shells.RemoteShell,
	storageContainer *storage.Container,
	scanConfig *storage.ScanConfig,
	journalService journal.JournalService,
	verifier *verify.Verifier,
	runnerConfig *config.RunnerConfig,
	logger *zap.SugaredLogger) *Runner {
	return &Runner{
		connector:    connector,
		shell:        shell,
		repository:   storageContainer.Repository,
		scanner:      storageContainer.ArtifactsScanner,
		scanConfig:   scanConfig,
		workspaces:   storageContainer.StorageManager,
		journal:      journalService,
		verifier:     verifier,
		runnerConfig: runnerConfig,
		logger:       logger,
	}
}

// Run executes the ordered task list against one host. The play halts on
// the first failing task unless that task is marked best-effort. Artifact
// references are checked before a single remote command executes.
func (r *Runner) Run(ctx context.Context, host models.HostModel, tasks []models.Task) (*models.RunSummary, error) {
	if err := r.preflightArtifacts(ctx, tasks); err != nil {
		return nil, err
	}

	conn, err := r.connector.Connect(ctx, host)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	runId := r.journal.StartRun(host.Address)
	workspace, err := r.workspaces.CreateWorkspace(runId)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot create run workspace: %v", utils.ErrConfig, err)
	}
	r.logger.Infow("run started", "run-id", runId, "host", host.Address, "tasks", len(tasks))

	summary := &models.RunSummary{Total: len(tasks)}
	var failure *TaskError
	for index, task := range tasks {
		sequence := index + 1
		result := r.executeTask(ctx, conn, &task)
		r.accumulate(summary, result)
		r.journal.RecordTaskResult(runId, sequence, result)
		r.persistTaskLog(workspace, sequence, result)
		if r.OnResult != nil {
			r.OnResult(sequence, result)
		}
		if result.Status == models.TaskStatusFailed {
			if task.BestEffort {
				r.logger.Warnw("best-effort task failed, continuing",
					"task", task.Name, "exit-code", result.ExitCode)
				continue
			}
			failure = &TaskError{TaskName: task.Name, Result: result}
			break
		}
	}

	r.journal.FinishRun(runId, failure == nil)
	if failure != nil {
		r.logger.Errorw("run failed", "run-id", runId, "task", failure.TaskName)
		return summary, failure
	}
	r.logger.Infow("run finished", "run-id", runId,
		"ok", summary.Ok, "changed", summary.Changed, "skipped", summary.Skipped)
	return summary, nil
}

// preflightArtifacts resolves every artifact reference and validates the
// archive layout up front so a broken artifact aborts the run before any
// remote change happens.
func (r *Runner) preflightArtifacts(ctx context.Context, tasks []models.Task) error {
	for _, task := range tasks {
		if task.Artifact == nil {
			continue
		}
		reader, err := r.repository.Open(ctx, task.Artifact.Source)
		if err != nil {
			return fmt.Errorf("%w: task %q: %w", utils.ErrConfig, task.Name, err)
		}
		scan, err := r.scanner.ScanArchive(reader, r.scanConfig)
		reader.Close()
		if err != nil {
			return fmt.Errorf("%w: task %q: artifact %s is not a valid archive: %v",
				utils.ErrConfig, task.Name, task.Artifact.Source, err)
		}
		if !scan.LayoutSatisfied() {
			return fmt.Errorf("%w: task %q: artifact %s is missing its start script or package manifest",
				utils.ErrConfig, task.Name, task.Artifact.Source)
		}
		r.logger.Debugw("artifact layout verified", "artifact", task.Artifact.Source,
			"start-scripts", scan.StartScripts, "manifests", len(scan.Manifests))
	}
	return nil
}

func (r *Runner) executeTask(ctx context.Context, conn connection.Connection, task *models.Task) *models.TaskResult {
	result := &models.TaskResult{TaskName: task.Name, Kind: task.Kind()}
	switch task.Kind() {
	case models.TaskKindPackages:
		r.runPackages(ctx, conn, task, result)
	case models.TaskKindUser:
		r.runUser(ctx, conn, task, result)
	case models.TaskKindArtifact:
		r.runArtifact(ctx, conn, task, result)
	case models.TaskKindCommand:
		r.runCommand(ctx, conn, task, result)
	case models.TaskKindCheck:
		r.runCheck(ctx, conn, task, result)
	default:
		result.Status = models.TaskStatusFailed
		result.Err = fmt.Errorf("%w: task %q has no operation", utils.ErrConfig, task.Name)
	}
	return result
}

func (r *Runner) accumulate(summary *models.RunSummary, result *models.TaskResult) {
	switch result.Status {
	case models.TaskStatusOk:
		summary.Ok++
	case models.TaskStatusChanged:
		summary.Changed++
	case models.TaskStatusSkipped:
		summary.Skipped++
	case models.TaskStatusFailed:
		summary.Failed++
	}
}

func (r *Runner) persistTaskLog(workspace storage.Workspace, sequence int, result *models.TaskResult) {
	if result.Output == "" {
		return
	}
	logPath, err := workspace.TaskLogPath(sequence, result.TaskName)
	if err == nil {
		err = os.WriteFile(logPath, []byte(result.Output), 0644)
	}
	if err != nil {
		r.logger.Warnw("cannot persist task output", "task", result.TaskName, "error", err)
	}
}

package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/pablintino/deploy-executor/internal/connection"
	"github.com/pablintino/deploy-executor/internal/models"
)

const aptNoChangesMarker = "0 upgraded, 0 newly installed"

func (r *Runner) runPackages(ctx context.Context, conn connection.Connection, task *models.Task, result *models.TaskResult) {
	commands := []string{"export DEBIAN_FRONTEND=noninteractive"}
	if task.Packages.UpdateCache {
		commands = append(commands, "apt-get update -q")
	}
	commands = append(commands, fmt.Sprintf("apt-get install -y -q %s", strings.Join(task.Packages.Names, " ")))
	cmd := r.become(task, r.shell.Script(commands...))

	runResult, err := conn.Run(ctx, cmd)
	if r.finishRemote(result, runResult, err) {
		return
	}
	// apt reports an unchanged install, which keeps re-runs clean.
	if strings.Contains(runResult.Stdout, aptNoChangesMarker) {
		result.Status = models.TaskStatusOk
	} else {
		result.Status = models.TaskStatusChanged
	}
}

func (r *Runner) runUser(ctx context.Context, conn connection.Connection, task *models.Task, result *models.TaskResult) {
	user := task.User
	createArgs := []string{"useradd", "-m"}
	if user.Home != "" {
		createArgs = append(createArgs, "-d", user.Home)
	}
	if user.Shell != "" {
		createArgs = append(createArgs, "-s", user.Shell)
	}
	if user.System {
		createArgs = append(createArgs, "-r")
	}
	createArgs = append(createArgs, user.Name)
	script := r.shell.Script(fmt.Sprintf(
		"if id -u %s >/dev/null 2>&1; then echo __PRESENT__; else %s && echo __CREATED__; fi",
		user.Name, strings.Join(createArgs, " ")))

	runResult, err := conn.Run(ctx, r.become(task, script))
	if r.finishRemote(result, runResult, err) {
		return
	}
	if strings.Contains(runResult.Stdout, "__PRESENT__") {
		result.Status = models.TaskStatusOk
	} else {
		result.Status = models.TaskStatusChanged
	}
}

func (r *Runner) runArtifact(ctx context.Context, conn connection.Connection, task *models.Task, result *models.TaskResult) {
	artifact := task.Artifact
	reader, err := r.repository.Open(ctx, artifact.Source)
	if err != nil {
		result.Status = models.TaskStatusFailed
		result.Err = err
		return
	}
	defer reader.Close()

	commands := []string{
		fmt.Sprintf("mkdir -p %s", artifact.Dest),
		fmt.Sprintf("tar -xzf - -C %s", artifact.Dest),
	}
	if artifact.Owner != "" {
		commands = append(commands, fmt.Sprintf("chown -R %s: %s", artifact.Owner, artifact.Dest))
	}
	cmd := r.become(task, strings.Join(commands, " && "))

	runResult, err := conn.Upload(ctx, reader, cmd)
	if r.finishRemote(result, runResult, err) {
		return
	}
	result.Status = models.TaskStatusChanged
}

func (r *Runner) runCommand(ctx context.Context, conn connection.Connection, task *models.Task, result *models.TaskResult) {
	command := task.Command
	if command.Creates != "" {
		probe, err := conn.Run(ctx, fmt.Sprintf("test -e %s", command.Creates))
		if err != nil {
			result.Status = models.TaskStatusFailed
			result.Err = err
			return
		}
		if probe.ExitCode == 0 {
			result.Status = models.TaskStatusSkipped
			result.Output = fmt.Sprintf("%s already exists", command.Creates)
			return
		}
	}

	cmd := r.shell.RunAs(command.Cmd, command.User, command.Chdir)
	if command.Background {
		timeout := command.Timeout
		if timeout == 0 {
			timeout = r.runnerConfig.BackgroundTimeout
		}
		cmd = r.shell.Background(cmd, timeout)
	}
	cmd = r.become(task, cmd)

	runResult, err := conn.Run(ctx, cmd)
	if r.finishRemote(result, runResult, err) {
		return
	}
	result.Status = models.TaskStatusChanged
}

func (r *Runner) runCheck(ctx context.Context, conn connection.Connection, task *models.Task, result *models.TaskResult) {
	report, err := r.verifier.Verify(ctx, conn, task.Check)
	if err != nil {
		result.Status = models.TaskStatusFailed
		result.Err = err
		if report != nil {
			result.ExitCode = report.ExitCode
			result.Output = strings.Join(report.Lines, "\n")
		}
		return
	}
	result.Status = models.TaskStatusOk
	result.ExitCode = report.ExitCode
	result.Output = strings.Join(report.Lines, "\n")
}

// become wraps a command for root execution when the task requests it.
func (r *Runner) become(task *models.Task, cmd string) string {
	if !task.Become {
		return cmd
	}
	return r.shell.RunAs(cmd, "root", "")
}

// finishRemote handles the shared transport-error and non-zero-exit
// bookkeeping. It returns true when the task is already settled.
func (r *Runner) finishRemote(result *models.TaskResult, runResult *connection.Result, err error) bool {
	if err != nil {
		result.Status = models.TaskStatusFailed
		result.Err = err
		return true
	}
	result.ExitCode = runResult.ExitCode
	result.Output = runResult.CombinedOutput()
	if runResult.ExitCode != 0 {
		result.Status = models.TaskStatusFailed
		result.Err = fmt.Errorf("remote command exited with %d", runResult.ExitCode)
		return true
	}
	return false
}

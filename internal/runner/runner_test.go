package runner

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pablintino/deploy-executor/internal/config"
	"github.com/pablintino/deploy-executor/internal/connection"
	"github.com/pablintino/deploy-executor/internal/models"
	"github.com/pablintino/deploy-executor/internal/services/journal"
	"github.com/pablintino/deploy-executor/internal/shells"
	"github.com/pablintino/deploy-executor/internal/storage"
	"github.com/pablintino/deploy-executor/internal/utils"
	"github.com/pablintino/deploy-executor/internal/verify"
	"github.com/pablintino/deploy-executor/logging"
)

type commandHandler func(cmd string, hasStdin bool) (*connection.Result, error)

type fakeConnection struct {
	commands []string
	handler  commandHandler
	closed   bool
}

func (c *fakeConnection) Run(_ context.Context, cmd string) (*connection.Result, error) {
	c.commands = append(c.commands, cmd)
	return c.handler(cmd, false)
}

func (c *fakeConnection) Upload(_ context.Context, content io.Reader, cmd string) (*connection.Result, error) {
	c.commands = append(c.commands, cmd)
	if _, err := io.Copy(io.Discard, content); err != nil {
		return nil, err
	}
	return c.handler(cmd, true)
}

func (c *fakeConnection) Close() error {
	c.closed = true
	return nil
}

type fakeConnector struct {
	conn     *fakeConnection
	connects int
}

func (c *fakeConnector) Connect(_ context.Context, _ models.HostModel) (connection.Connection, error) {
	c.connects++
	return c.conn, nil
}

type fakeRepository struct {
	artifacts map[string][]byte
	opens     int
}

func (r *fakeRepository) Exists(_ context.Context, name string) (bool, error) {
	_, ok := r.artifacts[name]
	return ok, nil
}

func (r *fakeRepository) Open(_ context.Context, name string) (io.ReadCloser, error) {
	content, ok := r.artifacts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrArtifactNotFound, name)
	}
	r.opens++
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (r *fakeRepository) Size(_ context.Context, name string) (int64, error) {
	content, ok := r.artifacts[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", storage.ErrArtifactNotFound, name)
	}
	return int64(len(content)), nil
}

func (r *fakeRepository) Close() error {
	return nil
}

func buildTestArtifact(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	entries := map[string]string{
		"package/package.json":     `{"name": "app", "version": "1.0.0"}`,
		"package/server/server.js": "require('http')\n",
	}
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type runnerFixture struct {
	runner    *Runner
	connector *fakeConnector
	conn      *fakeConnection
	repo      *fakeRepository
}

func newRunnerFixture(t *testing.T, handler commandHandler) *runnerFixture {
	t.Helper()
	logging.Initialize(false)
	t.Cleanup(logging.Release)

	artifactsConfig := &config.ArtifactsConfig{
		WorkspacesPath: t.TempDir(),
		LoadSize:       4096,
	}
	manager, err := storage.NewStorageManager(artifactsConfig)
	require.NoError(t, err)
	scanConfig, err := storage.NewScanConfig(
		[]string{"**/server/server.js"}, []string{"**/package.json"})
	require.NoError(t, err)
	journalService, err := journal.NewJournalService(&config.DatabaseConfig{}, zap.NewNop().Sugar())
	require.NoError(t, err)

	conn := &fakeConnection{handler: handler}
	connector := &fakeConnector{conn: conn}
	repo := &fakeRepository{artifacts: map[string][]byte{
		"app-1.0.0.tgz": buildTestArtifact(t),
	}}
	storageContainer := &storage.Container{
		StorageManager:   manager,
		ArtifactsScanner: storage.NewArtifactsScanner(artifactsConfig),
		Repository:       repo,
	}

	taskRunner := NewRunner(
		connector,
		shells.NewBashRemoteShell(&config.ShellConfig{}),
		storageContainer,
		scanConfig,
		journalService,
		verify.NewVerifier(zap.NewNop().Sugar()),
		&config.RunnerConfig{BackgroundTimeout: 300},
		zap.NewNop().Sugar(),
	)
	return &runnerFixture{runner: taskRunner, connector: connector, conn: conn, repo: repo}
}

func testHost() models.HostModel {
	return models.HostModel{Address: "10.0.0.5", User: "root", KeyPath: "/root/.ssh/id_ed25519"}
}

func deploymentTasks() []models.Task {
	return []models.Task{
		{
			Name:     "install runtime packages",
			Become:   true,
			Packages: &models.PackagesParams{Names: []string{"nodejs", "npm"}, UpdateCache: true},
		},
		{
			Name:   "create app user",
			Become: true,
			User:   &models.UserParams{Name: "app", Home: "/srv/app"},
		},
		{
			Name:     "unpack application artifact",
			Become:   true,
			Artifact: &models.ArtifactParams{Source: "app-1.0.0.tgz", Dest: "/srv/app", Owner: "app"},
		},
		{
			Name:    "install dependencies",
			Command: &models.CommandParams{Cmd: "npm install --omit=dev", Chdir: "/srv/app/package", User: "app"},
		},
		{
			Name:    "start application",
			Command: &models.CommandParams{Cmd: "node server/server.js", Chdir: "/srv/app/package", User: "app", Background: true},
		},
		{
			Name:  "check app process",
			Check: &models.CheckParams{Cmd: "ps aux | grep -v grep | grep node", Expect: "node"},
		},
	}
}

func okHandler(cmd string, _ bool) (*connection.Result, error) {
	if strings.Contains(cmd, "grep node") {
		return &connection.Result{Stdout: "app  1234  node server/server.js\n"}, nil
	}
	return &connection.Result{Stdout: "done\n"}, nil
}

func TestRunnerFullDeployment(t *testing.T) {
	fixture := newRunnerFixture(t, okHandler)

	var observed []string
	fixture.runner.OnResult = func(sequence int, result *models.TaskResult) {
		observed = append(observed, fmt.Sprintf("%d:%s:%s", sequence, result.TaskName, result.Status))
	}

	summary, err := fixture.runner.Run(context.Background(), testHost(), deploymentTasks())
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 0, summary.Failed)
	assert.True(t, summary.Succeeded())
	assert.Len(t, observed, 6)
	assert.Equal(t, 1, fixture.connector.connects)
	assert.True(t, fixture.conn.closed)
	// Preflight plus the extraction itself read the artifact.
	assert.Equal(t, 2, fixture.repo.opens)

	// The background start must be wrapped fire-and-forget with the
	// configured upper bound.
	startCmd := fixture.conn.commands[4]
	assert.Contains(t, startCmd, "nohup")
	assert.Contains(t, startCmd, "timeout 300")
	assert.Contains(t, startCmd, "& disown")
}

func TestRunnerHaltsOnFirstFailure(t *testing.T) {
	fixture := newRunnerFixture(t, func(cmd string, hasStdin bool) (*connection.Result, error) {
		if hasStdin {
			return &connection.Result{ExitCode: 2, Stderr: "tar: damaged archive\n"}, nil
		}
		return okHandler(cmd, hasStdin)
	})

	summary, err := fixture.runner.Run(context.Background(), testHost(), deploymentTasks())
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrTask))

	var taskErr *TaskError
	require.True(t, errors.As(err, &taskErr))
	assert.Equal(t, "unpack application artifact", taskErr.TaskName)
	assert.Equal(t, 2, taskErr.Result.ExitCode)
	assert.Contains(t, taskErr.Result.Output, "damaged archive")

	assert.Equal(t, 1, summary.Failed)
	// Tasks after the failing one never ran: packages, user, artifact.
	assert.Len(t, fixture.conn.commands, 3)
}

func TestRunnerBestEffortContinues(t *testing.T) {
	fixture := newRunnerFixture(t, func(cmd string, hasStdin bool) (*connection.Result, error) {
		if strings.Contains(cmd, "apt-get") {
			return &connection.Result{ExitCode: 100, Stderr: "apt repository flake\n"}, nil
		}
		return okHandler(cmd, hasStdin)
	})

	tasks := deploymentTasks()
	tasks[0].BestEffort = true
	summary, err := fixture.runner.Run(context.Background(), testHost(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 6, summary.Total)
	assert.False(t, summary.Succeeded())
}

func TestRunnerMissingArtifactRunsNothing(t *testing.T) {
	fixture := newRunnerFixture(t, okHandler)
	delete(fixture.repo.artifacts, "app-1.0.0.tgz")

	_, err := fixture.runner.Run(context.Background(), testHost(), deploymentTasks())
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrArtifactNotFound))
	assert.Equal(t, 0, fixture.connector.connects)
	assert.Empty(t, fixture.conn.commands)
}

func TestRunnerCreatesGuardSkips(t *testing.T) {
	fixture := newRunnerFixture(t, func(cmd string, hasStdin bool) (*connection.Result, error) {
		if strings.HasPrefix(cmd, "test -e ") {
			return &connection.Result{ExitCode: 0}, nil
		}
		return okHandler(cmd, hasStdin)
	})

	tasks := []models.Task{
		{
			Name: "install dependencies",
			Command: &models.CommandParams{
				Cmd:     "npm install --omit=dev",
				Creates: "/srv/app/package/node_modules",
			},
		},
	}
	var results []*models.TaskResult
	fixture.runner.OnResult = func(_ int, result *models.TaskResult) {
		results = append(results, result)
	}
	summary, err := fixture.runner.Run(context.Background(), testHost(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, results, 1)
	assert.Equal(t, models.TaskStatusSkipped, results[0].Status)
	// Only the guard probe ran.
	require.Len(t, fixture.conn.commands, 1)
	assert.Equal(t, "test -e /srv/app/package/node_modules", fixture.conn.commands[0])
}

func TestRunnerIdempotentReRun(t *testing.T) {
	fixture := newRunnerFixture(t, func(cmd string, hasStdin bool) (*connection.Result, error) {
		switch {
		case strings.Contains(cmd, "grep node"):
			return &connection.Result{Stdout: "app  1234  node server/server.js\n"}, nil
		case isEncodedScript(cmd, "apt-get install"):
			return &connection.Result{Stdout: "0 upgraded, 0 newly installed, 0 to remove\n"}, nil
		case isEncodedScript(cmd, "id -u"):
			return &connection.Result{Stdout: "__PRESENT__\n"}, nil
		default:
			return &connection.Result{Stdout: "done\n"}, nil
		}
	})

	tasks := deploymentTasks()
	summary, err := fixture.runner.Run(context.Background(), testHost(), tasks)
	require.NoError(t, err)
	// Packages and user report no change on a converged host.
	assert.Equal(t, 3, summary.Ok)
	assert.Equal(t, 0, summary.Failed)
}

var scriptPayloadRegex = regexp.MustCompile(`echo ([A-Za-z0-9+/=]+) \| base64`)

// isEncodedScript peeks into the base64 payload the shell builder produces
// to identify which task a command belongs to.
func isEncodedScript(cmd string, marker string) bool {
	match := scriptPayloadRegex.FindStringSubmatch(cmd)
	if match == nil {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(match[1])
	if err != nil {
		return false
	}
	return strings.Contains(string(decoded), marker)
}

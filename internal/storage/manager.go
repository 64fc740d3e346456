package storage

import (
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"

	"github.com/pablintino/deploy-executor/internal/config"
)

const taskLogsDir = "task-logs"

type storageManagerImp struct {
	storageConfig  *config.ArtifactsConfig
	workspacesPath string
}

// Workspace is the per-run staging directory where task output logs land.
type Workspace interface {
	Location() string
	TaskLogPath(sequence int, taskName string) (string, error)
}

type Manager interface {
	CreateWorkspace(runId uuid.UUID) (Workspace, error)
}

type WorkspaceImpl struct {
	location string
	runId    uuid.UUID
}

func NewStorageManager(storageConfig *config.ArtifactsConfig) (*storageManagerImp, error) {
	if err := os.MkdirAll(storageConfig.WorkspacesPath, 0755); err != nil {
		return nil, err
	}
	return &storageManagerImp{storageConfig: storageConfig, workspacesPath: storageConfig.WorkspacesPath}, nil
}

func (m *storageManagerImp) CreateWorkspace(runId uuid.UUID) (Workspace, error) {
	workspacePath := path.Join(m.workspacesPath, runId.String())
	if err := os.MkdirAll(workspacePath, 0755); err != nil {
		return nil, err
	}
	return &WorkspaceImpl{runId: runId, location: workspacePath}, nil
}

func (m *WorkspaceImpl) Location() string {
	return m.location
}

func (m *WorkspaceImpl) TaskLogPath(sequence int, taskName string) (string, error) {
	logsPath := path.Join(m.location, taskLogsDir)
	if err := os.MkdirAll(logsPath, 0755); err != nil {
		return "", err
	}
	return path.Join(logsPath, fmt.Sprintf("%03d-%s.log", sequence, sanitizeName(taskName))), nil
}

func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r == ' ':
			out = append(out, '-')
		}
	}
	return string(out)
}

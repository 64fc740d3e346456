package storage

import (
	"github.com/pablintino/deploy-executor/internal/config"
)

type Container struct {
	StorageManager   Manager
	ArtifactsScanner ArtifactsScanner
	Repository       Repository
}

func NewContainer(artifactsConfig *config.ArtifactsConfig) (*Container, error) {
	manager, err := NewStorageManager(artifactsConfig)
	if err != nil {
		return nil, err
	}
	repository, err := NewBlobRepository(artifactsConfig)
	if err != nil {
		return nil, err
	}
	return &Container{
		StorageManager:   manager,
		ArtifactsScanner: NewArtifactsScanner(artifactsConfig),
		Repository:       repository,
	}, nil
}

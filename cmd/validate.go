package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pablintino/deploy-executor/internal/config"
	"github.com/pablintino/deploy-executor/internal/storage"
	"github.com/pablintino/deploy-executor/logging"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check inventory, variables, task list and artifacts without touching the host",
	Run: func(cmd *cobra.Command, args []string) {
		logging.Initialize(runFlags.debug)
		defer logging.Release()

		if err := validatePlay(cmd.Context()); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Println("validation passed")
	},
}

func validatePlay(ctx context.Context) error {
	appConfig, err := config.Configure()
	if err != nil {
		return err
	}
	hosts, tasks, err := loadPlay(appConfig)
	if err != nil {
		return err
	}
	fmt.Printf("inventory: %d host(s), task list: %d task(s)\n", len(hosts), len(tasks))

	repository, err := storage.NewBlobRepository(&appConfig.ArtifactsConfig)
	if err != nil {
		return err
	}
	defer repository.Close()
	scanConfig, err := storage.NewScanConfig(
		appConfig.ArtifactsConfig.StartScriptGlobs, appConfig.ArtifactsConfig.ManifestGlobs)
	if err != nil {
		return err
	}
	scanner := storage.NewArtifactsScanner(&appConfig.ArtifactsConfig)

	for _, task := range tasks {
		if task.Artifact == nil {
			continue
		}
		reader, err := repository.Open(ctx, task.Artifact.Source)
		if err != nil {
			return fmt.Errorf("task %q: %w", task.Name, err)
		}
		scan, err := scanner.ScanArchive(reader, scanConfig)
		reader.Close()
		if err != nil {
			return fmt.Errorf("task %q: %v", task.Name, err)
		}
		if !scan.LayoutSatisfied() {
			return fmt.Errorf("task %q: artifact %s is missing its start script or package manifest",
				task.Name, task.Artifact.Source)
		}
		fmt.Printf("artifact %s: layout ok (start scripts: %d, manifests: %d)\n",
			task.Artifact.Source, len(scan.StartScripts), len(scan.Manifests))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

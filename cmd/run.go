package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pablintino/deploy-executor/internal/config"
	"github.com/pablintino/deploy-executor/internal/connection"
	"github.com/pablintino/deploy-executor/internal/inventory"
	"github.com/pablintino/deploy-executor/internal/models"
	"github.com/pablintino/deploy-executor/internal/playbook"
	"github.com/pablintino/deploy-executor/internal/runner"
	"github.com/pablintino/deploy-executor/internal/services/journal"
	"github.com/pablintino/deploy-executor/internal/shells"
	"github.com/pablintino/deploy-executor/internal/storage"
	"github.com/pablintino/deploy-executor/internal/verify"
	"github.com/pablintino/deploy-executor/logging"
)

var runFlags struct {
	inventoryPath string
	tasksPath     string
	varsPaths     []string
	debug         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the task list against every inventory host",
	Run: func(cmd *cobra.Command, args []string) {
		logging.Initialize(runFlags.debug)
		defer logging.Release()

		if err := runDeployment(cmd.Context()); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func runDeployment(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	appConfig, err := config.Configure()
	if err != nil {
		return err
	}
	hosts, tasks, err := loadPlay(appConfig)
	if err != nil {
		return err
	}

	storageContainer, err := storage.NewContainer(&appConfig.ArtifactsConfig)
	if err != nil {
		return err
	}
	defer storageContainer.Repository.Close()
	scanConfig, err := storage.NewScanConfig(
		appConfig.ArtifactsConfig.StartScriptGlobs, appConfig.ArtifactsConfig.ManifestGlobs)
	if err != nil {
		return err
	}
	journalService, err := journal.NewJournalService(&appConfig.DatabaseConfig, logging.Logger)
	if err != nil {
		return err
	}

	taskRunner := runner.NewRunner(
		connection.NewSSHConnector(&appConfig.SSHConfig),
		shells.NewBashRemoteShell(&appConfig.ShellConfig),
		storageContainer,
		scanConfig,
		journalService,
		verify.NewVerifier(logging.Logger),
		&appConfig.RunnerConfig,
		logging.Logger,
	)
	total := len(tasks)
	taskRunner.OnResult = func(sequence int, result *models.TaskResult) {
		fmt.Printf("TASK %d/%d [%s] ... %s\n", sequence, total, result.TaskName, result.Status)
	}

	for _, host := range hosts {
		fmt.Printf("PLAY [%s]\n", host.Address)
		summary, err := taskRunner.Run(ctx, host, tasks)
		if err != nil {
			if summary != nil {
				printSummary(summary)
			}
			return err
		}
		printSummary(summary)
	}
	return nil
}

func loadPlay(appConfig *config.Config) ([]models.HostModel, []models.Task, error) {
	hosts, err := inventory.Load(runFlags.inventoryPath)
	if err != nil {
		return nil, nil, err
	}
	vars, err := playbook.LoadVariables(runFlags.varsPaths...)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := playbook.LoadTasks(runFlags.tasksPath)
	if err != nil {
		return nil, nil, err
	}
	tasks, err = playbook.Resolve(tasks, vars)
	if err != nil {
		return nil, nil, err
	}
	return hosts, tasks, nil
}

func printSummary(summary *models.RunSummary) {
	succeeded := summary.Ok + summary.Changed + summary.Skipped
	fmt.Printf("SUMMARY %d/%d tasks succeeded (ok=%d changed=%d skipped=%d failed=%d)\n",
		succeeded, summary.Total, summary.Ok, summary.Changed, summary.Skipped, summary.Failed)
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.inventoryPath, "inventory", "i", "", "path to the inventory file")
	runCmd.Flags().StringVarP(&runFlags.tasksPath, "tasks", "t", "", "path to the ordered task list")
	runCmd.Flags().StringSliceVarP(&runFlags.varsPaths, "vars", "e", nil, "variable file(s), later files override earlier ones")
	runCmd.Flags().BoolVar(&runFlags.debug, "debug", false, "enable debug logging")
	_ = runCmd.MarkFlagRequired("inventory")
	_ = runCmd.MarkFlagRequired("tasks")
}

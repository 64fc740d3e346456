package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "deploy-executor",
	Short: "Deploys a pre-built application artifact to a remote host over SSH",
	Long: `deploy-executor drives a single deployment workflow: install the
runtime packages, create the service user, push and unpack the application
artifact, install its dependencies, start the application in the background
and verify that its process is running.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

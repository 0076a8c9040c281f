package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/chess/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chess",
	Short: "chess bootstraps Kubernetes clusters over SSH and runs as a reconnecting manager agent",
	Long: `chess drives cluster bootstrap over SSH (image extraction, upload, and
kubeadm init/join across a host topology) and, with no subcommand, starts a
long-lived agent session against a manager.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(useCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.Flags().String("metrics-addr", ":9090", "address the agent loop's /metrics endpoint listens on")
	rootCmd.RunE = runAgent
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

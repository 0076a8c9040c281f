package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/chess/pkg/agent"
	"github.com/cuemby/chess/pkg/chesserr"
	"github.com/cuemby/chess/pkg/deploy"
	"github.com/cuemby/chess/pkg/functions"
	"github.com/cuemby/chess/pkg/log"
	"github.com/cuemby/chess/pkg/metrics"
)

const (
	defaultAgentEndpoint = "http://localhost:50051"
	defaultAgentID       = "rust-agent-001"
)

// runAgent is rootCmd's default action: with no subcommand, chess
// starts the long-lived agent loop against a manager (spec §6: "No
// command → start agent loop against http://localhost:50051 with
// agent id rust-agent-001").
func runAgent(cmd *cobra.Command, args []string) error {
	endpoint := defaultAgentEndpoint
	agentID := defaultAgentID
	if v := os.Getenv("CHESS_AGENT_ENDPOINT"); v != "" {
		endpoint = v
	}
	if v := os.Getenv("CHESS_AGENT_ID"); v != "" {
		agentID = v
	}

	privateDataDir := os.Getenv("PRIVATE_DATA_DIR")
	if privateDataDir == "" {
		return fmt.Errorf("%w: PRIVATE_DATA_DIR must be set to run the Deploy/DeployStatus functions", chesserr.ErrConfig)
	}
	launcher, err := deploy.NewLauncher(privateDataDir)
	if err != nil {
		return fmt.Errorf("initialize deploy launcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	go func() {
		if err := metrics.StartServer(metricsAddr); err != nil {
			log.WithComponent("agent").Warn().Err(err).Str("addr", metricsAddr).
				Msg("metrics server stopped")
		}
	}()

	log.WithComponent("agent").Info().Str("endpoint", endpoint).Str("agent_id", agentID).
		Str("metrics_addr", metricsAddr).Msg("starting agent loop")

	return agent.Run(ctx, agent.Config{
		Endpoint: endpoint,
		AgentID:  agentID,
		Registry: functions.Default(launcher),
	})
}

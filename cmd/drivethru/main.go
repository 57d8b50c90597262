package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/internal/config"
	"github.com/tiagocmendes/restaurant-p2p/internal/telemetry"
)

// set with -ldflags "-X main.version=... -X main.gitSHA=..."
var (
	version = "dev"
	gitSHA  = "unknown"
)

var configPath string

func main() {
	var rootCmd = &cobra.Command{
		Use:   "drivethru",
		Short: "drivethru - token ring drive-through restaurant",
		Long: `drivethru runs the roles of a drive-through restaurant (Drive-Through, Clerk,
Chef, Waiter) as members of a UDP token ring, and talks to its client window.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./drivethru.yaml)")

	// Add subcommands
	rootCmd.AddCommand(nodeCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("drivethru %s (%s)\n", version, gitSHA)
		},
	}
}

// setup loads the config and builds the logger every subcommand uses.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := telemetry.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	telemetry.SetBuildInfo(version, gitSHA)
	return cfg, log, nil
}

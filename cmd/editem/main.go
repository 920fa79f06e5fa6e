package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/knaw-huc/editem/internal/client"
	"github.com/knaw-huc/editem/internal/config"
	"github.com/knaw-huc/editem/internal/elapsed"
)

var rootCmd = &cobra.Command{
	Use:   "editem",
	Short: "editem - start, stop and watch server tasks",
	Long: `editem starts and stops long-running server tasks and shows their progress
and outcome as the server pushes them, telling your own actions apart from
those of other users.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	project    string
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")
	rootCmd.PersistentFlags().StringVar(&project, "project", "", "Project id; scopes requests and pushed events")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.editem/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug diagnostics")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(runCmd, killCmd, tasksCmd, runsCmd, watchCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and lets explicit flags override it.
func loadConfig(cmd *cobra.Command, args []string) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromHome()
	}
	if err != nil {
		return err
	}

	if !cmd.Flags().Changed("api") {
		apiAddr = cfg.Client.API
	}
	if !cmd.Flags().Changed("project") {
		project = cfg.Client.Project
	}
	return nil
}

func newClient() *client.Client {
	return client.New(apiAddr, project)
}

func newTracker() *elapsed.Tracker {
	return elapsed.NewTracker(nil, cfg.Timer())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

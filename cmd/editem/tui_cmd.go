package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/knaw-huc/editem/internal/client"
	"github.com/knaw-huc/editem/internal/push"
	"github.com/knaw-huc/editem/internal/tui"
)

var noDaemon bool

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive TUI",
	RunE:  runTUI,
}

func init() {
	tuiCmd.Flags().BoolVar(&noDaemon, "no-daemon", false, "Do not start a local daemon when the server is unreachable")
}

func runTUI(cmd *cobra.Command, args []string) error {
	c := newClient()

	// 1. Check if Daemon is running
	if !isDaemonRunning(cmd.Context(), c) && !noDaemon {
		fmt.Println("⚡ editem daemon not running. Starting background service...")
		if err := startDaemon(cmd.Context(), c); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	// Diagnostics would tear the screen; keep errors only.
	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// 2. Launch TUI
	app := tui.New(cmd.Context(), tui.Config{
		Backend: c,
		Tasks:   cfg.Client.Tasks,
		Project: project,
		Tracker: newTracker(),
		Logger:  quiet,
	})
	if err := app.Run(push.NewSubscriber(c.WebsocketURL(), quiet)); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func isDaemonRunning(ctx context.Context, c *client.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_, err := c.CheckHealth(ctx)
	return err == nil
}

func startDaemon(ctx context.Context, c *client.Client) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	daemonArgs := []string{"daemon"}
	if configPath != "" {
		daemonArgs = append(daemonArgs, "--config", configPath)
	}
	cmd := exec.Command(exe, daemonArgs...)
	// Detach process so it survives TUI exit
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	// Wait for it to become ready
	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ { // Wait up to 5 seconds
		if isDaemonRunning(ctx, c) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", c.BaseURL())
}

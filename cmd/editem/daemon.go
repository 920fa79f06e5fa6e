package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/knaw-huc/editem/internal/audit"
	"github.com/knaw-huc/editem/internal/connectors/localexec"
	"github.com/knaw-huc/editem/internal/controlplane"
	"github.com/knaw-huc/editem/internal/push"
	"github.com/knaw-huc/editem/internal/runner"
	"github.com/knaw-huc/editem/internal/store"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the editem task server",
	Long:  `Starts the task server which runs tasks, serves the start/kill API and pushes progress over a websocket.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (default from config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (default from config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting editem daemon...")

	sc := cfg.Server
	if listenAddr != "" {
		sc.Listen = listenAddr
	}
	if dbPath != "" {
		sc.DB = dbPath
	}
	workDir := sc.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	// Initialize store
	s, err := store.New(sc.DB)
	if err != nil {
		return err
	}
	if n, err := s.CloseStaleRuns("daemon restarted"); err != nil {
		log.Printf("Warning: failed to close stale runs: %v", err)
	} else if n > 0 {
		log.Printf("Closed %d stale runs", n)
	}

	// Initialize components
	broker := push.NewBroker()
	connector := localexec.New(workDir, sc.Allowlist)
	r := runner.New(sc.Tasks, s, broker, connector, sc.Runner)
	log.Printf("Runner initialized with tasks %v", r.Tasks())

	service := controlplane.NewService(r, broker, s, audit.NewPDRWriter(s))
	server := controlplane.NewServer(service, broker, s, sc.Listen)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			r.Shutdown()
			s.Close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Stopping running tasks...")
	r.Shutdown()

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/knaw-huc/editem/internal/client"
	"github.com/knaw-huc/editem/internal/controlplane"
	"github.com/knaw-huc/editem/internal/dispatch"
	"github.com/knaw-huc/editem/internal/models"
	"github.com/knaw-huc/editem/internal/push"
	"github.com/knaw-huc/editem/internal/reconciler"
	"github.com/knaw-huc/editem/internal/session"
	"github.com/knaw-huc/editem/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Start a task",
	Args:  cobra.ExactArgs(1),
	RunE:  actionRunner(models.ActionStart),
}

var killCmd = &cobra.Command{
	Use:   "kill [task]",
	Short: "Kill a running task",
	Args:  cobra.ExactArgs(1),
	RunE:  actionRunner(models.ActionKill),
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the tasks the server can run",
	RunE:  runTasks,
}

var runsCmd = &cobra.Command{
	Use:   "runs [task]",
	Short: "Show the run history of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuns,
}

var watchCmd = &cobra.Command{
	Use:   "watch [task...]",
	Short: "Follow task progress and status without the TUI",
	Long: `Follows the push channel and prints every status and progress update.
Without task arguments, tasks are declared as their events arrive.`,
	RunE: runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show client and server versions",
	RunE:  runVersion,
}

var watchStart bool

func init() {
	watchCmd.Flags().BoolVar(&watchStart, "start", false, "Start the given tasks before watching")
}

func actionRunner(action models.Action) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().Do(cmd.Context(), args[0], action)
		if err != nil {
			return err
		}
		ev := resp.Event(args[0])
		if resp.Msg != "" {
			fmt.Printf("%s: %s (%s)\n", ev.Task, resp.Stat, resp.Msg)
		} else {
			fmt.Printf("%s: %s\n", ev.Task, resp.Stat)
		}
		return nil
	}
}

func runTasks(cmd *cobra.Command, args []string) error {
	tasks, err := newClient().ListTasks(cmd.Context())
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}
	for _, t := range tasks {
		fmt.Println(t)
	}
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	runs, err := newClient().Runs(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tSTAT\tSTARTED\tDURATION\tMSG")
	for _, r := range runs {
		duration := "-"
		if r.EndedAt != nil {
			duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID), r.Project, r.Stat,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration, truncate(r.Msg, 40))
	}
	w.Flush()
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tasks := args
	if len(tasks) == 0 {
		tasks = cfg.Client.Tasks
	}
	if watchStart && len(args) == 0 {
		return errors.New("--start needs at least one task")
	}

	c := newClient()
	sink := reconciler.NewWriterSink(os.Stdout, tui.Render)
	rec := reconciler.New(tasks, sink, reconciler.Options{
		Project: project,
		Dynamic: len(tasks) == 0,
		Tracker: newTracker(),
		Logger:  logger,
	})
	loop := session.New(rec, dispatch.New(c, rec, sink, logger), logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := push.NewSubscriber(c.WebsocketURL(), logger)
	if watchStart {
		// Start only once the server streams to us, or the start push is lost.
		ready := make(chan struct{})
		var once sync.Once
		sub.OnReady(func() { once.Do(func() { close(ready) }) })
		go loop.RequestWhenReady(ctx, ready, args, models.ActionStart)
	}

	subErr := make(chan error, 1)
	go func() {
		subErr <- sub.Run(ctx, loop.Messages())
		cancel()
	}()

	if err := loop.Run(ctx); err != nil {
		return err
	}
	select {
	case err := <-subErr:
		return err
	default:
		return nil
	}
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Printf("editem %s\n", controlplane.Version)

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	defer cancel()
	health, err := newClient().CheckHealth(ctx)
	if err != nil {
		var te *client.TransportError
		if errors.As(err, &te) && te.Code == 0 {
			fmt.Printf("server %s unreachable\n", apiAddr)
			return nil
		}
		return err
	}
	fmt.Printf("server %s (db %s)\n", health.Version, health.DB)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fentz26/tempo/internal/cache"
	"github.com/fentz26/tempo/internal/models"
	"github.com/fentz26/tempo/internal/state"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start [task]",
	Short: "Start a new timer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active timer",
	RunE:  runStop,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the active timer",
	RunE:  runPause,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the paused timer",
	RunE:  runResume,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active timer",
	RunE:  runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List completed timers",
	RunE:  runHistory,
}

var (
	startProject string
	startClient  string

	historyPage    int
	historyLimit   int
	historyFrom    string
	historyTo      string
	historyProject string
	historyClient  string
	historyTask    string
)

func init() {
	startCmd.Flags().StringVar(&startProject, "project", "", "Project label")
	startCmd.Flags().StringVar(&startClient, "client", "", "Client label")

	historyCmd.Flags().IntVar(&historyPage, "page", 1, "Page number")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Entries per page")
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "Only timers started on or after this date (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "Only timers started on or before this date (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&historyProject, "project", "", "Filter by project")
	historyCmd.Flags().StringVar(&historyClient, "client", "", "Filter by client")
	historyCmd.Flags().StringVar(&historyTask, "task", "", "Filter by task")
}

func runStart(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	form := models.StartForm{
		Task:    strings.Join(args, " "),
		Project: startProject,
		Client:  startClient,
	}
	resp := client.Start(form)
	if !resp.Success {
		return errors.New(resp.Error)
	}

	fmt.Printf("✓ Started timer for %q\n", resp.Timer.Task)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	id, err := activeTimerID(client)
	if err != nil {
		return err
	}

	resp := client.Stop(id)
	if !resp.Success {
		return errors.New(resp.Error)
	}

	if resp.Timer != nil {
		fmt.Printf("✓ Stopped timer for %q after %s\n", resp.Timer.Task, state.FormatElapsed(resp.Timer.Duration))
	} else {
		fmt.Println("✓ Timer stopped")
	}
	return nil
}

func runPause(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	id, err := activeTimerID(client)
	if err != nil {
		return err
	}

	resp := client.Pause(id)
	if !resp.Success {
		return errors.New(resp.Error)
	}

	fmt.Println("✓ Timer paused")
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	id, err := activeTimerID(client)
	if err != nil {
		return err
	}

	resp := client.Resume(id)
	if !resp.Success {
		return errors.New(resp.Error)
	}

	fmt.Println("✓ Timer resumed")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, mgr, err := newClient()
	if err != nil {
		return err
	}

	resp := client.Active()
	if !resp.Success {
		// Backend unreachable; fall back to the local cache.
		if t := cachedActive(mgr.ConfigDir()); t != nil {
			fmt.Println("(offline — showing cached state)")
			printActive(t)
			return nil
		}
		return errors.New(resp.Error)
	}

	if !resp.HasActiveTimer || resp.Timer == nil {
		fmt.Println("No timer running")
		return nil
	}

	printActive(resp.Timer)
	return nil
}

func printActive(t *models.Timer) {
	label := "running"
	if t.IsPaused {
		label = "paused"
	}
	fmt.Printf("%s  %s (%s)\n", state.FormatElapsed(state.Elapsed(t, time.Now())), t.Task, label)
	if t.Project != "" {
		fmt.Printf("  project: %s\n", t.Project)
	}
	if t.Client != "" {
		fmt.Printf("  client:  %s\n", t.Client)
	}
	if t.Note != "" {
		fmt.Printf("  note:    %s\n", t.Note)
	}
}

func cachedActive(configDir string) *models.Timer {
	c, err := cache.New(filepath.Join(configDir, "cache.db"))
	if err != nil {
		return nil
	}
	defer c.Close()

	active, _, err := c.LoadSnapshot()
	if err != nil {
		return nil
	}
	return active
}

func runHistory(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	filters := models.HistoryFilters{
		StartDate: historyFrom,
		EndDate:   historyTo,
		Project:   historyProject,
		Client:    historyClient,
		Task:      historyTask,
	}
	resp := client.History(historyPage, historyLimit, filters)
	if !resp.Success {
		return errors.New(resp.Error)
	}

	if len(resp.Timers) == 0 {
		fmt.Println("No completed timers")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tDURATION\tTASK\tPROJECT\tNOTE")
	for i := range resp.Timers {
		t := &resp.Timers[i]
		date := ""
		if started, err := t.StartedAt(); err == nil {
			date = started.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(t.ID), date, state.FormatElapsed(t.Duration), t.Task, t.Project, t.Note)
	}
	w.Flush()

	fmt.Printf("\nPage %d of %d\n", resp.CurrentPage, resp.TotalPages)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fentz26/tempo/internal/api"
	"github.com/fentz26/tempo/internal/auth"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tempo",
	Short: "tempo - time tracking from the terminal",
	Long:  `tempo tracks your work sessions against the tempo backend: start, pause and stop timers, annotate them, and browse your history, from the command line or the interactive TUI.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", defaultAPIAddr(), "Backend API address")

	// Add subcommands
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(tuiCmd)
}

// defaultAPIAddr resolves the backend address from the environment.
func defaultAPIAddr() string {
	if addr := os.Getenv("TEMPO_API_URL"); addr != "" {
		return addr
	}
	return "http://127.0.0.1:8001/api"
}

// newClient builds the API client with persisted credentials attached.
func newClient() (*api.Client, *auth.Manager, error) {
	mgr, err := auth.NewManager()
	if err != nil {
		return nil, nil, err
	}
	return api.NewClient(apiAddr, mgr), mgr, nil
}

// activeTimerID resolves the id of the current active timer.
func activeTimerID(client *api.Client) (string, error) {
	resp := client.Active()
	if !resp.Success {
		return "", errors.New(resp.Error)
	}
	if !resp.HasActiveTimer || resp.Timer == nil {
		return "", errors.New("no active timer")
	}
	return resp.Timer.ID, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fentz26/tempo/internal/models"
	"github.com/spf13/cobra"
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Manage timer notes",
}

var noteSetCmd = &cobra.Command{
	Use:   "set [note text]",
	Short: "Set the note on a timer (active timer by default)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runNoteSet,
}

var noteClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the note from a timer (active timer by default)",
	RunE:  runNoteClear,
}

var editCmd = &cobra.Command{
	Use:   "edit [timer-id]",
	Short: "Edit a completed timer",
	Args:  cobra.ExactArgs(1),
	RunE:  runEdit,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [timer-id]",
	Short: "Delete a completed timer",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var (
	noteTimerID string

	editTask    string
	editProject string
	editClient  string
	editNote    string
	editStart   string
	editEnd     string
)

func init() {
	noteCmd.AddCommand(noteSetCmd, noteClearCmd)
	noteSetCmd.Flags().StringVar(&noteTimerID, "timer", "", "Timer id (defaults to the active timer)")
	noteClearCmd.Flags().StringVar(&noteTimerID, "timer", "", "Timer id (defaults to the active timer)")

	editCmd.Flags().StringVar(&editTask, "task", "", "New task label")
	editCmd.Flags().StringVar(&editProject, "project", "", "New project label")
	editCmd.Flags().StringVar(&editClient, "client", "", "New client label")
	editCmd.Flags().StringVar(&editNote, "note", "", "New note")
	editCmd.Flags().StringVar(&editStart, "start", "", "New start time (RFC 3339)")
	editCmd.Flags().StringVar(&editEnd, "end", "", "New end time (RFC 3339)")
}

func noteTarget() (string, error) {
	if noteTimerID != "" {
		return noteTimerID, nil
	}
	client, _, err := newClient()
	if err != nil {
		return "", err
	}
	return activeTimerID(client)
}

func runNoteSet(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	id, err := noteTarget()
	if err != nil {
		return err
	}

	resp := client.UpdateNote(id, strings.Join(args, " "))
	if !resp.Success {
		return errors.New(resp.Error)
	}

	fmt.Println("✓ Note saved")
	return nil
}

func runNoteClear(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	id, err := noteTarget()
	if err != nil {
		return err
	}

	resp := client.DeleteNote(id)
	if !resp.Success {
		return errors.New(resp.Error)
	}

	fmt.Println("✓ Note removed")
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	data := models.EditData{
		Task:      editTask,
		Project:   editProject,
		Client:    editClient,
		Note:      editNote,
		StartTime: editStart,
		EndTime:   editEnd,
	}
	if data == (models.EditData{}) {
		return errors.New("nothing to change; pass at least one flag")
	}

	resp := client.Edit(args[0], data)
	if !resp.Success {
		return errors.New(resp.Error)
	}

	fmt.Println("✓ Timer updated")
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	resp := client.Delete(args[0])
	if !resp.Success {
		return errors.New(resp.Error)
	}

	fmt.Println("✓ Timer deleted")
	return nil
}

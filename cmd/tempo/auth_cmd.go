package main

import (
	"context"
	"fmt"

	"github.com/fentz26/tempo/internal/auth"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in via the browser",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove stored credentials",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE:  runWhoami,
}

func runLogin(cmd *cobra.Command, args []string) error {
	mgr, err := auth.NewManager()
	if err != nil {
		return err
	}

	if mgr.IsAuthenticated() {
		if user := mgr.GetUser(); user != nil {
			fmt.Printf("Already signed in as %s\n", user.Username)
			return nil
		}
	}

	fmt.Println("Opening browser for login...")
	session, err := mgr.Login(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("✓ Signed in as %s (%s)\n", session.User.Username, session.User.Email)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	mgr, err := auth.NewManager()
	if err != nil {
		return err
	}

	user := mgr.GetUser()
	if err := mgr.Logout(); err != nil {
		return err
	}

	if user != nil {
		fmt.Printf("✓ Signed out from %s\n", user.Username)
	} else {
		fmt.Println("✓ Signed out")
	}
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	mgr, err := auth.NewManager()
	if err != nil {
		return err
	}

	user := mgr.GetUser()
	if user == nil {
		fmt.Println("Not signed in. Use 'tempo login' to authenticate.")
		return nil
	}

	fmt.Printf("Signed in as %s (%s)\n", user.Username, user.Email)
	return nil
}

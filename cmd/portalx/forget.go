package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Delete the saved session for a portal account",
	RunE:  runForget,
}

var forgetUsername string

func init() {
	forgetCmd.Flags().StringVar(&forgetUsername, "username", "", "Portal username (defaults to the configured one)")
}

func runForget(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Shutdown()

	if err := application.Forget(cmd.Context(), config.Portal, forgetUsername); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Saved session for %s removed\n", config.Portal)
	return nil
}

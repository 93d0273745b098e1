package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/portalx/internal/app"
	"github.com/ternarybob/portalx/internal/models"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract eligibility and claims for one patient",
	Long:  `Logs in to the portal (reusing a saved session when possible), finds the patient and prints the extraction result as JSON.`,
	RunE:  runExtract,
}

var (
	extractQuery  models.PatientQuery
	extractOutput string
)

func init() {
	extractCmd.Flags().StringVar(&extractQuery.SubscriberID, "subscriber-id", "", "Subscriber / member ID")
	extractCmd.Flags().StringVar(&extractQuery.FirstName, "first-name", "", "Patient first name")
	extractCmd.Flags().StringVar(&extractQuery.LastName, "last-name", "", "Patient last name")
	extractCmd.Flags().StringVar(&extractQuery.DateOfBirth, "dob", "", "Patient date of birth (YYYY-MM-DD or MM/DD/YYYY)")
	extractCmd.Flags().StringVarP(&extractOutput, "out", "o", "", "Write JSON to this file instead of stdout")

	for _, name := range []string{"subscriber-id", "first-name", "last-name", "dob"} {
		_ = extractCmd.MarkFlagRequired(name)
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Shutdown()

	h, err := application.Initialize(ctx, app.InitOptions{OnLog: progressLine, OnOTP: otpProvider(config, os.Getenv)})
	if err != nil {
		return err
	}
	defer application.Close(h)

	result, err := application.ExtractPatientData(ctx, h, extractQuery, progressLine)
	if err != nil {
		return err
	}

	return writeJSON(extractOutput, result)
}

// writeJSON writes v indented to path, or stdout when path is empty
func writeJSON(path string, v any) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ternarybob/portalx/internal/app"
	"github.com/ternarybob/portalx/internal/models"
)

var batchCmd = &cobra.Command{
	Use:   "batch <patients.csv>",
	Short: "Extract every patient listed in a CSV file",
	Long: `Reads a CSV with subscriber_id, first_name, last_name and date_of_birth columns and
extracts each patient over one portal session. A failed patient is reported in its
entry and the batch carries on.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var batchOutput string

func init() {
	batchCmd.Flags().StringVarP(&batchOutput, "out", "o", "", "Write JSON to this file instead of stdout")
}

func runBatch(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	queries, err := readQueries(f)
	f.Close()
	if err != nil {
		return err
	}

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

	entries := application.ExtractBatch(ctx, h, queries, progressLine)

	failed := 0
	for _, e := range entries {
		if e.Err != nil {
			failed++
		}
	}
	logger.Info().Int("patients", len(entries)).Int("failed", failed).Msg("Batch finished")

	return writeJSON(batchOutput, entries)
}

// columnAliases maps accepted CSV header spellings to query fields
var columnAliases = map[string]string{
	"subscriber_id": "subscriber",
	"subscriberid":  "subscriber",
	"member_id":     "subscriber",
	"memberid":      "subscriber",
	"first_name":    "first",
	"firstname":     "first",
	"last_name":     "last",
	"lastname":      "last",
	"date_of_birth": "dob",
	"dateofbirth":   "dob",
	"dob":           "dob",
}

// readQueries parses the batch CSV. The header row decides column order.
func readQueries(r io.Reader) ([]models.PatientQuery, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("patient file is empty")
		}
		return nil, fmt.Errorf("failed to read patient file header: %w", err)
	}

	columns := map[string]int{}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if field, ok := columnAliases[key]; ok {
			columns[field] = i
		}
	}
	for _, field := range []string{"subscriber", "first", "last", "dob"} {
		if _, ok := columns[field]; !ok {
			return nil, fmt.Errorf("patient file is missing a %s column", field)
		}
	}

	var queries []models.PatientQuery
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read patient file line %d: %w", line, err)
		}

		cell := func(field string) string {
			if i := columns[field]; i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		q := models.PatientQuery{
			SubscriberID: cell("subscriber"),
			FirstName:    cell("first"),
			LastName:     cell("last"),
			DateOfBirth:  cell("dob"),
		}
		if q == (models.PatientQuery{}) {
			continue
		}
		queries = append(queries, q)
	}

	if len(queries) == 0 {
		return nil, fmt.Errorf("patient file has no patients")
	}
	return queries, nil
}

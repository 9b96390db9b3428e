package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chartline-health/chartline/pkg/common/models"
)

var recordCmd = &cobra.Command{
	Use:   "record <patient-id> <text>",
	Short: "Record a free-text observation for a patient",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patientID := args[0]
		text := strings.Join(args[1:], " ")

		var result models.ProcessResult
		path := fmt.Sprintf("/api/v1/patients/%s/observations", url.PathEscape(patientID))
		if err := call("POST", path, models.ProcessRequest{Text: text}, &result); err != nil {
			return err
		}

		fmt.Printf("Documented %d event(s)\n", len(result.AcceptedEvents))
		for _, event := range result.AcceptedEvents {
			fmt.Printf("  [%s] %s (confidence %.2f)\n", event.Kind, event.Description, event.Confidence)
		}
		if result.Note != nil {
			fmt.Println()
			fmt.Println(result.Note.Text)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)
}

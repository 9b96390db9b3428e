package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/chartline-health/chartline/pkg/common/models"
)

var noteCmd = &cobra.Command{
	Use:   "note <patient-id>",
	Short: "Render the nursing note for a patient's recent timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var note models.Note
		path := fmt.Sprintf("/api/v1/patients/%s/note", url.PathEscape(args[0]))
		if err := call("GET", path, nil, &note); err != nil {
			return err
		}
		fmt.Println(note.Text)
		return nil
	},
}

var frequencyCmd = &cobra.Command{
	Use:   "frequency <patient-id> <description>",
	Short: "Count occurrences of one documented description",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var report models.FrequencyReport
		path := fmt.Sprintf("/api/v1/patients/%s/frequency?description=%s",
			url.PathEscape(args[0]), url.QueryEscape(args[1]))
		if err := call("GET", path, nil, &report); err != nil {
			return err
		}

		fmt.Printf("%q documented %d time(s)\n", report.Description, report.Count)
		for _, event := range report.Occurrences {
			fmt.Printf("  [%s] %s\n", event.OnsetTime.Format("2006-01-02 15:04"), event.SourceText)
		}
		return nil
	},
}

var patientsCmd = &cobra.Command{
	Use:   "patients",
	Short: "List patients with documented events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Patients []string `json:"patients"`
		}
		if err := call("GET", "/api/v1/patients", nil, &resp); err != nil {
			return err
		}
		printJSON(resp.Patients)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(frequencyCmd)
	rootCmd.AddCommand(patientsCmd)
}

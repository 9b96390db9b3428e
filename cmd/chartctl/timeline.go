package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/chartline-health/chartline/pkg/common/models"
)

var timelineKind string

var timelineCmd = &cobra.Command{
	Use:   "timeline <patient-id>",
	Short: "Show a patient's chronological event timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patientID := args[0]

		path := fmt.Sprintf("/api/v1/patients/%s/timeline", url.PathEscape(patientID))
		if timelineKind != "" {
			path += "?kind=" + url.QueryEscape(timelineKind)
		}

		var resp struct {
			PatientID string                 `json:"patient_id"`
			Events    []models.ClinicalEvent `json:"events"`
		}
		if err := call("GET", path, nil, &resp); err != nil {
			return err
		}

		if len(resp.Events) == 0 {
			fmt.Println("No events documented yet.")
			return nil
		}

		for _, event := range resp.Events {
			fmt.Printf("[%s] %-11s %s", event.OnsetTime.Format("2006-01-02 15:04"), event.Kind, event.Description)
			if event.Measurement != nil {
				fmt.Printf(" %g %s", event.Measurement.Value, event.Measurement.Unit)
			}
			if event.FoodRelation != "" {
				fmt.Printf(" (%s)", event.FoodRelation)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	timelineCmd.Flags().StringVar(&timelineKind, "kind", "", "filter by event kind")
	rootCmd.AddCommand(timelineCmd)
}

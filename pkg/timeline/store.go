package timeline

import (
	"context"
	"sort"

	"github.com/chartline-health/chartline/pkg/common/models"
)

// Store is the durable, append-only record of accepted events per
// patient. There is no update or delete: corrections are new events
// carrying a supersedes reference.
type Store interface {
	// Append stores event, rejecting a duplicate id with a
	// duplicate_event fault.
	Append(ctx context.Context, event models.ClinicalEvent) error

	// Get returns the event with the given id, or nil when absent.
	Get(ctx context.Context, patientID, eventID string) (*models.ClinicalEvent, error)

	// Query returns the patient's events matching filter, ordered by
	// onset time ascending with insertion order as the tie-break.
	Query(ctx context.Context, patientID string, filter models.EventFilter) ([]models.ClinicalEvent, error)

	// Latest returns the n most recently inserted events in insertion
	// order (oldest of the window first).
	Latest(ctx context.Context, patientID string, n int) ([]models.ClinicalEvent, error)

	// Patients lists every patient id with at least one event.
	Patients(ctx context.Context) ([]string, error)
}

// matches applies filter to one event; the time range is inclusive on
// both ends.
func matches(event models.ClinicalEvent, filter models.EventFilter, idSet map[string]struct{}) bool {
	if filter.Kind != "" && event.Kind != filter.Kind {
		return false
	}
	if !filter.From.IsZero() && event.OnsetTime.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && event.OnsetTime.After(filter.To) {
		return false
	}
	if idSet != nil {
		if _, ok := idSet[event.ID]; !ok {
			return false
		}
	}
	return true
}

func idSetOf(filter models.EventFilter) map[string]struct{} {
	if len(filter.IDs) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(filter.IDs))
	for _, id := range filter.IDs {
		set[id] = struct{}{}
	}
	return set
}

// sortByOnset orders events by onset ascending. The input must already be
// in insertion order; the stable sort preserves it as the tie-break.
func sortByOnset(events []models.ClinicalEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OnsetTime.Before(events[j].OnsetTime)
	})
}

package synthesis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chartline-health/chartline/pkg/common/models"
)

// SupersededPolicy controls how corrected events appear in notes.
type SupersededPolicy string

const (
	// OmitSuperseded drops superseded events from rendering entirely.
	OmitSuperseded SupersededPolicy = "omit"
	// AnnotateSuperseded renders them with a correction marker.
	AnnotateSuperseded SupersededPolicy = "annotate"
)

const (
	noteHeader = "=== NURSING DOCUMENTATION ===\n"
	noteFooter = "\n\nNote: This is documentation only. No clinical interpretation provided."
	emptyNote  = "No events documented during this period."
)

// Synthesizer renders timeline events into nursing-style prose with
// deterministic, kind-keyed templates. Rendering never calls a model; the
// same events always produce the same text.
type Synthesizer struct {
	scanner    *SafetyScanner
	superseded SupersededPolicy
	now        func() time.Time
}

func New(scanner *SafetyScanner, superseded SupersededPolicy) *Synthesizer {
	if superseded != AnnotateSuperseded {
		superseded = OmitSuperseded
	}
	return &Synthesizer{scanner: scanner, superseded: superseded, now: time.Now}
}

// Render produces a note over the given events, in onset-time ascending
// order. The returned note carries the ids of every event actually
// rendered; no ids appear in the visible text.
func (s *Synthesizer) Render(patientID string, events []models.ClinicalEvent) (*models.Note, error) {
	events = dedupeByID(events)

	supersededIDs := make(map[string]struct{})
	for _, event := range events {
		if event.Supersedes != "" {
			supersededIDs[event.Supersedes] = struct{}{}
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OnsetTime.Before(events[j].OnsetTime)
	})

	var sentences []string
	var usedIDs []string
	for _, event := range events {
		_, superseded := supersededIDs[event.ID]
		if superseded && s.superseded == OmitSuperseded {
			continue
		}
		sentence := renderEvent(event)
		if superseded {
			sentence += " [superseded by a later correction]"
		}
		sentences = append(sentences, sentence)
		usedIDs = append(usedIDs, event.ID)
	}

	var text string
	if len(sentences) == 0 {
		text = emptyNote
	} else {
		text = noteHeader + strings.Join(sentences, "\n") + noteFooter
	}

	if err := s.scanner.Check(text); err != nil {
		return nil, err
	}

	return &models.Note{
		PatientID:   patientID,
		Text:        text,
		EventIDs:    usedIDs,
		GeneratedAt: s.now(),
	}, nil
}

func renderEvent(event models.ClinicalEvent) string {
	when := event.OnsetTime.Format("Jan 2 15:04")

	switch event.Kind {
	case models.KindSymptom:
		sentence := fmt.Sprintf("Patient reported %s at %s", event.Description, when)
		if event.FoodRelation != "" {
			sentence += " " + event.FoodRelation
		}
		if event.Frequency != "" {
			sentence += fmt.Sprintf(" (%s)", event.Frequency)
		}
		return sentence + "."

	case models.KindMedication:
		sentence := "Patient-reported intake of " + event.Description
		if event.Measurement != nil {
			sentence += " " + formatValue(event.Measurement.Value) + " " + event.Measurement.Unit
		}
		route := event.Route
		if route == "" {
			route = "oral"
		}
		sentence += fmt.Sprintf(" via %s route at %s", route, when)
		if event.FoodRelation != "" {
			sentence += " " + event.FoodRelation
		}
		return sentence + "."

	case models.KindVitalSign:
		sentence := "Recorded " + event.Description
		if event.Measurement != nil {
			sentence += ": " + formatValue(event.Measurement.Value) + " " + event.Measurement.Unit
		}
		return sentence + fmt.Sprintf(" at %s.", when)

	case models.KindObservation:
		return fmt.Sprintf("Documented observation at %s: %s.", when, event.Description)

	default:
		return fmt.Sprintf("Documented at %s: %s.", when, event.Description)
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func dedupeByID(events []models.ClinicalEvent) []models.ClinicalEvent {
	seen := make(map[string]struct{}, len(events))
	out := make([]models.ClinicalEvent, 0, len(events))
	for _, event := range events {
		if _, ok := seen[event.ID]; ok {
			continue
		}
		seen[event.ID] = struct{}{}
		out = append(out, event)
	}
	return out
}

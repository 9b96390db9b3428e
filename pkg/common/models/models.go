package models

import (
	"time"
)

// EventKind is the closed set of clinical event categories.
type EventKind string

const (
	KindSymptom     EventKind = "symptom"
	KindMedication  EventKind = "medication"
	KindVitalSign   EventKind = "vital_sign"
	KindObservation EventKind = "observation"
	KindOther       EventKind = "other"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindSymptom, KindMedication, KindVitalSign, KindObservation, KindOther:
		return true
	}
	return false
}

// Measurement is an optional structured value attached to an event,
// e.g. value=38.5 unit="°C" or value=500 unit="mg".
type Measurement struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// ClinicalEvent is a single structured observation extracted from free
// text. Events are immutable once appended; corrections reference the
// superseded event via Supersedes rather than editing in place.
type ClinicalEvent struct {
	ID           string       `json:"id"`
	PatientID    string       `json:"patient_id"`
	Kind         EventKind    `json:"kind"`
	Description  string       `json:"description"`
	Measurement  *Measurement `json:"measurement,omitempty"`
	OnsetTime    time.Time    `json:"onset_time"`
	Confidence   float64      `json:"confidence"`
	SourceText   string       `json:"source_text"`
	EmbeddingRef string       `json:"embedding_ref,omitempty"`
	Supersedes   string       `json:"supersedes,omitempty"`

	// Attributes carried from the nursing narrative.
	FoodRelation string `json:"food_relation,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	Route        string `json:"route,omitempty"`

	RecordedAt time.Time `json:"recorded_at"`
}

// EventFilter narrows a timeline query. Zero values mean "no constraint".
type EventFilter struct {
	Kind  EventKind `json:"kind,omitempty"`
	From  time.Time `json:"from,omitempty"`
	To    time.Time `json:"to,omitempty"`
	IDs   []string  `json:"ids,omitempty"`
	Limit int       `json:"limit,omitempty"`
}

// Note is an ephemeral rendered artifact. It is regenerable from the
// timeline and never persisted by the core.
type Note struct {
	PatientID   string    `json:"patient_id"`
	Text        string    `json:"text"`
	EventIDs    []string  `json:"event_ids"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ProcessResult is the outcome of one process_text unit of work.
type ProcessResult struct {
	AcceptedEvents []ClinicalEvent `json:"accepted_events"`
	Note           *Note           `json:"note,omitempty"`
}

// ProcessRequest is the inbound payload for recording an observation.
type ProcessRequest struct {
	Text string `json:"text"`
}

// FrequencyReport counts occurrences of one description in a timeline.
type FrequencyReport struct {
	PatientID   string          `json:"patient_id"`
	Description string          `json:"description"`
	Count       int             `json:"count"`
	Occurrences []ClinicalEvent `json:"occurrences"`
}

// AuditRecord is what the pipeline publishes to the event bus after a
// successful commit.
type AuditRecord struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // event.accepted, note.synthesized
	Source    string                 `json:"source"`
	PatientID string                 `json:"patient_id"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

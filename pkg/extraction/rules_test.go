package extraction

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/chartline-health/chartline/pkg/common/models"
	"github.com/chartline-health/chartline/pkg/normalizer"
)

func ruleModelAt(t *testing.T, ref time.Time) *RuleModel {
	t.Helper()
	m := NewRuleModel(DefaultVocabulary())
	m.now = func() time.Time { return ref }
	return m
}

func mustNormalize(t *testing.T, raw string) *normalizer.Normalized {
	t.Helper()
	norm, err := normalizer.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	return norm
}

func TestRuleModelExtractsSymptomAndMedication(t *testing.T) {
	ref := time.Date(2026, 1, 8, 11, 30, 0, 0, time.UTC)
	m := ruleModelAt(t, ref)

	norm := mustNormalize(t, "Patient reports headache, took 500mg acetaminophen at 9am")
	candidates, err := m.Extract(context.Background(), norm, nil)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(candidates), candidates)
	}

	symptom := candidates[0]
	if symptom.Kind != models.KindSymptom || symptom.Description != "headache" {
		t.Errorf("unexpected first candidate %+v", symptom)
	}

	med := candidates[1]
	if med.Kind != models.KindMedication || med.Description != "acetaminophen" {
		t.Errorf("unexpected second candidate %+v", med)
	}
	if med.Measurement == nil || med.Measurement.Value != 500 || med.Measurement.Unit != "mg" {
		t.Errorf("expected dose 500 mg, got %+v", med.Measurement)
	}

	want := time.Date(2026, 1, 8, 9, 0, 0, 0, time.UTC)
	if !med.Onset.Equal(want) {
		t.Errorf("expected onset %v, got %v", want, med.Onset)
	}
}

func TestRuleModelParsesClockTimes(t *testing.T) {
	ref := time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)
	m := ruleModelAt(t, ref)

	cases := []struct {
		text string
		hour int
		min  int
	}{
		{"headache at 9:30 pm", 21, 30},
		{"headache at 12 am", 0, 0},
		{"headache this morning", 8, 0},
		{"headache at night", 21, 0},
		{"headache at 21:15", 21, 15},
	}

	for _, tc := range cases {
		candidates, err := m.Extract(context.Background(), mustNormalize(t, tc.text), nil)
		if err != nil {
			t.Fatalf("%q: extract failed: %v", tc.text, err)
		}
		if len(candidates) != 1 {
			t.Fatalf("%q: expected 1 candidate, got %d", tc.text, len(candidates))
		}
		onset := candidates[0].Onset
		if onset.Hour() != tc.hour || onset.Minute() != tc.min {
			t.Errorf("%q: expected %02d:%02d, got %v", tc.text, tc.hour, tc.min, onset)
		}
	}
}

func TestRuleModelExtractsVitals(t *testing.T) {
	m := ruleModelAt(t, time.Now())

	cases := []struct {
		text  string
		desc  string
		value float64
		unit  string
	}{
		{"temperature 38.5 °C recorded", "temperature", 38.5, "°C"},
		{"bp 120/80 this morning", "blood pressure 120/80", 120, "mmHg"},
		{"pulse 72 steady", "pulse", 72, "bpm"},
		{"spo2 97% on room air", "oxygen saturation", 97, "%"},
	}

	for _, tc := range cases {
		candidates, err := m.Extract(context.Background(), mustNormalize(t, tc.text), nil)
		if err != nil {
			t.Fatalf("%q: extract failed: %v", tc.text, err)
		}
		if len(candidates) != 1 {
			t.Fatalf("%q: expected 1 candidate, got %d: %+v", tc.text, len(candidates), candidates)
		}
		c := candidates[0]
		if c.Kind != models.KindVitalSign || c.Description != tc.desc {
			t.Errorf("%q: unexpected candidate %+v", tc.text, c)
		}
		if c.Measurement == nil || c.Measurement.Value != tc.value || c.Measurement.Unit != tc.unit {
			t.Errorf("%q: unexpected measurement %+v", tc.text, c.Measurement)
		}
	}
}

func TestRuleModelAttachesFoodAndFrequency(t *testing.T) {
	m := ruleModelAt(t, time.Now())

	candidates, err := m.Extract(context.Background(), mustNormalize(t, "headache again after food in the morning"), nil)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].FoodRelation != "after food" {
		t.Errorf("expected food relation, got %q", candidates[0].FoodRelation)
	}
	if candidates[0].Frequency != "again" {
		t.Errorf("expected frequency marker, got %q", candidates[0].Frequency)
	}
}

func TestRuleModelKeepsOffsetsOnNonASCIIInput(t *testing.T) {
	m := ruleModelAt(t, time.Date(2026, 1, 8, 10, 0, 0, 0, time.UTC))

	// Characters whose Unicode lowercase form has a different byte length
	// (U+212A lowers 3 bytes -> 1, U+0130 expands) must not shift or
	// overrun the candidate spans.
	cases := []string{
		"Patient temp 38K reports headache",
		"Nurse İnci notes headache",
	}
	for _, raw := range cases {
		norm := mustNormalize(t, raw)
		candidates, err := m.Extract(context.Background(), norm, nil)
		if err != nil {
			t.Fatalf("%q: extract failed: %v", raw, err)
		}

		found := false
		for _, c := range candidates {
			if c.Kind != models.KindSymptom {
				continue
			}
			found = true
			if got := raw[c.SpanStart:c.SpanEnd]; got != "headache" {
				t.Errorf("%q: span resolves to %q", raw, got)
			}
		}
		if !found {
			t.Errorf("%q: expected a headache candidate, got %+v", raw, candidates)
		}
	}
}

func TestRuleModelMatchesWholeWordsOnly(t *testing.T) {
	m := ruleModelAt(t, time.Now())

	candidates, err := m.Extract(context.Background(), mustNormalize(t, "patient is aspiring to feel better"), nil)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates, got %+v", candidates)
	}
}

func TestRuleModelIsDeterministic(t *testing.T) {
	m := ruleModelAt(t, time.Date(2026, 1, 8, 10, 0, 0, 0, time.UTC))
	norm := mustNormalize(t, "fever and chills at night. took paracetamol 500 mg after dinner.")

	first, err := m.Extract(context.Background(), norm, nil)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	second, err := m.Extract(context.Background(), norm, nil)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated extraction differs:\n%+v\nvs\n%+v", first, second)
	}
}

package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chartline-health/chartline/pkg/common/faults"
	"github.com/chartline-health/chartline/pkg/common/models"
	"github.com/chartline-health/chartline/pkg/normalizer"
)

type stubModel struct {
	candidates []Candidate
	err        error
}

func (s *stubModel) Extract(ctx context.Context, norm *normalizer.Normalized, contextEvents []models.ClinicalEvent) ([]Candidate, error) {
	return s.candidates, s.err
}

func TestExtractorFiltersBelowThreshold(t *testing.T) {
	model := &stubModel{candidates: []Candidate{
		{Kind: models.KindSymptom, Description: "headache", Confidence: 0.9, SpanStart: 0, SpanEnd: 8},
		{Kind: models.KindSymptom, Description: "nausea", Confidence: 0.4, SpanStart: 10, SpanEnd: 16},
	}}
	ex := NewExtractor(model, 0.6)

	norm := mustNormalize(t, "headache, nausea")
	events, err := ex.Extract(context.Background(), "p-1", norm, nil)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(events) != 1 || events[0].Description != "headache" {
		t.Fatalf("expected only headache to survive, got %+v", events)
	}
}

func TestExtractorAllBelowThresholdYieldsEmpty(t *testing.T) {
	model := &stubModel{candidates: []Candidate{
		{Kind: models.KindSymptom, Description: "headache", Confidence: 0.3, SpanEnd: 8},
	}}
	ex := NewExtractor(model, 0.6)

	events, err := ex.Extract(context.Background(), "p-1", mustNormalize(t, "headache"), nil)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}

func TestExtractorDedupesOverlappingSpans(t *testing.T) {
	model := &stubModel{candidates: []Candidate{
		{Kind: models.KindSymptom, Description: "pain", Confidence: 0.7, SpanStart: 6, SpanEnd: 10},
		{Kind: models.KindSymptom, Description: "chest pain", Confidence: 0.9, SpanStart: 0, SpanEnd: 10},
		{Kind: models.KindSymptom, Description: "chest", Confidence: 0.9, SpanStart: 0, SpanEnd: 5},
	}}
	ex := NewExtractor(model, 0.5)

	events, err := ex.Extract(context.Background(), "p-1", mustNormalize(t, "chest pain"), nil)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	// "chest pain" replaces "pain" (higher confidence); "chest" ties with
	// the kept candidate and loses to the earlier one.
	if len(events) != 1 || events[0].Description != "chest pain" {
		t.Fatalf("expected single deduped event, got %+v", events)
	}
	if events[0].SourceText != "chest pain" {
		t.Errorf("expected source span %q, got %q", "chest pain", events[0].SourceText)
	}
}

func TestExtractorDedupIsDeterministic(t *testing.T) {
	model := &stubModel{candidates: []Candidate{
		{Kind: models.KindSymptom, Description: "first", Confidence: 0.8, SpanStart: 0, SpanEnd: 5},
		{Kind: models.KindSymptom, Description: "second", Confidence: 0.8, SpanStart: 3, SpanEnd: 8},
	}}
	ex := NewExtractor(model, 0.5)

	for i := 0; i < 5; i++ {
		events, err := ex.Extract(context.Background(), "p-1", mustNormalize(t, "overlapping"), nil)
		if err != nil {
			t.Fatalf("extract failed: %v", err)
		}
		if len(events) != 1 || events[0].Description != "first" {
			t.Fatalf("run %d: expected earlier candidate to win the tie, got %+v", i, events)
		}
	}
}

func TestExtractorAssignsIDsAndOnsetFallback(t *testing.T) {
	onset := time.Date(2026, 1, 8, 9, 0, 0, 0, time.UTC)
	model := &stubModel{candidates: []Candidate{
		{Kind: models.KindSymptom, Description: "headache", Confidence: 0.9, Onset: onset, SpanEnd: 8},
		{Kind: models.KindSymptom, Description: "nausea", Confidence: 0.9, SpanStart: 10, SpanEnd: 16},
	}}
	ex := NewExtractor(model, 0.5)
	recordedAt := time.Date(2026, 1, 8, 11, 0, 0, 0, time.UTC)
	ex.now = func() time.Time { return recordedAt }

	events, err := ex.Extract(context.Background(), "p-1", mustNormalize(t, "headache, nausea"), nil)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID == "" || events[1].ID == "" || events[0].ID == events[1].ID {
		t.Errorf("expected distinct non-empty ids, got %q and %q", events[0].ID, events[1].ID)
	}
	if events[0].EmbeddingRef != events[0].ID {
		t.Errorf("embedding ref should match event id")
	}
	if !events[0].OnsetTime.Equal(onset) {
		t.Errorf("expected explicit onset %v, got %v", onset, events[0].OnsetTime)
	}
	if !events[1].OnsetTime.Equal(recordedAt) {
		t.Errorf("expected onset fallback to recording time, got %v", events[1].OnsetTime)
	}
	if events[0].PatientID != "p-1" {
		t.Errorf("expected patient id to be stamped, got %q", events[0].PatientID)
	}
}

func TestExtractorMapsModelErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want faults.Kind
	}{
		{"deadline", context.DeadlineExceeded, faults.KindTimeout},
		{"canceled", context.Canceled, faults.KindTimeout},
		{"inference", errors.New("model exploded"), faults.KindExtraction},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ex := NewExtractor(&stubModel{err: tc.err}, 0.5)
			_, err := ex.Extract(context.Background(), "p-1", mustNormalize(t, "anything"), nil)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := faults.KindOf(err); got != tc.want {
				t.Errorf("expected fault kind %q, got %q (%v)", tc.want, got, err)
			}
		})
	}
}

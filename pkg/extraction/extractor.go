package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/chartline-health/chartline/pkg/common/faults"
	"github.com/chartline-health/chartline/pkg/common/logger"
	"github.com/chartline-health/chartline/pkg/common/models"
	"github.com/chartline-health/chartline/pkg/normalizer"
)

// Extractor applies the acceptance policy on top of a model: confidence
// thresholding, overlapping-span dedup, id and onset assignment.
type Extractor struct {
	model     Model
	threshold float64
	now       func() time.Time
}

func NewExtractor(model Model, threshold float64) *Extractor {
	return &Extractor{model: model, threshold: threshold, now: time.Now}
}

// Extract runs the model and turns surviving candidates into immutable
// clinical events. The result order follows candidate order, so the same
// model output always yields the same accepted set.
func (e *Extractor) Extract(ctx context.Context, patientID string, norm *normalizer.Normalized, contextEvents []models.ClinicalEvent) ([]models.ClinicalEvent, error) {
	candidates, err := e.model.Extract(ctx, norm, contextEvents)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, faults.Timeout("extraction exceeded its deadline", err)
		}
		return nil, faults.Extraction("model inference failed", err)
	}

	accepted := dedupe(thresholdFilter(candidates, e.threshold))

	recordedAt := e.now()
	events := make([]models.ClinicalEvent, 0, len(accepted))
	for _, c := range accepted {
		onset := c.Onset
		if onset.IsZero() {
			onset = recordedAt
		}
		id := uuid.New().String()
		events = append(events, models.ClinicalEvent{
			ID:           id,
			PatientID:    patientID,
			Kind:         c.Kind,
			Description:  c.Description,
			Measurement:  c.Measurement,
			OnsetTime:    onset,
			Confidence:   c.Confidence,
			SourceText:   sourceSpan(norm.Raw, c.SpanStart, c.SpanEnd),
			EmbeddingRef: id,
			Supersedes:   c.Supersedes,
			FoodRelation: c.FoodRelation,
			Frequency:    c.Frequency,
			Route:        c.Route,
			RecordedAt:   recordedAt,
		})
	}

	logger.WithFields(map[string]interface{}{
		"patient_id": patientID,
		"candidates": len(candidates),
		"accepted":   len(events),
	}).Debug("Extraction complete")

	return events, nil
}

func thresholdFilter(candidates []Candidate, threshold float64) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Confidence >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// dedupe drops candidates whose span overlaps an already-kept candidate,
// unless the newcomer has strictly higher confidence, in which case it
// replaces the kept one. Ties go to the earlier extraction.
func dedupe(candidates []Candidate) []Candidate {
	var kept []Candidate
	for _, c := range candidates {
		replaced := false
		skip := false
		for i, k := range kept {
			if !overlaps(c, k) {
				continue
			}
			if c.Confidence > k.Confidence {
				kept[i] = c
				replaced = true
			} else {
				skip = true
			}
			break
		}
		if !replaced && !skip {
			kept = append(kept, c)
		}
	}
	return kept
}

func overlaps(a, b Candidate) bool {
	return a.SpanStart < b.SpanEnd && b.SpanStart < a.SpanEnd
}

func sourceSpan(raw string, start, end int) string {
	if start < 0 || end > len(raw) || start >= end {
		return raw
	}
	return raw[start:end]
}

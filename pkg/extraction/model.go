package extraction

import (
	"context"
	"time"

	"github.com/chartline-health/chartline/pkg/common/models"
	"github.com/chartline-health/chartline/pkg/normalizer"
)

// Candidate is one event proposed by a model before the acceptance policy
// has run. Span offsets index into the raw input text.
type Candidate struct {
	Kind        models.EventKind
	Description string
	Measurement *models.Measurement
	Confidence  float64

	// Onset is the best-effort timestamp parsed from the text; zero when
	// the text carried no time information.
	Onset time.Time

	SpanStart int
	SpanEnd   int

	FoodRelation string
	Frequency    string
	Route        string
	Supersedes   string
}

// Model maps normalized text (plus retrieved context events) to zero or
// more candidates. Implementations must be deterministic for a fixed
// input so the acceptance policy downstream stays deterministic.
type Model interface {
	Extract(ctx context.Context, norm *normalizer.Normalized, contextEvents []models.ClinicalEvent) ([]Candidate, error)
}

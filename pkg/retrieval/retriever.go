package retrieval

import (
	"context"

	"github.com/chartline-health/chartline/pkg/common/logger"
	"github.com/chartline-health/chartline/pkg/common/models"
	"github.com/chartline-health/chartline/pkg/embedding"
	"github.com/chartline-health/chartline/pkg/index"
	"github.com/chartline-health/chartline/pkg/timeline"
)

// Retriever assembles the semantic context handed to extraction and
// synthesis. It is purely a read-side composition: it never invents
// events, only resolves index hits back through the timeline store.
type Retriever struct {
	embedder      embedding.Embedder
	indexes       *index.Manager
	store         timeline.Store
	k             int
	minSimilarity float64
}

func New(embedder embedding.Embedder, indexes *index.Manager, store timeline.Store, k int, minSimilarity float64) *Retriever {
	return &Retriever{
		embedder:      embedder,
		indexes:       indexes,
		store:         store,
		k:             k,
		minSimilarity: minSimilarity,
	}
}

// Related returns up to k prior events semantically related to text, in
// similarity-descending order. Hits below the similarity threshold are
// dropped even when they are among the top k.
func (r *Retriever) Related(ctx context.Context, patientID, text string) ([]models.ClinicalEvent, error) {
	ix, err := r.indexes.ForPatient(patientID)
	if err != nil {
		return nil, err
	}
	if ix.Count() == 0 {
		return nil, nil
	}

	vector, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	hits := ix.Query(vector, r.k)

	events := make([]models.ClinicalEvent, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity < r.minSimilarity {
			continue
		}
		event, err := r.store.Get(ctx, patientID, hit.EventID)
		if err != nil {
			return nil, err
		}
		if event == nil {
			// Index entry without a timeline record; skip rather than
			// fabricate.
			logger.WithFields(map[string]interface{}{
				"patient_id": patientID,
				"event_id":   hit.EventID,
			}).Warn("Index hit missing from timeline")
			continue
		}
		events = append(events, *event)
	}

	return events, nil
}

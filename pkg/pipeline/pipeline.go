package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chartline-health/chartline/pkg/audit"
	"github.com/chartline-health/chartline/pkg/common/faults"
	"github.com/chartline-health/chartline/pkg/common/logger"
	"github.com/chartline-health/chartline/pkg/common/models"
	"github.com/chartline-health/chartline/pkg/embedding"
	"github.com/chartline-health/chartline/pkg/extraction"
	"github.com/chartline-health/chartline/pkg/index"
	"github.com/chartline-health/chartline/pkg/normalizer"
	"github.com/chartline-health/chartline/pkg/retrieval"
	"github.com/chartline-health/chartline/pkg/synthesis"
	"github.com/chartline-health/chartline/pkg/timeline"
)

// Options bounds the pipeline's per-unit work.
type Options struct {
	ExtractionTimeout time.Duration
	SynthesisWindow   int
}

// Pipeline owns the shared model, index and store instances and runs the
// full extract-commit-synthesize unit of work. It is an explicitly owned
// object injected into the transport layer, not process-global state, so
// independent pipelines (or test doubles) can coexist in one process.
type Pipeline struct {
	extractor   *extraction.Extractor
	embedder    embedding.Embedder
	indexes     *index.Manager
	store       timeline.Store
	retriever   *retrieval.Retriever
	synthesizer *synthesis.Synthesizer
	publisher   *audit.Publisher
	cache       *notecacheHandle
	opts        Options

	mu           sync.Mutex
	patientLocks map[string]*sync.Mutex
}

func New(
	extractor *extraction.Extractor,
	embedder embedding.Embedder,
	indexes *index.Manager,
	store timeline.Store,
	retriever *retrieval.Retriever,
	synthesizer *synthesis.Synthesizer,
	publisher *audit.Publisher,
	cache NoteCache,
	opts Options,
) *Pipeline {
	if opts.ExtractionTimeout <= 0 {
		opts.ExtractionTimeout = 20 * time.Second
	}
	if opts.SynthesisWindow <= 0 {
		opts.SynthesisWindow = 20
	}
	return &Pipeline{
		extractor:    extractor,
		embedder:     embedder,
		indexes:      indexes,
		store:        store,
		retriever:    retriever,
		synthesizer:  synthesizer,
		publisher:    publisher,
		cache:        wrapCache(cache),
		opts:         opts,
		patientLocks: make(map[string]*sync.Mutex),
	}
}

// ProcessText is the single entry point: normalize, retrieve context,
// extract, commit accepted events to the timeline and index, then render
// a note. Units for the same patient are serialized; units for different
// patients run concurrently against the shared model and index.
func (p *Pipeline) ProcessText(ctx context.Context, patientID, text string) (*models.ProcessResult, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, faults.Validation("patient id is required")
	}

	norm, err := normalizer.Normalize(text)
	if err != nil {
		return nil, err
	}

	unlock := p.lockPatient(patientID)
	defer unlock()

	contextEvents, err := p.retriever.Related(ctx, patientID, norm.Text)
	if err != nil {
		return nil, asFault(err, "context retrieval failed")
	}

	extractCtx, cancel := context.WithTimeout(ctx, p.opts.ExtractionTimeout)
	defer cancel()
	accepted, err := p.extractor.Extract(extractCtx, patientID, norm, contextEvents)
	if err != nil {
		return nil, err
	}

	if len(accepted) > 0 {
		if err := p.commit(ctx, patientID, accepted); err != nil {
			return nil, err
		}
		p.cache.invalidate(ctx, patientID)
		p.publishAccepted(ctx, patientID, accepted)
	}

	note, err := p.renderNote(ctx, patientID, accepted, contextEvents)
	if err != nil {
		// Committed events are never rolled back because a downstream
		// synthesis step failed; the caller gets both.
		return &models.ProcessResult{AcceptedEvents: accepted}, err
	}
	p.cache.put(ctx, note)
	_ = p.publisher.Publish(ctx, "note.synthesized", patientID, map[string]interface{}{
		"event_ids":    note.EventIDs,
		"generated_at": note.GeneratedAt,
	})

	return &models.ProcessResult{AcceptedEvents: accepted, Note: note}, nil
}

// commit writes events to the timeline and index: each event is either
// fully committed to both or to neither. All embeddings are computed
// before the first write so an embedder fault mutates nothing.
func (p *Pipeline) commit(ctx context.Context, patientID string, events []models.ClinicalEvent) error {
	ix, err := p.indexes.ForPatient(patientID)
	if err != nil {
		return faults.Storage("load embedding index", err)
	}

	vectors := make([][]float32, len(events))
	for i, event := range events {
		vector, err := p.embedder.Embed(ctx, embedText(event))
		if err != nil {
			return asFault(err, "embedding failed")
		}
		vectors[i] = vector
	}

	for _, event := range events {
		if existing, err := p.store.Get(ctx, patientID, event.ID); err != nil {
			return asFault(err, "duplicate check failed")
		} else if existing != nil {
			return faults.DuplicateEvent(event.ID)
		}
	}

	for i, event := range events {
		if err := p.store.Append(ctx, event); err != nil {
			return err
		}
		ix.Insert(event.EmbeddingRef, event.OnsetTime, vectors[i])
	}

	if err := faults.Retry(3, 100*time.Millisecond, func() error {
		return p.indexes.Save(patientID)
	}); err != nil {
		// The timeline is durable and the index is rebuilt in memory; a
		// failed snapshot is logged, not surfaced.
		logger.WithField("patient_id", patientID).WithError(err).Error("Failed to persist embedding index")
	}

	return nil
}

func (p *Pipeline) renderNote(ctx context.Context, patientID string, accepted, contextEvents []models.ClinicalEvent) (*models.Note, error) {
	window, err := p.store.Latest(ctx, patientID, p.opts.SynthesisWindow)
	if err != nil {
		return nil, asFault(err, "timeline window failed")
	}

	combined := make([]models.ClinicalEvent, 0, len(window)+len(accepted)+len(contextEvents))
	combined = append(combined, window...)
	combined = append(combined, accepted...)
	combined = append(combined, contextEvents...)

	return p.synthesizer.Render(patientID, combined)
}

// GetTimeline is the read-only query surface over one patient's events.
func (p *Pipeline) GetTimeline(ctx context.Context, patientID string, filter models.EventFilter) ([]models.ClinicalEvent, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, faults.Validation("patient id is required")
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, faults.Validation(fmt.Sprintf("unknown event kind %q", filter.Kind))
	}
	return p.store.Query(ctx, patientID, filter)
}

// LatestNote renders (or returns the cached) note over the most recent
// window of the patient's timeline.
func (p *Pipeline) LatestNote(ctx context.Context, patientID string) (*models.Note, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, faults.Validation("patient id is required")
	}

	if note := p.cache.get(ctx, patientID); note != nil {
		return note, nil
	}

	window, err := p.store.Latest(ctx, patientID, p.opts.SynthesisWindow)
	if err != nil {
		return nil, asFault(err, "timeline window failed")
	}
	note, err := p.synthesizer.Render(patientID, window)
	if err != nil {
		return nil, err
	}
	p.cache.put(ctx, note)
	return note, nil
}

// Frequency reports how often a description occurs in the timeline.
func (p *Pipeline) Frequency(ctx context.Context, patientID, description string) (*models.FrequencyReport, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, faults.Validation("patient id is required")
	}
	description = strings.ToLower(strings.TrimSpace(description))
	if description == "" {
		return nil, faults.Validation("description is required")
	}

	events, err := p.store.Query(ctx, patientID, models.EventFilter{})
	if err != nil {
		return nil, err
	}

	report := &models.FrequencyReport{PatientID: patientID, Description: description}
	for _, event := range events {
		if strings.ToLower(event.Description) == description {
			report.Occurrences = append(report.Occurrences, event)
		}
	}
	report.Count = len(report.Occurrences)
	return report, nil
}

// Patients lists every patient with at least one documented event.
func (p *Pipeline) Patients(ctx context.Context) ([]string, error) {
	return p.store.Patients(ctx)
}

// Close flushes index snapshots; called on shutdown.
func (p *Pipeline) Close() error {
	return p.indexes.SaveAll()
}

func (p *Pipeline) publishAccepted(ctx context.Context, patientID string, events []models.ClinicalEvent) {
	for _, event := range events {
		_ = p.publisher.Publish(ctx, "event.accepted", patientID, map[string]interface{}{
			"event_id":    event.ID,
			"kind":        string(event.Kind),
			"description": event.Description,
			"onset_time":  event.OnsetTime,
			"confidence":  event.Confidence,
		})
	}
}

// lockPatient serializes units of work per patient so appends preserve
// submission order.
func (p *Pipeline) lockPatient(patientID string) func() {
	p.mu.Lock()
	lock, ok := p.patientLocks[patientID]
	if !ok {
		lock = &sync.Mutex{}
		p.patientLocks[patientID] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// embedText mirrors the indexed representation of an event: kind plus
// description plus the structured attributes worth matching on.
func embedText(event models.ClinicalEvent) string {
	parts := []string{string(event.Kind), event.Description}
	if event.Measurement != nil {
		parts = append(parts, fmt.Sprintf("%g %s", event.Measurement.Value, event.Measurement.Unit))
	}
	if event.FoodRelation != "" {
		parts = append(parts, event.FoodRelation)
	}
	return strings.Join(parts, " ")
}

// asFault keeps faults intact and wraps everything else, mapping context
// deadline errors to timeouts.
func asFault(err error, message string) error {
	if faults.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return faults.Timeout(message, err)
	}
	return faults.Extraction(message, err)
}

package pipeline

import (
	"context"

	"github.com/chartline-health/chartline/pkg/common/models"
)

// NoteCache is the optional rendered-note cache. *notecache.Cache
// satisfies it; passing nil disables caching.
type NoteCache interface {
	Get(ctx context.Context, patientID string) *models.Note
	Put(ctx context.Context, note *models.Note)
	Invalidate(ctx context.Context, patientID string)
}

// notecacheHandle makes every call nil-safe so the pipeline body never
// branches on whether a cache was configured.
type notecacheHandle struct {
	cache NoteCache
}

func wrapCache(cache NoteCache) *notecacheHandle {
	return &notecacheHandle{cache: cache}
}

func (h *notecacheHandle) get(ctx context.Context, patientID string) *models.Note {
	if h.cache == nil {
		return nil
	}
	return h.cache.Get(ctx, patientID)
}

func (h *notecacheHandle) put(ctx context.Context, note *models.Note) {
	if h.cache == nil {
		return
	}
	h.cache.Put(ctx, note)
}

func (h *notecacheHandle) invalidate(ctx context.Context, patientID string) {
	if h.cache == nil {
		return
	}
	h.cache.Invalidate(ctx, patientID)
}

package notecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chartline-health/chartline/pkg/common/logger"
	"github.com/chartline-health/chartline/pkg/common/models"
)

// Cache keeps the most recent rendered note per patient in Redis. It is
// strictly best-effort: notes are regenerable from the timeline, so cache
// misses and Redis faults degrade to re-rendering, never to errors.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client, ttl: ttl}
}

func key(patientID string) string {
	return "note:" + patientID
}

// Get returns the cached note for a patient, or nil on miss or error.
func (c *Cache) Get(ctx context.Context, patientID string) *models.Note {
	if c == nil {
		return nil
	}
	data, err := c.client.Get(ctx, key(patientID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.WithField("patient_id", patientID).WithError(err).Warn("Note cache read failed")
		}
		return nil
	}
	var note models.Note
	if err := json.Unmarshal(data, &note); err != nil {
		return nil
	}
	return &note
}

// Put stores a note with the configured TTL.
func (c *Cache) Put(ctx context.Context, note *models.Note) {
	if c == nil || note == nil {
		return
	}
	data, err := json.Marshal(note)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(note.PatientID), data, c.ttl).Err(); err != nil {
		logger.WithField("patient_id", note.PatientID).WithError(err).Warn("Note cache write failed")
	}
}

// Invalidate drops the cached note after the timeline changes.
func (c *Cache) Invalidate(ctx context.Context, patientID string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, key(patientID)).Err(); err != nil {
		logger.WithField("patient_id", patientID).WithError(err).Warn("Note cache invalidate failed")
	}
}

package index

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Record is one magnitude-normalized vector keyed by the owning event's
// id. Records are created exactly once per accepted event and never
// updated.
type Record struct {
	EventID string    `json:"event_id"`
	Onset   time.Time `json:"onset"`
	Vector  []float32 `json:"vector"`
}

// Hit is one query result.
type Hit struct {
	EventID    string  `json:"event_id"`
	Similarity float64 `json:"similarity"`
}

// Index is the similarity index for a single patient. Inserts are
// serialized through the write lock; queries run concurrently under the
// read lock and always observe fully inserted records.
type Index struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]struct{}
}

func New() *Index {
	return &Index{byID: make(map[string]struct{})}
}

// Insert adds a normalized copy of vector under eventID. A second insert
// with the same eventID is a no-op, so retries never duplicate entries.
func (ix *Index) Insert(eventID string, onset time.Time, vector []float32) {
	normalized := normalizeCopy(vector)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.byID[eventID]; ok {
		return
	}
	ix.records = append(ix.records, Record{EventID: eventID, Onset: onset, Vector: normalized})
	ix.byID[eventID] = struct{}{}
}

// Remove drops the record for eventID, if present. Only used when the
// owning event is removed.
func (ix *Index) Remove(eventID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.byID[eventID]; !ok {
		return
	}
	delete(ix.byID, eventID)
	for i := range ix.records {
		if ix.records[i].EventID == eventID {
			ix.records = append(ix.records[:i], ix.records[i+1:]...)
			break
		}
	}
}

// Query returns up to k event ids by descending cosine similarity, ties
// broken by more recent onset first.
func (ix *Index) Query(vector []float32, k int) []Hit {
	normalized := normalizeCopy(vector)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.records) == 0 || k <= 0 {
		return nil
	}

	type scored struct {
		hit   Hit
		onset time.Time
	}
	results := make([]scored, 0, len(ix.records))
	for _, rec := range ix.records {
		results = append(results, scored{
			hit:   Hit{EventID: rec.EventID, Similarity: dot(normalized, rec.Vector)},
			onset: rec.Onset,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].hit.Similarity != results[j].hit.Similarity {
			return results[i].hit.Similarity > results[j].hit.Similarity
		}
		return results[i].onset.After(results[j].onset)
	})

	if k < len(results) {
		results = results[:k]
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = r.hit
	}
	return hits
}

func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

func (ix *Index) snapshot() []Record {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Record, len(ix.records))
	copy(out, ix.records)
	return out
}

func (ix *Index) load(records []Record) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.records = records
	ix.byID = make(map[string]struct{}, len(records))
	for _, rec := range records {
		ix.byID[rec.EventID] = struct{}{}
	}
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func normalizeCopy(vector []float32) []float32 {
	out := make([]float32, len(vector))
	copy(out, vector)

	var sum float64
	for _, v := range out {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i := range out {
		out[i] /= norm
	}
	return out
}

package timeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chartline-health/chartline/pkg/common/faults"
	"github.com/chartline-health/chartline/pkg/common/fsname"
	"github.com/chartline-health/chartline/pkg/common/models"
)

// FileStore keeps one append-only JSONL log per patient under
// <dir>/timeline/ and mirrors it in memory for queries. Every field of an
// event round-trips through the JSON encoding.
type FileStore struct {
	mu       sync.RWMutex
	dir      string
	patients map[string]*patientLog
}

type patientLog struct {
	events []models.ClinicalEvent // insertion order
	byID   map[string]int
}

// NewFileStore opens (or creates) the store directory and replays every
// existing patient log into memory.
func NewFileStore(dir string) (*FileStore, error) {
	s := &FileStore{
		dir:      filepath.Join(dir, "timeline"),
		patients: make(map[string]*patientLog),
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, faults.Storage("create timeline dir", err)
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) replay() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return faults.Storage("read timeline dir", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		if err := s.replayFile(filepath.Join(s.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) replayFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return faults.Storage("open timeline log", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var event models.ClinicalEvent
		if err := json.Unmarshal([]byte(text), &event); err != nil {
			return faults.Storage(fmt.Sprintf("corrupt timeline record at %s:%d", path, line), err)
		}
		s.remember(event)
	}
	if err := scanner.Err(); err != nil {
		return faults.Storage("scan timeline log", err)
	}
	return nil
}

func (s *FileStore) remember(event models.ClinicalEvent) {
	log, ok := s.patients[event.PatientID]
	if !ok {
		log = &patientLog{byID: make(map[string]int)}
		s.patients[event.PatientID] = log
	}
	log.byID[event.ID] = len(log.events)
	log.events = append(log.events, event)
}

func (s *FileStore) Append(ctx context.Context, event models.ClinicalEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if log, ok := s.patients[event.PatientID]; ok {
		if _, dup := log.byID[event.ID]; dup {
			return faults.DuplicateEvent(event.ID)
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return faults.Storage("encode event", err)
	}

	if err := faults.Retry(3, 50*time.Millisecond, func() error {
		return s.appendLine(event.PatientID, data)
	}); err != nil {
		return faults.Storage("append event", err)
	}

	s.remember(event)
	return nil
}

func (s *FileStore) appendLine(patientID string, data []byte) error {
	path := filepath.Join(s.dir, fsname.Sanitize(patientID)+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (s *FileStore) Get(ctx context.Context, patientID, eventID string) (*models.ClinicalEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.patients[patientID]
	if !ok {
		return nil, nil
	}
	idx, ok := log.byID[eventID]
	if !ok {
		return nil, nil
	}
	event := log.events[idx]
	return &event, nil
}

func (s *FileStore) Query(ctx context.Context, patientID string, filter models.EventFilter) ([]models.ClinicalEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.patients[patientID]
	if !ok {
		return nil, nil
	}

	idSet := idSetOf(filter)
	out := make([]models.ClinicalEvent, 0, len(log.events))
	for _, event := range log.events {
		if matches(event, filter, idSet) {
			out = append(out, event)
		}
	}

	sortByOnset(out)
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *FileStore) Latest(ctx context.Context, patientID string, n int) ([]models.ClinicalEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.patients[patientID]
	if !ok || n <= 0 {
		return nil, nil
	}

	start := len(log.events) - n
	if start < 0 {
		start = 0
	}
	out := make([]models.ClinicalEvent, len(log.events)-start)
	copy(out, log.events[start:])
	return out, nil
}

func (s *FileStore) Patients(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.patients))
	for id := range s.patients {
		out = append(out, id)
	}
	return out, nil
}

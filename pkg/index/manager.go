package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chartline-health/chartline/pkg/common/fsname"
)

// fileLayout is the persisted form of one patient's index.
type fileLayout struct {
	Records   []Record  `json:"records"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manager owns one Index per patient and their on-disk copies under
// <dir>/index/<patient_id>.json. Reloading from disk reproduces rankings
// for a fixed input set.
type Manager struct {
	mu       sync.Mutex
	dir      string
	patients map[string]*Index
}

func NewManager(dir string) *Manager {
	return &Manager{
		dir:      filepath.Join(dir, "index"),
		patients: make(map[string]*Index),
	}
}

// ForPatient returns the patient's index, loading it from disk on first
// access.
func (m *Manager) ForPatient(patientID string) (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ix, ok := m.patients[patientID]; ok {
		return ix, nil
	}

	ix := New()
	records, err := m.readFile(patientID)
	if err != nil {
		return nil, err
	}
	ix.load(records)
	m.patients[patientID] = ix
	return ix, nil
}

// Save persists one patient's index with an atomic replace so a crash
// mid-write never corrupts the previous copy.
func (m *Manager) Save(patientID string) error {
	m.mu.Lock()
	ix, ok := m.patients[patientID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	data, err := json.Marshal(fileLayout{Records: ix.snapshot(), UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	path := m.path(patientID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

// SaveAll persists every loaded patient index.
func (m *Manager) SaveAll() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.patients))
	for id := range m.patients {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Save(id); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) readFile(patientID string) ([]Record, error) {
	data, err := os.ReadFile(m.path(patientID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}

	var layout fileLayout
	if err := json.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("decode index file: %w", err)
	}
	return layout.Records, nil
}

func (m *Manager) path(patientID string) string {
	return filepath.Join(m.dir, fsname.Sanitize(patientID)+".json")
}

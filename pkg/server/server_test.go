package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chartline-health/chartline/pkg/common/models"
	"github.com/chartline-health/chartline/pkg/embedding"
	"github.com/chartline-health/chartline/pkg/extraction"
	"github.com/chartline-health/chartline/pkg/index"
	"github.com/chartline-health/chartline/pkg/pipeline"
	"github.com/chartline-health/chartline/pkg/retrieval"
	"github.com/chartline-health/chartline/pkg/synthesis"
	"github.com/chartline-health/chartline/pkg/timeline"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	dir := t.TempDir()
	store, err := timeline.NewFileStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	indexes := index.NewManager(dir)
	embedder := embedding.NewLocal(64)
	extractor := extraction.NewExtractor(extraction.NewRuleModel(extraction.DefaultVocabulary()), 0.6)
	scanner, err := synthesis.NewSafetyScanner(synthesis.DefaultDenylist())
	if err != nil {
		t.Fatalf("compile denylist: %v", err)
	}
	synthesizer := synthesis.New(scanner, synthesis.OmitSuperseded)
	retriever := retrieval.New(embedder, indexes, store, 5, 0.3)

	p := pipeline.New(extractor, embedder, indexes, store, retriever, synthesizer, nil, nil, pipeline.Options{})
	return New(p, 0).Router()
}

func postObservation(t *testing.T, handler http.Handler, patientID, text string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(models.ProcessRequest{Text: text})
	req := httptest.NewRequest("POST", "/api/v1/patients/"+patientID+"/observations", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProcessObservation(t *testing.T) {
	handler := newTestServer(t)

	rec := postObservation(t, handler, "p-1", "Patient reports headache, took 500mg acetaminophen at 9am")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result models.ProcessResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(result.AcceptedEvents) != 2 {
		t.Errorf("expected 2 accepted events, got %+v", result.AcceptedEvents)
	}
	if result.Note == nil || result.Note.Text == "" {
		t.Errorf("expected a rendered note, got %+v", result.Note)
	}
}

func TestProcessRejectsBadBody(t *testing.T) {
	handler := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/patients/p-1/observations", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProcessRejectsEmptyText(t *testing.T) {
	handler := newTestServer(t)

	rec := postObservation(t, handler, "p-1", "   ")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Kind != "validation" {
		t.Errorf("expected validation error kind, got %q", body.Error.Kind)
	}
}

func TestTimelineEndpoint(t *testing.T) {
	handler := newTestServer(t)

	if rec := postObservation(t, handler, "p-1", "Patient reports headache at 9am"); rec.Code != http.StatusOK {
		t.Fatalf("seed failed: %d %s", rec.Code, rec.Body.String())
	}
	if rec := postObservation(t, handler, "p-1", "took 500 mg ibuprofen at 11am"); rec.Code != http.StatusOK {
		t.Fatalf("seed failed: %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest("GET", "/api/v1/patients/p-1/timeline", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		PatientID string                 `json:"patient_id"`
		Events    []models.ClinicalEvent `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) != 2 {
		t.Fatalf("expected 2 events, got %+v", body.Events)
	}
	if !body.Events[0].OnsetTime.Before(body.Events[1].OnsetTime) {
		t.Errorf("expected onset-ascending order, got %+v", body.Events)
	}

	req = httptest.NewRequest("GET", "/api/v1/patients/p-1/timeline?kind=medication", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Kind != models.KindMedication {
		t.Errorf("kind filter: got %+v", body.Events)
	}
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	handler := newTestServer(t)

	for _, path := range []string{
		"/api/v1/patients/p-1/timeline?kind=diagnosis",
		"/api/v1/patients/p-1/timeline?from=yesterday",
		"/api/v1/patients/p-1/timeline?limit=-1",
	} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestNoteEndpoint(t *testing.T) {
	handler := newTestServer(t)

	if rec := postObservation(t, handler, "p-1", "Patient reports headache this morning"); rec.Code != http.StatusOK {
		t.Fatalf("seed failed: %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest("GET", "/api/v1/patients/p-1/note", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var note models.Note
	if err := json.Unmarshal(rec.Body.Bytes(), &note); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if note.PatientID != "p-1" || note.Text == "" {
		t.Errorf("unexpected note %+v", note)
	}
}

func TestFrequencyEndpoint(t *testing.T) {
	handler := newTestServer(t)

	if rec := postObservation(t, handler, "p-1", "Patient reports headache this morning"); rec.Code != http.StatusOK {
		t.Fatalf("seed failed: %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest("GET", "/api/v1/patients/p-1/frequency?description=headache", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var report models.FrequencyReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.Count != 1 {
		t.Errorf("expected 1 occurrence, got %+v", report)
	}

	req = httptest.NewRequest("GET", "/api/v1/patients/p-1/frequency", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing description, got %d", rec.Code)
	}
}

func TestPatientsEndpoint(t *testing.T) {
	handler := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/patients", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Patients []string `json:"patients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Patients == nil || len(body.Patients) != 0 {
		t.Errorf("expected an empty list before any submissions, got %+v", body.Patients)
	}

	if rec := postObservation(t, handler, "p-1", "Patient reports headache"); rec.Code != http.StatusOK {
		t.Fatalf("seed failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/patients", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Patients) != 1 || body.Patients[0] != "p-1" {
		t.Errorf("expected [p-1], got %+v", body.Patients)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	handler := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("expected request id echoed back, got %q", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected a generated request id")
	}
}

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/chartline-health/chartline/pkg/common/faults"
	"github.com/chartline-health/chartline/pkg/common/models"
	"github.com/chartline-health/chartline/pkg/pipeline"
)

// Server is the HTTP boundary in front of one pipeline.
type Server struct {
	pipeline       *pipeline.Pipeline
	maxRequestBody int64
}

func New(p *pipeline.Pipeline, maxRequestBody int64) *Server {
	if maxRequestBody <= 0 {
		maxRequestBody = 1 << 20
	}
	return &Server{pipeline: p, maxRequestBody: maxRequestBody}
}

// Router wires every route with logging and panic recovery.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/api/v1/patients", s.handlePatients).Methods("GET")
	router.HandleFunc("/api/v1/patients/{patientID}/observations", s.handleProcess).Methods("POST")
	router.HandleFunc("/api/v1/patients/{patientID}/timeline", s.handleTimeline).Methods("GET")
	router.HandleFunc("/api/v1/patients/{patientID}/note", s.handleNote).Methods("GET")
	router.HandleFunc("/api/v1/patients/{patientID}/frequency", s.handleFrequency).Methods("GET")

	return Logging(Recovery(router))
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientID"]

	var req models.ProcessRequest
	body := http.MaxBytesReader(w, r.Body, s.maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, faults.Validation("invalid request body"))
		return
	}

	result, err := s.pipeline.ProcessText(r.Context(), patientID, req.Text)
	if err != nil {
		// Policy violations still carry the committed events so the
		// caller can route the note to manual review.
		if faults.Is(err, faults.KindPolicyViolation) && result != nil {
			writeErrorWithPayload(w, err, map[string]interface{}{
				"accepted_events": result.AcceptedEvents,
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientID"]

	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := s.pipeline.GetTimeline(r.Context(), patientID, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []models.ClinicalEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patient_id": patientID,
		"events":     events,
	})
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientID"]

	note, err := s.pipeline.LatestNote(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleFrequency(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientID"]
	description := r.URL.Query().Get("description")

	report, err := s.pipeline.Frequency(r.Context(), patientID, description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePatients(w http.ResponseWriter, r *http.Request) {
	patients, err := s.pipeline.Patients(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if patients == nil {
		patients = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patients": patients})
}

func parseFilter(r *http.Request) (models.EventFilter, error) {
	q := r.URL.Query()
	filter := models.EventFilter{
		Kind: models.EventKind(q.Get("kind")),
	}

	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, faults.Validation("from must be RFC3339")
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, faults.Validation("to must be RFC3339")
		}
		filter.To = t
	}
	if ids := q.Get("ids"); ids != "" {
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				filter.IDs = append(filter.IDs, id)
			}
		}
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := parsePositiveInt(limit)
		if err != nil {
			return filter, faults.Validation("limit must be a positive integer")
		}
		filter.Limit = n
	}

	return filter, nil
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, faults.Validation("not a number")
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, faults.Validation("not positive")
	}
	return n, nil
}

type errorBody struct {
	Error struct {
		Kind    string                 `json:"kind"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorWithPayload(w, err, nil)
}

func writeErrorWithPayload(w http.ResponseWriter, err error, details map[string]interface{}) {
	var body errorBody
	kind := faults.KindOf(err)
	if kind == "" {
		kind = "internal"
	}
	body.Error.Kind = string(kind)
	body.Error.Message = err.Error()
	body.Error.Details = details

	writeJSON(w, faults.HTTPStatus(err), body)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

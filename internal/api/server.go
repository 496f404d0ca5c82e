package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/callintake/internal/extractor"
	"github.com/MikeSquared-Agency/callintake/internal/processor"
	"github.com/MikeSquared-Agency/callintake/internal/simulate"
)

const (
	defaultSimulatedBatch = 100
	maxSimulatedBatch     = 1000
)

type Server struct {
	router  *chi.Mux
	port    int
	proc    *processor.Processor
	samples *simulate.Generator
	logger  *slog.Logger
}

func NewServer(port int, proc *processor.Processor, samples *simulate.Generator, allowedOrigins []string, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(corsOptions(allowedOrigins)))

	s := &Server{
		router:  router,
		port:    port,
		proc:    proc,
		samples: samples,
		logger:  logger,
	}

	router.Get("/", s.root)
	router.Get("/health", s.health)
	router.Route("/calls", s.callRoutes)
	router.Route("/api/calls", s.callRoutes)

	return s
}

func (s *Server) callRoutes(r chi.Router) {
	r.Get("/", s.listCalls)
	r.Get("/active", s.listActive)
	r.Post("/process", s.processCall)
	r.Post("/batch", s.processBatch)
	r.Post("/simulate", s.simulateCall)
	r.Post("/batch-simulate", s.simulateBatch)
	r.Delete("/clear", s.clearCalls)
	r.Get("/{callID}", s.getCall)
	r.Post("/{callID}/transcription", s.correctTranscription)
	r.Post("/{callID}/answer", s.answerCall)
}

// corsOptions allows credentials only for an explicit origin list. Browsers
// reject credentialed responses carrying a literal "*".
func corsOptions(allowedOrigins []string) cors.Options {
	wildcard := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	if wildcard {
		allowedOrigins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: !wildcard,
	}
}

// Addr is the listen address for http.Server.
func (s *Server) Addr() string {
	return fmt.Sprintf(":%d", s.port)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// callRequest uses pointers so a missing field can be told apart from an
// empty one.
type callRequest struct {
	Transcription *string `json:"transcription"`
	PhoneNumber   *string `json:"phone_number"`
}

type batchError struct {
	Error       string `json:"error"`
	PhoneNumber string `json:"phone_number"`
}

type batchResponse struct {
	BatchID   string `json:"batch_id"`
	Processed int    `json:"processed"`
	Calls     []any  `json:"calls"`
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Ambulance Call Intake API",
		"status":  "running",
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) processCall(w http.ResponseWriter, r *http.Request) {
	var body callRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Transcription == nil || body.PhoneNumber == nil {
		writeError(w, http.StatusBadRequest, "transcription and phone_number are required")
		return
	}

	out, err := s.proc.Process(r.Context(), processor.CallRequest{
		Transcription: *body.Transcription,
		PhoneNumber:   *body.PhoneNumber,
	})
	if err != nil {
		s.writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out.Record)
}

func (s *Server) listCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := processor.Filter{Query: q.Get("q")}

	if raw := q.Get("criticality"); raw != "" {
		c, ok := extractor.ParseCriticality(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid criticality %q", raw))
			return
		}
		f.Criticality = c
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		f.Limit = limit
	}

	writeJSON(w, http.StatusOK, s.proc.Search(f))
}

func (s *Server) listActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proc.ListActive())
}

func (s *Server) getCall(w http.ResponseWriter, r *http.Request) {
	rec, err := s.proc.Get(chi.URLParam(r, "callID"))
	if err != nil {
		s.writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) processBatch(w http.ResponseWriter, r *http.Request) {
	var body []processor.CallRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	s.runBatch(w, r, body)
}

func (s *Server) simulateCall(w http.ResponseWriter, r *http.Request) {
	var body callRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	var transcription, phone string
	if body.Transcription != nil {
		transcription = *body.Transcription
	}
	if body.PhoneNumber != nil {
		phone = *body.PhoneNumber
	}
	call := s.samples.Fill(transcription, phone)

	out, err := s.proc.Process(r.Context(), processor.CallRequest{
		Transcription: call.Transcription,
		PhoneNumber:   call.PhoneNumber,
	})
	if err != nil {
		s.writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out.Record)
}

func (s *Server) simulateBatch(w http.ResponseWriter, r *http.Request) {
	count := defaultSimulatedBatch
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSimulatedBatch {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", maxSimulatedBatch))
			return
		}
		count = n
	}

	calls := s.samples.Batch(count)
	reqs := make([]processor.CallRequest, len(calls))
	for i, c := range calls {
		reqs[i] = processor.CallRequest{Transcription: c.Transcription, PhoneNumber: c.PhoneNumber}
	}
	s.runBatch(w, r, reqs)
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request, reqs []processor.CallRequest) {
	batchID := uuid.NewString()
	items := s.proc.ProcessBatch(r.Context(), reqs)

	resp := batchResponse{
		BatchID:   batchID,
		Processed: len(items),
		Calls:     make([]any, 0, len(items)),
	}
	for _, item := range items {
		if item.Err != nil {
			resp.Calls = append(resp.Calls, batchError{Error: item.Err.Error(), PhoneNumber: item.PhoneNumber})
			continue
		}
		resp.Calls = append(resp.Calls, item.Record)
	}

	s.logger.Info("batch request complete", "batch_id", batchID, "processed", resp.Processed)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) correctTranscription(w http.ResponseWriter, r *http.Request) {
	var body callRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Transcription == nil {
		writeError(w, http.StatusBadRequest, "transcription is required")
		return
	}

	out, err := s.proc.Reextract(r.Context(), chi.URLParam(r, "callID"), *body.Transcription)
	if err != nil {
		s.writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out.Record)
}

func (s *Server) answerCall(w http.ResponseWriter, r *http.Request) {
	rec, err := s.proc.Answer(r.Context(), chi.URLParam(r, "callID"))
	if err != nil {
		s.writeProcessorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) clearCalls(w http.ResponseWriter, r *http.Request) {
	if err := s.proc.Clear(r.Context()); err != nil {
		s.logger.Error("failed to clear calls", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "All calls cleared",
	})
}

func (s *Server) writeProcessorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, processor.ErrNotFound):
		writeError(w, http.StatusNotFound, "Call not found")
	case errors.Is(err, processor.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("call processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

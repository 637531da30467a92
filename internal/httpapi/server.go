package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/aravind45/school-tutor-chatbot/internal/config"
	"github.com/aravind45/school-tutor-chatbot/internal/engine"
	"github.com/aravind45/school-tutor-chatbot/internal/observability"
	"github.com/aravind45/school-tutor-chatbot/internal/tutor"
)

type Server struct {
	cfg     config.Config
	svc     *tutor.Service
	metrics *observability.Metrics
}

func New(cfg config.Config, svc *tutor.Service, metrics *observability.Metrics) *Server {
	return &Server{cfg: cfg, svc: svc, metrics: metrics}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/chat", s.handleChat)
	r.Post("/clear", s.handleClear)

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/transcript", s.handleTranscript)

	return r
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	FollowUp  bool   `json:"follow_up"`
	Truncated bool   `json:"truncated,omitempty"`
}

type clearRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with a message field")
		return
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	reply, err := s.svc.Chat(ctx, req.SessionID, req.Message)
	if err != nil {
		status, code := mapChatError(err)
		respondError(w, status, code, publicMessage(err))
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{
		Response:  reply.Text,
		SessionID: reply.SessionID,
		Status:    "success",
		FollowUp:  reply.FollowUp,
		Truncated: reply.Truncated,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}

	s.svc.Clear(req.SessionID)
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "conversation history cleared",
	})
}

// handleHealth answers from an engine snapshot, never the inference gate, so
// probes stay fast while a generation is in flight.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.Health())
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.svc.Transcript(r.Context(), sessionID, limit)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("transcript lookup failed")
		respondError(w, http.StatusInternalServerError, "transcript_unavailable", "could not read transcript")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      records,
	})
}

func mapChatError(err error) (int, string) {
	switch {
	case errors.Is(err, tutor.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, tutor.ErrMessageTooLong):
		return http.StatusBadRequest, "message_too_long"
	case errors.Is(err, engine.ErrNotLoaded):
		return http.StatusServiceUnavailable, "model_not_loaded"
	case errors.Is(err, engine.ErrGenerationTimeout):
		return http.StatusServiceUnavailable, "generation_timeout"
	case errors.Is(err, engine.ErrGenerationFailed):
		return http.StatusInternalServerError, "generation_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// publicMessage keeps backend detail out of client-facing errors; validation
// messages pass through as-is.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, tutor.ErrEmptyMessage), errors.Is(err, tutor.ErrMessageTooLong):
		return err.Error()
	case errors.Is(err, engine.ErrNotLoaded):
		return "model not loaded, please try again shortly"
	case errors.Is(err, engine.ErrGenerationTimeout):
		return "the tutor took too long to answer, please try again"
	default:
		return "failed to generate a response"
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status"`
	Code   string `json:"code,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Status: "error", Code: code})
}

package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/session"
)

const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	sessions *session.Manager
}

// New creates a new Handler.
func New(m *session.Manager) *Handler {
	return &Handler{sessions: m}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleHealth)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Get("/next", h.handleNextQuestion)
			r.Post("/answers", h.handleSubmitAnswer)
			r.Get("/stats", h.handleStats)
		})
	})
}

type createSessionRequest struct {
	Subject       string   `json:"subject"`
	Topic         string   `json:"topic"`
	KeyPoints     []string `json:"key_points"`
	QuestionCount int      `json:"question_count"`
}

type createSessionResponse struct {
	SessionID      string `json:"session_id"`
	TotalQuestions int    `json:"total_questions"`
}

type submitAnswerRequest struct {
	QuestionIndex *int   `json:"question_index"`
	AnswerText    string `json:"answer_text"`
}

type submitAnswerResponse struct {
	Grade         model.Grading `json:"grade"`
	QuestionIndex int           `json:"question_index"`
	NextAvailable bool          `json:"next_available"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	ActiveSessions int    `json:"active_sessions"`
	Summary        string `json:"summary"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := h.sessions.ActiveSessions(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Message:        appI18n.T(r.Context(), "AppMessage"),
		ActiveSessions: n,
		Summary:        appI18n.Tp(r.Context(), "ActiveSessions", n),
	})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.sessions.CreateSession(r.Context(), req.Subject, req.Topic, req.KeyPoints, req.QuestionCount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, createSessionResponse{SessionID: id, TotalQuestions: req.QuestionCount})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) handleNextQuestion(w http.ResponseWriter, r *http.Request) {
	next, err := h.sessions.NextQuestion(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, next)
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.QuestionIndex == nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "question_index is required"})
		return
	}

	id := chi.URLParam(r, "sessionID")
	g, err := h.sessions.SubmitAnswer(r.Context(), id, *req.QuestionIndex, req.AnswerText)
	if err != nil {
		respondError(w, err)
		return
	}

	next, err := h.sessions.NextQuestion(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, submitAnswerResponse{
		Grade:         g,
		QuestionIndex: *req.QuestionIndex,
		NextAvailable: !next.Completed,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sessions.GetStats(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidIndex):
		return http.StatusConflict
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrGenerationFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}
	respondJSON(w, status, errorResponse{Error: msg})
}

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Identity headers set by the upstream gateway after authentication.
const (
	HeaderUserID       = "X-User-ID"
	HeaderUsername     = "X-Username"
	HeaderUserFullName = "X-User-Full-Name"
)

// QuizHandler exposes the quiz session use cases over HTTP. Clients poll
// session state, the current question and the leaderboard.
type QuizHandler struct {
	service  *app.QuizService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewQuizHandler(service *app.QuizService, logger *slog.Logger) *QuizHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuizHandler{service: service, validate: validator.New(), logger: logger}
}

type createSessionRequest struct {
	QuizID string `json:"quizId" validate:"required"`
}

type joinRequest struct {
	AccessCode string `json:"accessCode" validate:"required"`
}

type answerRequest struct {
	QuestionID       string `json:"questionId" validate:"required"`
	SelectedOptionID string `json:"selectedOptionId"`
	TextAnswer       string `json:"textAnswer"`
	ResponseTimeMs   *int64 `json:"responseTimeMs" validate:"required"`
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Routes registers the session routes on r.
func (h *QuizHandler) Routes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/code/{code}", h.handleLookupByCode)
		r.Get("/{sessionID}", h.handleGetSession)
		r.Get("/{sessionID}/current-question", h.handleCurrentQuestion)
		r.Get("/{sessionID}/leaderboard", h.handleLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Post("/", h.handleCreateSession)
			r.Post("/join", h.handleJoin)
			r.Post("/{sessionID}/start", h.handleStart)
			r.Post("/{sessionID}/next-question", h.handleAdvance)
			r.Post("/{sessionID}/end", h.handleEnd)
			r.Post("/{sessionID}/answers", h.handleSubmitAnswer)
		})
	})
}

// NewRouter builds the service router with health and metrics endpoints.
func NewRouter(h *QuizHandler, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	h.Routes(r)
	return r
}

func (h *QuizHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.service.CreateSession(r.Context(), userFrom(r), req.QuizID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *QuizHandler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !h.decode(w, r, &req) {
		return
	}
	participant, err := h.service.Join(r.Context(), req.AccessCode, userFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, participant)
}

func (h *QuizHandler) handleLookupByCode(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.LookupByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *QuizHandler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *QuizHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Start(r.Context(), chi.URLParam(r, "sessionID"), userFrom(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *QuizHandler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.AdvanceQuestion(r.Context(), chi.URLParam(r, "sessionID"), userFrom(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *QuizHandler) handleEnd(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.End(r.Context(), chi.URLParam(r, "sessionID"), userFrom(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *QuizHandler) handleCurrentQuestion(w http.ResponseWriter, r *http.Request) {
	question, err := h.service.CurrentQuestion(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

func (h *QuizHandler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.SubmitAnswer(r.Context(), chi.URLParam(r, "sessionID"), userFrom(r), domain.AnswerSubmission{
		QuestionID:       req.QuestionID,
		SelectedOptionID: req.SelectedOptionID,
		TextAnswer:       req.TextAnswer,
		ResponseTimeMs:   *req.ResponseTimeMs,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *QuizHandler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.service.Leaderboard(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// decode reads a JSON body into dst and validates it, writing a 400 on failure.
func (h *QuizHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "bad_request", Message: "invalid JSON body: " + err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "validation_failed", Message: describeValidation(err)})
		return false
	}
	return true
}

func (h *QuizHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		writeJSON(w, status, errorPayload{Error: "internal", Message: "internal server error"})
		return
	}
	writeJSON(w, status, errorPayload{Error: domain.KindOf(err), Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCodeNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrSessionNotJoinable),
		errors.Is(err, domain.ErrSessionNotActive),
		errors.Is(err, domain.ErrQuestionMismatch),
		errors.Is(err, domain.ErrAlreadyJoined),
		errors.Is(err, domain.ErrDuplicateAnswer):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(msgs, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/garnizeh/expertfeed/pkg/models"
	"github.com/garnizeh/expertfeed/pkg/repository"
)

// Broadcaster announces question writes to subscribed feeds. jobs.Broadcaster
// satisfies it.
type Broadcaster interface {
	Broadcast(ctx context.Context, event models.EventType, q models.Question, prev *models.Question) error
}

type QuestionsHandler struct {
	questions   repository.QuestionRepo
	broadcaster Broadcaster
}

func NewQuestionsHandler(qr repository.QuestionRepo, b Broadcaster) *QuestionsHandler {
	return &QuestionsHandler{questions: qr, broadcaster: b}
}

type questionRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Category    string                `json:"category"`
	Tags        []string              `json:"tags"`
	Status      models.QuestionStatus `json:"status"`
}

func (req questionRequest) question() models.Question {
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	return models.Question{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Category:    strings.TrimSpace(req.Category),
		Tags:        tags,
		Status:      req.Status,
	}
}

// CreateQuestion stores a new PENDING question for the acting seeker and
// broadcasts question.created.
func (h *QuestionsHandler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, _ := UserIDFromContext(ctx)

	var req questionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	q := req.question()
	q.SeekerID = uid
	// new questions always start pending
	q.Status = ""

	if err := h.questions.CreateQuestion(ctx, &q); err != nil {
		h.writeRepoError(w, err, "create question")
		return
	}
	h.broadcast(ctx, models.EventQuestionCreated, q, nil)

	writeJSON(w, q, http.StatusCreated)
}

// UpdateQuestion replaces the mutable fields of a question owned by the acting
// seeker and broadcasts question.updated with the replaced version's topics.
func (h *QuestionsHandler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, _ := UserIDFromContext(ctx)
	id := mux.Vars(r)["id"]

	existing, err := h.questions.GetQuestion(ctx, id)
	if err != nil {
		h.writeRepoError(w, err, "get question")
		return
	}
	if existing == nil {
		http.Error(w, "Question not found", http.StatusNotFound)
		return
	}
	if existing.SeekerID != uid {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req questionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	q := req.question()
	q.ID = id

	prev, err := h.questions.UpdateQuestion(ctx, &q)
	if err != nil {
		h.writeRepoError(w, err, "update question")
		return
	}
	h.broadcast(ctx, models.EventQuestionUpdated, q, prev)

	writeJSON(w, q, http.StatusOK)
}

func (h *QuestionsHandler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := h.questions.GetQuestion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeRepoError(w, err, "get question")
		return
	}
	if q == nil {
		http.Error(w, "Question not found", http.StatusNotFound)
		return
	}

	writeJSON(w, q, http.StatusOK)
}

// ListQuestions returns the full candidate set, newest first. Matching is left
// to the feed.
func (h *QuestionsHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.questions.ListQuestions(r.Context())
	if err != nil {
		h.writeRepoError(w, err, "list questions")
		return
	}

	writeJSON(w, qs, http.StatusOK)
}

// broadcast failures are logged only. The write already succeeded and the
// outbox is the retry mechanism.
func (h *QuestionsHandler) broadcast(ctx context.Context, event models.EventType, q models.Question, prev *models.Question) {
	if h.broadcaster == nil {
		return
	}
	if err := h.broadcaster.Broadcast(ctx, event, q, prev); err != nil {
		logger.Error("broadcast question",
			slog.String("event", string(event)),
			slog.String("question_id", q.ID),
			slog.Any("err", err),
		)
	}
}

func (h *QuestionsHandler) writeRepoError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, repository.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, "Question not found", http.StatusNotFound)
	default:
		logger.Error(op, slog.Any("err", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

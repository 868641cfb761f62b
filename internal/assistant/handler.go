package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"certexam/internal/app/apiresp"
	"certexam/internal/auth"
	"certexam/internal/exam"
)

type questionGenerator interface {
	GenerateQuestions(ctx context.Context, in GenerateQuestionsInput) ([]exam.Question, error)
}

type questionAdder interface {
	AddQuestion(ctx context.Context, in exam.AddQuestionInput) (*exam.KeyEntry, error)
}

type Handler struct {
	svc   questionGenerator
	exams questionAdder
}

// NewHandler wires generation; exams may be nil when drafts are never saved.
func NewHandler(svc questionGenerator, exams questionAdder) *Handler {
	return &Handler{svc: svc, exams: exams}
}

type generateRequest struct {
	ExamID     string `json:"exam_id"`
	Subject    string `json:"subject"`
	Topic      string `json:"topic"`
	Count      int    `json:"count"`
	Difficulty string `json:"difficulty"`
	Type       string `json:"type"`
}

type generateResponse struct {
	Questions []exam.Question  `json:"questions"`
	Saved     []exam.KeyEntry  `json:"saved,omitempty"`
	Rejected  []rejectedResult `json:"rejected,omitempty"`
}

type rejectedResult struct {
	Prompt string `json:"prompt"`
	Error  string `json:"error"`
}

// GenerateQuestions drafts questions and, when exam_id is set, appends them
// to the exam through the normal authoring path.
func (h *Handler) GenerateQuestions(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	questions, err := h.svc.GenerateQuestions(r.Context(), GenerateQuestionsInput{
		Subject:    req.Subject,
		Topic:      req.Topic,
		Count:      req.Count,
		Difficulty: exam.Difficulty(req.Difficulty),
		Type:       exam.QuestionType(req.Type),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrUnavailable):
			log.Printf("question generation unavailable: %v", err)
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "question generation is unavailable")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	out := generateResponse{Questions: questions}
	examID := strings.TrimSpace(req.ExamID)
	if examID == "" || h.exams == nil {
		apiresp.WriteOK(w, r, http.StatusOK, out)
		return
	}

	createdBy := ""
	if u, ok := auth.CurrentUser(r.Context()); ok {
		createdBy = u.ID
	}
	for _, q := range questions {
		q.CreatedByID = createdBy
		entry, err := h.exams.AddQuestion(r.Context(), exam.AddQuestionInput{ExamID: examID, Question: q})
		if err != nil {
			if errors.Is(err, exam.ErrExamNotFound) {
				apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
				return
			}
			if errors.Is(err, exam.ErrExamLocked) {
				apiresp.WriteErrorCode(w, r, http.StatusForbidden, "not_allowed", err.Error())
				return
			}
			out.Rejected = append(out.Rejected, rejectedResult{Prompt: q.Prompt, Error: err.Error()})
			continue
		}
		out.Saved = append(out.Saved, *entry)
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

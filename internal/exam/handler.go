package exam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"certexam/internal/app/apiresp"
	"certexam/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc examService
}

type examService interface {
	ListExams(ctx context.Context, role Role) ([]Exam, error)
	CreateExam(ctx context.Context, in CreateExamInput) (*Exam, error)
	AddQuestion(ctx context.Context, in AddQuestionInput) (*KeyEntry, error)
	AnswerKey(ctx context.Context, examID string, role Role) ([]KeyEntry, error)
	StartAttempt(ctx context.Context, userID string, role Role, examID string) (*StartedAttempt, error)
	QuestionOrder(ctx context.Context, attemptID string) (*StartedAttempt, error)
	GetAttempt(ctx context.Context, attemptID string) (*AttemptView, error)
	GetAttemptOwner(ctx context.Context, attemptID string) (string, error)
	RecordResponse(ctx context.Context, in RecordResponseInput) (*ResponseReceipt, error)
	SubmitAttempt(ctx context.Context, attemptID string) (*SubmitResult, error)
	ExpireIfOverdue(ctx context.Context, attemptID string) (*Attempt, error)
	IssueCertificate(ctx context.Context, attemptID string) (*CertificateRecord, error)
	VerifyCertificate(ctx context.Context, verificationID string) (*CertificateVerification, error)
	StudentDashboard(ctx context.Context, userID string) (*StudentDashboard, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type startAttemptRequest struct {
	ExamID string `json:"exam_id"`
}

type recordResponseRequest struct {
	SelectedAnswer   string `json:"selected_answer"`
	TimeSpentSeconds int64  `json:"time_spent_seconds"`
}

type createExamRequest struct {
	SubjectID         string `json:"subject_id"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	DurationMinutes   int    `json:"duration_minutes"`
	PassingPercentage int    `json:"passing_percentage"`
	RandomizeOrder    bool   `json:"randomize_order"`
	IsActive          *bool  `json:"is_active"`
	AllowRetakes      bool   `json:"allow_retakes"`
	StartAt           string `json:"start_at"`
	EndAt             string `json:"end_at"`
}

type addQuestionRequest struct {
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Type          string   `json:"type"`
	Difficulty    string   `json:"difficulty"`
	Points        int      `json:"points"`
	Explanation   string   `json:"explanation"`
	Order         int      `json:"order"`
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListExams(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	items, err := h.svc.ListExams(r.Context(), Role(user.Role))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) CreateExam(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	var req createExamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	startAt, endAt, err := parseExamSchedule(req.StartAt, req.EndAt)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	e, err := h.svc.CreateExam(r.Context(), CreateExamInput{
		SubjectID:         req.SubjectID,
		Title:             req.Title,
		Description:       req.Description,
		DurationMinutes:   req.DurationMinutes,
		PassingPercentage: req.PassingPercentage,
		RandomizeOrder:    req.RandomizeOrder,
		IsActive:          isActive,
		AllowRetakes:      req.AllowRetakes,
		StartAt:           startAt,
		EndAt:             endAt,
		CreatedByID:       user.ID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: e})
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	examID := strings.TrimSpace(chi.URLParam(r, "id"))
	if examID == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid exam id"})
		return
	}
	var req addQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	entry, err := h.svc.AddQuestion(r.Context(), AddQuestionInput{
		ExamID: examID,
		Order:  req.Order,
		Question: Question{
			Prompt:        req.Prompt,
			Options:       req.Options,
			CorrectAnswer: req.CorrectAnswer,
			Type:          QuestionType(strings.ToUpper(strings.TrimSpace(req.Type))),
			Difficulty:    Difficulty(strings.ToUpper(strings.TrimSpace(req.Difficulty))),
			Points:        req.Points,
			Explanation:   req.Explanation,
			CreatedByID:   user.ID,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: entry})
}

func (h *Handler) AnswerKey(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	key, err := h.svc.AnswerKey(r.Context(), chi.URLParam(r, "id"), Role(user.Role))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: key})
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	req.ExamID = strings.TrimSpace(req.ExamID)
	if req.ExamID == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "exam_id is required"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	started, err := h.svc.StartAttempt(r.Context(), user.ID, Role(user.Role), req.ExamID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: started})
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := h.authorizedAttempt(w, r, true)
	if !ok {
		return
	}
	view, err := h.svc.GetAttempt(r.Context(), attemptID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) Questions(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := h.authorizedAttempt(w, r, true)
	if !ok {
		return
	}
	order, err := h.svc.QuestionOrder(r.Context(), attemptID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: order})
}

func (h *Handler) RecordResponse(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := h.authorizedAttempt(w, r, false)
	if !ok {
		return
	}
	questionID := strings.TrimSpace(chi.URLParam(r, "questionID"))
	if questionID == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid question id"})
		return
	}
	var req recordResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	receipt, err := h.svc.RecordResponse(r.Context(), RecordResponseInput{
		AttemptID:        attemptID,
		QuestionID:       questionID,
		SelectedAnswer:   req.SelectedAnswer,
		TimeSpentSeconds: req.TimeSpentSeconds,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: receipt})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := h.authorizedAttempt(w, r, false)
	if !ok {
		return
	}
	result, err := h.svc.SubmitAttempt(r.Context(), attemptID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: result})
}

func (h *Handler) IssueCertificate(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := h.authorizedAttempt(w, r, true)
	if !ok {
		return
	}
	cert, err := h.svc.IssueCertificate(r.Context(), attemptID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: cert})
}

func (h *Handler) ExpireAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := strings.TrimSpace(chi.URLParam(r, "id"))
	if attemptID == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid attempt id"})
		return
	}
	a, err := h.svc.ExpireIfOverdue(r.Context(), attemptID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: a.Record()})
}

// VerifyCertificate is public.
func (h *Handler) VerifyCertificate(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.VerifyCertificate(r.Context(), chi.URLParam(r, "verificationID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: out})
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	dash, err := h.svc.StudentDashboard(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: dash})
}

// authorizedAttempt resolves the {id} param and checks ownership. Authoring
// roles may read any attempt when allowStaff is set; only the owner may write.
func (h *Handler) authorizedAttempt(w http.ResponseWriter, r *http.Request, allowStaff bool) (string, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return "", false
	}
	attemptID := strings.TrimSpace(chi.URLParam(r, "id"))
	if attemptID == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid attempt id"})
		return "", false
	}
	if allowStaff && Role(user.Role).CanAuthor() {
		return attemptID, true
	}

	ownerID, err := h.svc.GetAttemptOwner(r.Context(), attemptID)
	if err != nil {
		writeError(w, r, err)
		return "", false
	}
	if ownerID != user.ID {
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
		return "", false
	}
	return attemptID, true
}

// errorKinds maps each engine error kind to its HTTP status and wire code.
// Kinds sharing a status keep distinct codes so clients can tell them apart.
var errorKinds = []struct {
	kind   error
	status int
	code   string
}{
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrConflict, http.StatusConflict, "conflict"},
	{ErrInvalidState, http.StatusConflict, "invalid_state"},
	{ErrExpired, http.StatusGone, "expired"},
	{ErrInvalidQuestion, http.StatusBadRequest, "invalid_question"},
	{ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{ErrNotAllowed, http.StatusForbidden, "not_allowed"},
	{ErrNotEligible, http.StatusUnprocessableEntity, "not_eligible"},
	{ErrTransient, http.StatusServiceUnavailable, "transient"},
}

func classifyError(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		msg = "internal error"
	case http.StatusServiceUnavailable:
		msg = "temporarily unavailable, retry"
	}
	apiresp.WriteErrorCode(w, r, status, code, msg)
}

func parseExamSchedule(startRaw, endRaw string) (*time.Time, *time.Time, error) {
	parseOne := func(raw string) (*time.Time, error) {
		v := strings.TrimSpace(raw)
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	startAt, err := parseOne(startRaw)
	if err != nil {
		return nil, nil, errors.New("start_at must be RFC3339")
	}
	endAt, err := parseOne(endRaw)
	if err != nil {
		return nil, nil, errors.New("end_at must be RFC3339")
	}
	if startAt != nil && endAt != nil && !endAt.After(*startAt) {
		return nil, nil, errors.New("end_at must be after start_at")
	}
	return startAt, endAt, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}

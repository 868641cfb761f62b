package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"certexam/internal/app/apiresp"
	"certexam/internal/exam"

	"github.com/go-chi/chi/v5"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type reportService interface {
	SummaryByExam(ctx context.Context, examID string) (*ExamSummary, error)
	AdminDashboard(ctx context.Context) (*AdminDashboard, error)
	ExportExamResultsExcel(ctx context.Context, examID string) ([]byte, error)
}

type Handler struct {
	svc reportService
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.SummaryByExam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.AdminDashboard(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) ExportResults(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "id")
	data, err := h.svc.ExportExamResultsExcel(r.Context(), examID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="exam-%s-results.xlsx"`, examID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, exam.ErrNotFound) {
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
		return
	}
	apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
}

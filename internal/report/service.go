package report

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"certexam/internal/exam"

	"github.com/xuri/excelize/v2"
)

type examStore interface {
	GetExam(ctx context.Context, examID string) (*exam.Exam, error)
	ListExams(ctx context.Context, activeOnly bool) ([]exam.Exam, error)
	ListAttemptsByExam(ctx context.Context, examID string) ([]exam.Attempt, error)
	CountCertificatesByExam(ctx context.Context, examID string) (int, error)
	GetCertificateByAttempt(ctx context.Context, attemptID string) (*exam.Certificate, error)
}

// UserDirectory is the slice of the account store reports need.
type UserDirectory interface {
	CountUsers(ctx context.Context) (map[string]int, error)
}

type Service struct {
	exams examStore
	users UserDirectory
}

type ExamSummary struct {
	ExamID            string  `json:"exam_id"`
	Title             string  `json:"title"`
	IsActive          bool    `json:"is_active"`
	PassingPercentage int     `json:"passing_percentage"`
	Participants      int     `json:"participants"`
	Attempts          int     `json:"attempts"`
	InProgress        int     `json:"in_progress"`
	Submitted         int     `json:"submitted"`
	Expired           int     `json:"expired"`
	AverageScore      float64 `json:"average_percentage"`
	HighestScore      int     `json:"highest_percentage"`
	LowestScore       int     `json:"lowest_percentage"`
	PassRate          float64 `json:"pass_rate"`
	Certificates      int     `json:"certificates"`
}

type AdminDashboard struct {
	Users              map[string]int `json:"users"`
	TotalExams         int            `json:"total_exams"`
	ActiveExams        int            `json:"active_exams"`
	TotalAttempts      int            `json:"total_attempts"`
	SubmittedAttempts  int            `json:"submitted_attempts"`
	CertificatesIssued int            `json:"certificates_issued"`
	Exams              []ExamSummary  `json:"exams"`
}

func NewService(exams examStore, users UserDirectory) *Service {
	return &Service{exams: exams, users: users}
}

// SummaryByExam aggregates attempts of one exam. Score statistics cover
// SUBMITTED attempts only; expired attempts carry no score.
func (s *Service) SummaryByExam(ctx context.Context, examID string) (*ExamSummary, error) {
	e, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, e)
}

func (s *Service) summarize(ctx context.Context, e *exam.Exam) (*ExamSummary, error) {
	attempts, err := s.exams.ListAttemptsByExam(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	certs, err := s.exams.CountCertificatesByExam(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	out := &ExamSummary{
		ExamID:            e.ID,
		Title:             e.Title,
		IsActive:          e.IsActive,
		PassingPercentage: e.PassingPercentage,
		Attempts:          len(attempts),
		Certificates:      certs,
	}
	users := make(map[string]struct{}, len(attempts))
	sum, passed := 0, 0
	for _, a := range attempts {
		users[a.UserID] = struct{}{}
		switch a.Status {
		case exam.StatusInProgress:
			out.InProgress++
		case exam.StatusExpired:
			out.Expired++
		case exam.StatusSubmitted:
			if a.Percentage == nil {
				continue
			}
			p := *a.Percentage
			if out.Submitted == 0 || p > out.HighestScore {
				out.HighestScore = p
			}
			if out.Submitted == 0 || p < out.LowestScore {
				out.LowestScore = p
			}
			out.Submitted++
			sum += p
			if p >= e.PassingPercentage {
				passed++
			}
		}
	}
	out.Participants = len(users)
	if out.Submitted > 0 {
		out.AverageScore = round2(float64(sum) / float64(out.Submitted))
		out.PassRate = round2(float64(passed) * 100 / float64(out.Submitted))
	}
	return out, nil
}

func (s *Service) AdminDashboard(ctx context.Context) (*AdminDashboard, error) {
	out := &AdminDashboard{Users: map[string]int{}, Exams: make([]ExamSummary, 0)}
	if s.users != nil {
		counts, err := s.users.CountUsers(ctx)
		if err != nil {
			return nil, err
		}
		out.Users = counts
	}

	exams, err := s.exams.ListExams(ctx, false)
	if err != nil {
		return nil, err
	}
	for i := range exams {
		sum, err := s.summarize(ctx, &exams[i])
		if err != nil {
			return nil, err
		}
		out.TotalExams++
		if exams[i].IsActive {
			out.ActiveExams++
		}
		out.TotalAttempts += sum.Attempts
		out.SubmittedAttempts += sum.Submitted
		out.CertificatesIssued += sum.Certificates
		out.Exams = append(out.Exams, *sum)
	}
	return out, nil
}

var resultHeaders = []any{
	"attempt_id", "user_id", "status", "score", "total_marks", "percentage",
	"passed", "time_taken_seconds", "started_at", "submitted_at", "verification_id",
}

// ExportExamResultsExcel writes one row per attempt followed by a summary sheet.
func (s *Service) ExportExamResultsExcel(ctx context.Context, examID string) ([]byte, error) {
	e, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.exams.ListAttemptsByExam(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	summary, err := s.summarize(ctx, e)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := "Results"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return nil, fmt.Errorf("stream writer: %w", err)
	}
	if err := sw.SetColWidth(1, len(resultHeaders), 20); err != nil {
		return nil, fmt.Errorf("set col width: %w", err)
	}
	if err := sw.SetRow("A1", resultHeaders); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, a := range attempts {
		verification := ""
		if a.Status == exam.StatusSubmitted {
			if cert, err := s.exams.GetCertificateByAttempt(ctx, a.ID); err == nil {
				verification = cert.VerificationID
			}
		}
		row := []any{
			a.ID,
			a.UserID,
			string(a.Status),
			intOrBlank(a.Score),
			e.TotalMarks,
			intOrBlank(a.Percentage),
			a.Status == exam.StatusSubmitted && a.Percentage != nil && *a.Percentage >= e.PassingPercentage,
			int64OrBlank(a.TimeTakenSeconds),
			a.StartedAt.UTC().Format(time.RFC3339),
			timeOrBlank(a.SubmittedAt),
			verification,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flush results: %w", err)
	}

	if _, err := f.NewSheet("Summary"); err != nil {
		return nil, fmt.Errorf("summary sheet: %w", err)
	}
	pairs := [][]any{
		{"exam", e.Title},
		{"passing_percentage", e.PassingPercentage},
		{"participants", summary.Participants},
		{"submitted", summary.Submitted},
		{"expired", summary.Expired},
		{"in_progress", summary.InProgress},
		{"average_percentage", summary.AverageScore},
		{"highest_percentage", summary.HighestScore},
		{"lowest_percentage", summary.LowestScore},
		{"pass_rate", summary.PassRate},
		{"certificates", summary.Certificates},
	}
	for i, p := range pairs {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Summary", cell, &p); err != nil {
			return nil, fmt.Errorf("write summary: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func intOrBlank(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func int64OrBlank(v *int64) any {
	if v == nil {
		return ""
	}
	return *v
}

func timeOrBlank(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

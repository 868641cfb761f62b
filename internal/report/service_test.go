package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"certexam/internal/exam"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixedUsers map[string]int

func (u fixedUsers) CountUsers(ctx context.Context) (map[string]int, error) {
	return u, nil
}

// seeded builds one exam (passing 60%) with questions worth 1, 2 and 3
// points. student-1 scores 100%, student-2 scores 17%, student-3 expires.
func seeded(t *testing.T) (*exam.MemoryStore, *exam.Exam) {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	store := exam.NewMemoryStore()
	policy := exam.DefaultPolicy()
	policy.CertificateBackoff = 0
	svc := exam.NewService(exam.ServiceConfig{Store: store, Now: clock.Now, Policy: policy})

	e, err := svc.CreateExam(ctx, exam.CreateExamInput{
		Title:             "Biology",
		DurationMinutes:   30,
		PassingPercentage: 60,
		IsActive:          true,
	})
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	var qids []string
	for i, correct := range []string{"A", "B", "C"} {
		entry, err := svc.AddQuestion(ctx, exam.AddQuestionInput{ExamID: e.ID, Question: exam.Question{
			Prompt: "Q" + correct, Options: []string{"A", "B", "C"}, CorrectAnswer: correct, Type: exam.QuestionMCQ, Points: i + 1,
		}})
		if err != nil {
			t.Fatalf("add question: %v", err)
		}
		qids = append(qids, entry.QuestionID)
	}

	take := func(user string, answers map[int]string, submit bool) {
		started, err := svc.StartAttempt(ctx, user, exam.RoleStudent, e.ID)
		if err != nil {
			t.Fatalf("start %s: %v", user, err)
		}
		for idx, ans := range answers {
			if _, err := svc.RecordResponse(ctx, exam.RecordResponseInput{
				AttemptID: started.Attempt.AttemptID, QuestionID: qids[idx], SelectedAnswer: ans,
			}); err != nil {
				t.Fatalf("record %s: %v", user, err)
			}
		}
		if submit {
			if _, err := svc.SubmitAttempt(ctx, started.Attempt.AttemptID); err != nil {
				t.Fatalf("submit %s: %v", user, err)
			}
		}
	}
	take("student-1", map[int]string{0: "A", 1: "B", 2: "C"}, true)
	take("student-2", map[int]string{0: "A", 1: "C"}, true)
	take("student-3", map[int]string{0: "A"}, false)

	clock.Advance(31 * time.Minute)
	sweep := exam.NewSweeper(svc, time.Minute).SweepOnce(ctx)
	if sweep.Expired != 1 {
		t.Fatalf("expected one expired attempt, got %+v", sweep)
	}

	reloaded, err := store.GetExam(ctx, e.ID)
	if err != nil {
		t.Fatalf("reload exam: %v", err)
	}
	return store, reloaded
}

func TestSummaryByExam(t *testing.T) {
	store, e := seeded(t)
	svc := NewService(store, nil)

	got, err := svc.SummaryByExam(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	want := ExamSummary{
		ExamID:            e.ID,
		Title:             "Biology",
		IsActive:          true,
		PassingPercentage: 60,
		Participants:      3,
		Attempts:          3,
		Submitted:         2,
		Expired:           1,
		AverageScore:      58.5,
		HighestScore:      100,
		LowestScore:       17,
		PassRate:          50,
		Certificates:      1,
	}
	if *got != want {
		t.Fatalf("unexpected summary:\n got %+v\nwant %+v", *got, want)
	}
}

func TestSummaryByExamNotFound(t *testing.T) {
	svc := NewService(exam.NewMemoryStore(), nil)
	if _, err := svc.SummaryByExam(context.Background(), "missing"); !errors.Is(err, exam.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdminDashboard(t *testing.T) {
	store, _ := seeded(t)
	svc := NewService(store, fixedUsers{"ADMIN": 1, "STUDENT": 3})

	got, err := svc.AdminDashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if got.TotalExams != 1 || got.ActiveExams != 1 || got.TotalAttempts != 3 || got.SubmittedAttempts != 2 || got.CertificatesIssued != 1 {
		t.Fatalf("unexpected dashboard: %+v", got)
	}
	if got.Users["STUDENT"] != 3 || len(got.Exams) != 1 {
		t.Fatalf("unexpected dashboard detail: %+v", got)
	}
}

func TestExportExamResultsExcel(t *testing.T) {
	store, e := seeded(t)
	svc := NewService(store, nil)

	data, err := svc.ExportExamResultsExcel(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Results")
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 attempts, got %d rows", len(rows))
	}
	if rows[0][0] != "attempt_id" {
		t.Fatalf("unexpected header %v", rows[0])
	}

	passed, certified := 0, 0
	for _, row := range rows[1:] {
		if row[6] == "TRUE" {
			passed++
		}
		if len(row) > 10 && row[10] != "" {
			certified++
		}
	}
	if passed != 1 || certified != 1 {
		t.Fatalf("expected one passing certified row, got passed=%d certified=%d", passed, certified)
	}

	summary, err := f.GetRows("Summary")
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if summary[0][1] != "Biology" {
		t.Fatalf("unexpected summary sheet: %v", summary)
	}
}

func TestHandlerExportAndNotFound(t *testing.T) {
	store, e := seeded(t)
	h := NewHandler(NewService(store, nil))

	route := func(id string, fn http.HandlerFunc) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/exams/"+id+"/summary", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		w := httptest.NewRecorder()
		fn(w, req)
		return w
	}

	w := route(e.ID, h.ExportResults)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("unexpected export response %d %q", w.Code, w.Header().Get("Content-Type"))
	}

	w = route("missing", h.Summary)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = route(e.ID, h.Summary)
	var body struct {
		OK   bool        `json:"ok"`
		Data ExamSummary `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.Data.Submitted != 2 {
		t.Fatalf("unexpected summary body: %+v", body)
	}
}

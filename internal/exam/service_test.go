package exam

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)}
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

type fixture struct {
	svc   *Service
	store Store
	clock *testClock
	exam  *Exam
	qids  []string
}

type fixtureOption func(*CreateExamInput, *ServiceConfig)

func withDuration(minutes int) fixtureOption {
	return func(in *CreateExamInput, _ *ServiceConfig) { in.DurationMinutes = minutes }
}

func withRetakes() fixtureOption {
	return func(in *CreateExamInput, _ *ServiceConfig) { in.AllowRetakes = true }
}

func withRandomOrder() fixtureOption {
	return func(in *CreateExamInput, _ *ServiceConfig) { in.RandomizeOrder = true }
}

func withStore(s Store) fixtureOption {
	return func(_ *CreateExamInput, cfg *ServiceConfig) { cfg.Store = s }
}

// newFixture seeds an active exam with three MCQ questions worth 1, 2 and 3
// points whose correct answers are "A", "B" and "C".
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	clock := newTestClock()
	in := CreateExamInput{
		SubjectID:         "math",
		Title:             "Algebra I",
		DurationMinutes:   60,
		PassingPercentage: 60,
		IsActive:          true,
		CreatedByID:       "teacher-1",
	}
	policy := DefaultPolicy()
	policy.CertificateBackoff = 0
	cfg := ServiceConfig{Store: NewMemoryStore(), Now: clock.Now, Policy: policy}
	for _, opt := range opts {
		opt(&in, &cfg)
	}

	svc := NewService(cfg)
	ctx := context.Background()
	e, err := svc.CreateExam(ctx, in)
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}

	f := &fixture{svc: svc, store: cfg.Store, clock: clock}
	for i, correct := range []string{"A", "B", "C"} {
		entry, err := svc.AddQuestion(ctx, AddQuestionInput{
			ExamID: e.ID,
			Question: Question{
				Prompt:        "Question " + correct,
				Options:       []string{"A", "B", "C", "D"},
				CorrectAnswer: correct,
				Type:          QuestionMCQ,
				Points:        i + 1,
			},
		})
		if err != nil {
			t.Fatalf("add question: %v", err)
		}
		f.qids = append(f.qids, entry.QuestionID)
	}
	f.exam, err = cfg.Store.GetExam(ctx, e.ID)
	if err != nil {
		t.Fatalf("reload exam: %v", err)
	}
	return f
}

func (f *fixture) start(t *testing.T, userID string) *StartedAttempt {
	t.Helper()
	started, err := f.svc.StartAttempt(context.Background(), userID, RoleStudent, f.exam.ID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	return started
}

func (f *fixture) answer(t *testing.T, attemptID string, questionIdx int, answer string) {
	t.Helper()
	if _, err := f.svc.RecordResponse(context.Background(), RecordResponseInput{
		AttemptID:      attemptID,
		QuestionID:     f.qids[questionIdx],
		SelectedAnswer: answer,
	}); err != nil {
		t.Fatalf("record response q%d: %v", questionIdx+1, err)
	}
}

func TestAddQuestionKeepsTotalMarks(t *testing.T) {
	f := newFixture(t)
	if f.exam.TotalMarks != 6 {
		t.Fatalf("expected total marks 6, got %d", f.exam.TotalMarks)
	}
}

func (f *fixture) storedQuestions(t *testing.T) int {
	t.Helper()
	m, ok := f.store.(*MemoryStore)
	if !ok {
		t.Fatalf("fixture store is %T, want *MemoryStore", f.store)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.questions)
}

func TestAddQuestionRejectedOnceAttemptExists(t *testing.T) {
	f := newFixture(t, withRandomOrder())
	ctx := context.Background()
	started := f.start(t, "student-1")
	id := started.Attempt.AttemptID

	_, err := f.svc.AddQuestion(ctx, AddQuestionInput{ExamID: f.exam.ID, Question: Question{
		Prompt: "Late addition", Options: []string{"A", "B"}, CorrectAnswer: "A", Type: QuestionMCQ, Points: 10,
	}})
	if !errors.Is(err, ErrExamLocked) || !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected exam locked, got %v", err)
	}
	if got := f.storedQuestions(t); got != 3 {
		t.Fatalf("rejected question must not be stored, have %d questions", got)
	}

	e, _ := f.store.GetExam(ctx, f.exam.ID)
	if e.TotalMarks != 6 {
		t.Fatalf("expected total marks unchanged at 6, got %d", e.TotalMarks)
	}
	again, err := f.svc.QuestionOrder(ctx, id)
	if err != nil {
		t.Fatalf("question order: %v", err)
	}
	if len(again.Questions) != len(started.Questions) {
		t.Fatalf("presentation size changed from %d to %d", len(started.Questions), len(again.Questions))
	}
	for i := range started.Questions {
		if again.Questions[i].QuestionID != started.Questions[i].QuestionID {
			t.Fatalf("presentation order changed at %d", i)
		}
	}

	f.answer(t, id, 0, "A")
	f.answer(t, id, 1, "B")
	f.answer(t, id, 2, "C")
	res, err := f.svc.SubmitAttempt(ctx, id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if *res.Attempt.Score != 6 || *res.Attempt.Percentage != 100 || !res.Passed {
		t.Fatalf("expected full marks, got %+v", res.Attempt)
	}

	// Terminal attempts keep the exam locked too.
	if _, err := f.svc.AddQuestion(ctx, AddQuestionInput{ExamID: f.exam.ID, Question: Question{
		Prompt: "After submit", Options: []string{"A", "B"}, CorrectAnswer: "B", Type: QuestionMCQ, Points: 1,
	}}); !errors.Is(err, ErrExamLocked) {
		t.Fatalf("expected exam locked after submit, got %v", err)
	}
}

func TestAddQuestionDuplicateOrderLeavesNoOrphan(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddQuestion(context.Background(), AddQuestionInput{ExamID: f.exam.ID, Order: 1, Question: Question{
		Prompt: "Clashes with the first slot", Options: []string{"A", "B"}, CorrectAnswer: "A", Type: QuestionMCQ, Points: 1,
	}})
	if !errors.Is(err, ErrDuplicateQuestion) {
		t.Fatalf("expected duplicate question, got %v", err)
	}
	if got := f.storedQuestions(t); got != 3 {
		t.Fatalf("failed link must not leave a question behind, have %d questions", got)
	}
	e, _ := f.store.GetExam(context.Background(), f.exam.ID)
	if e.TotalMarks != 6 {
		t.Fatalf("expected total marks unchanged at 6, got %d", e.TotalMarks)
	}
}

func TestStartAttemptPresentsQuestionsWithoutAnswers(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, "student-1")

	if started.Attempt.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", started.Attempt.Status)
	}
	if started.RemainingSeconds != 3600 {
		t.Fatalf("expected 3600 seconds remaining, got %d", started.RemainingSeconds)
	}
	if len(started.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(started.Questions))
	}
	for i, q := range started.Questions {
		if q.QuestionID != f.qids[i] {
			t.Fatalf("expected authoring order at %d, got %s", i, q.QuestionID)
		}
	}

	raw, err := json.Marshal(started)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "correct") {
		t.Fatalf("presented attempt leaks answer key: %s", raw)
	}
}

func TestQuestionOrderStableAcrossResume(t *testing.T) {
	f := newFixture(t, withRandomOrder())
	started := f.start(t, "student-1")

	for i := 0; i < 3; i++ {
		again, err := f.svc.QuestionOrder(context.Background(), started.Attempt.AttemptID)
		if err != nil {
			t.Fatalf("question order: %v", err)
		}
		for j := range started.Questions {
			if again.Questions[j].QuestionID != started.Questions[j].QuestionID {
				t.Fatalf("order changed on resume at %d", j)
			}
		}
	}
}

func TestStartAttemptRejectsSecondInProgress(t *testing.T) {
	f := newFixture(t)
	f.start(t, "student-1")

	_, err := f.svc.StartAttempt(context.Background(), "student-1", RoleStudent, f.exam.ID)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestStartAttemptConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.StartAttempt(context.Background(), "student-1", RoleStudent, f.exam.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", n-1, ok, conflicts)
	}
}

func TestStartAttemptOverdueInProgressIsExpiredFirst(t *testing.T) {
	f := newFixture(t, withRetakes())
	first := f.start(t, "student-1")

	f.clock.Advance(61 * time.Minute)
	second := f.start(t, "student-1")
	if second.Attempt.AttemptID == first.Attempt.AttemptID {
		t.Fatalf("expected a new attempt")
	}

	old, err := f.store.GetAttempt(context.Background(), first.Attempt.AttemptID)
	if err != nil {
		t.Fatalf("load old attempt: %v", err)
	}
	if old.Status != StatusExpired {
		t.Fatalf("expected old attempt EXPIRED, got %s", old.Status)
	}
}

func TestRecordResponseOverwritesByQuestion(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, "student-1")
	id := started.Attempt.AttemptID

	f.answer(t, id, 0, "B")
	f.answer(t, id, 0, "A")

	a, err := f.store.GetAttempt(context.Background(), id)
	if err != nil {
		t.Fatalf("load attempt: %v", err)
	}
	if len(a.Responses) != 1 {
		t.Fatalf("expected one response, got %d", len(a.Responses))
	}
	if a.Responses[0].SelectedAnswer != "A" {
		t.Fatalf("expected last answer to win, got %q", a.Responses[0].SelectedAnswer)
	}
}

func TestRecordResponseValidation(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, "student-1")
	ctx := context.Background()

	_, err := f.svc.RecordResponse(ctx, RecordResponseInput{AttemptID: started.Attempt.AttemptID, QuestionID: "not-in-exam", SelectedAnswer: "A"})
	if !errors.Is(err, ErrInvalidQuestion) {
		t.Fatalf("expected invalid question, got %v", err)
	}

	_, err = f.svc.RecordResponse(ctx, RecordResponseInput{AttemptID: started.Attempt.AttemptID, QuestionID: f.qids[0], SelectedAnswer: "Z"})
	if !errors.Is(err, ErrInvalidQuestion) || !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("expected invalid answer, got %v", err)
	}

	_, err = f.svc.RecordResponse(ctx, RecordResponseInput{AttemptID: "missing", QuestionID: f.qids[0], SelectedAnswer: "A"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := f.svc.RecordResponse(ctx, RecordResponseInput{AttemptID: started.Attempt.AttemptID, QuestionID: f.qids[0], SelectedAnswer: "A", TimeSpentSeconds: -30}); err != nil {
		t.Fatalf("record response: %v", err)
	}
	a, _ := f.store.GetAttempt(ctx, started.Attempt.AttemptID)
	if a.Responses[0].TimeSpentSeconds != 0 {
		t.Fatalf("expected negative time clamped to 0, got %d", a.Responses[0].TimeSpentSeconds)
	}
}

func TestRecordResponseAfterTimeLimitExpires(t *testing.T) {
	f := newFixture(t, withDuration(1))
	started := f.start(t, "student-1")
	id := started.Attempt.AttemptID
	ctx := context.Background()

	f.clock.Advance(30 * time.Second)
	f.answer(t, id, 0, "A")

	f.clock.Advance(31 * time.Second)
	_, err := f.svc.RecordResponse(ctx, RecordResponseInput{AttemptID: id, QuestionID: f.qids[1], SelectedAnswer: "B"})
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}

	a, err := f.store.GetAttempt(ctx, id)
	if err != nil {
		t.Fatalf("load attempt: %v", err)
	}
	if a.Status != StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", a.Status)
	}
	if a.Score != nil || a.Percentage != nil || a.SubmittedAt != nil {
		t.Fatalf("expired attempt must have no score or submission time: %+v", a)
	}
	if a.TimeTakenSeconds == nil || *a.TimeTakenSeconds != 60 {
		t.Fatalf("expected time taken 60, got %v", a.TimeTakenSeconds)
	}

	_, err = f.svc.SubmitAttempt(ctx, id)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state on submit after expiry, got %v", err)
	}
}

func TestSubmitScoresAndIssuesCertificate(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, "student-1")
	id := started.Attempt.AttemptID
	ctx := context.Background()

	f.answer(t, id, 0, "A")
	f.answer(t, id, 1, "A")
	f.answer(t, id, 2, "C")
	f.clock.Advance(10 * time.Minute)

	res, err := f.svc.SubmitAttempt(ctx, id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Attempt.Status != StatusSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", res.Attempt.Status)
	}
	if *res.Attempt.Score != 4 || *res.Attempt.Percentage != 67 {
		t.Fatalf("expected 4 points and 67%%, got %d and %d", *res.Attempt.Score, *res.Attempt.Percentage)
	}
	if *res.Attempt.TimeTakenSeconds != 600 {
		t.Fatalf("expected 600 seconds taken, got %d", *res.Attempt.TimeTakenSeconds)
	}
	if !res.Passed || res.Certificate == nil {
		t.Fatalf("expected pass with certificate, got %+v", res)
	}

	again, err := f.svc.IssueCertificate(ctx, id)
	if err != nil {
		t.Fatalf("issue again: %v", err)
	}
	if again.VerificationID != res.Certificate.VerificationID || again.CertificateID != res.Certificate.CertificateID {
		t.Fatalf("expected same certificate on retry")
	}

	verified, err := f.svc.VerifyCertificate(ctx, res.Certificate.VerificationID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.ExamTitle != "Algebra I" || verified.UserID != "student-1" {
		t.Fatalf("unexpected verification: %+v", verified)
	}
	if verified.Artwork == nil || verified.Artwork.Status != ArtworkPending {
		t.Fatalf("expected pending artwork, got %+v", verified.Artwork)
	}
}

func TestSubmitBelowPassingHasNoCertificate(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, "student-1")
	id := started.Attempt.AttemptID
	ctx := context.Background()

	f.answer(t, id, 0, "A")
	res, err := f.svc.SubmitAttempt(ctx, id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Passed || res.Certificate != nil {
		t.Fatalf("expected failing attempt without certificate, got %+v", res)
	}
	if *res.Attempt.Percentage != 17 {
		t.Fatalf("expected 17%%, got %d", *res.Attempt.Percentage)
	}

	_, err = f.svc.IssueCertificate(ctx, id)
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected not eligible, got %v", err)
	}
}

func TestSubmitConcurrentExactlyOnce(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, "student-1")
	id := started.Attempt.AttemptID
	f.answer(t, id, 2, "C")

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitAttempt(context.Background(), id)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, invalid := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidState):
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || invalid != n-1 {
		t.Fatalf("expected 1 success and %d invalid state, got %d and %d", n-1, ok, invalid)
	}
}

func TestSubmitAfterDeadlineClampsTimeTaken(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, "student-1")
	f.clock.Advance(3 * time.Hour)

	res, err := f.svc.SubmitAttempt(context.Background(), started.Attempt.AttemptID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if *res.Attempt.TimeTakenSeconds != 3600 {
		t.Fatalf("expected time taken clamped to 3600, got %d", *res.Attempt.TimeTakenSeconds)
	}
}

func TestExpireIfOverdueIdempotent(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, "student-1")
	id := started.Attempt.AttemptID
	ctx := context.Background()

	a, err := f.svc.ExpireIfOverdue(ctx, id)
	if err != nil || a.Status != StatusInProgress {
		t.Fatalf("attempt within limit must stay IN_PROGRESS, got %v err=%v", a, err)
	}

	f.clock.Advance(2 * time.Hour)
	first, err := f.svc.ExpireIfOverdue(ctx, id)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	second, err := f.svc.ExpireIfOverdue(ctx, id)
	if err != nil {
		t.Fatalf("expire again: %v", err)
	}
	if first.Status != StatusExpired || second.Status != StatusExpired {
		t.Fatalf("expected EXPIRED twice, got %s and %s", first.Status, second.Status)
	}
	if first.Version != second.Version {
		t.Fatalf("second expiry must not write, versions %d vs %d", first.Version, second.Version)
	}
}

func TestGetAttemptAppliesLazyExpiry(t *testing.T) {
	f := newFixture(t)
	started := f.start(t, "student-1")
	ctx := context.Background()

	f.clock.Advance(15 * time.Minute)
	view, err := f.svc.GetAttempt(ctx, started.Attempt.AttemptID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if view.RemainingSeconds != 45*60 {
		t.Fatalf("expected 2700 remaining, got %d", view.RemainingSeconds)
	}

	f.clock.Advance(time.Hour)
	view, err = f.svc.GetAttempt(ctx, started.Attempt.AttemptID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if view.Attempt.Status != StatusExpired || view.RemainingSeconds != 0 {
		t.Fatalf("expected EXPIRED with no time left, got %+v", view)
	}
}

// racingStore lands a response between the submit read and the CAS write.
type racingStore struct {
	*MemoryStore
	once sync.Once
	race func()
}

func (s *racingStore) CompleteAttempt(ctx context.Context, attemptID string, expectedVersion int64, out AttemptOutcome) error {
	s.once.Do(s.race)
	return s.MemoryStore.CompleteAttempt(ctx, attemptID, expectedVersion, out)
}

func TestSubmitRetriesWhenResponseLandsDuringGrading(t *testing.T) {
	store := &racingStore{MemoryStore: NewMemoryStore()}
	f := newFixture(t, withStore(store))
	started := f.start(t, "student-1")
	id := started.Attempt.AttemptID
	f.answer(t, id, 0, "A")

	store.race = func() {
		if err := store.MemoryStore.UpsertResponse(context.Background(), id, Response{QuestionID: f.qids[2], SelectedAnswer: "C"}); err != nil {
			t.Errorf("racing upsert: %v", err)
		}
	}

	res, err := f.svc.SubmitAttempt(context.Background(), id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if *res.Attempt.Score != 4 {
		t.Fatalf("expected response committed before the transition to count, got score %d", *res.Attempt.Score)
	}
}

// startRaceStore commits a rival attempt just before the first CreateAttempt,
// as a concurrent start on another node would.
type startRaceStore struct {
	*MemoryStore
	once  sync.Once
	rival *Attempt
	err   error
}

func (s *startRaceStore) CreateAttempt(ctx context.Context, a *Attempt) error {
	s.once.Do(func() { s.err = s.MemoryStore.CreateAttempt(ctx, s.rival) })
	return s.MemoryStore.CreateAttempt(ctx, a)
}

func TestStartAttemptConflictRereadsOnce(t *testing.T) {
	tests := []struct {
		name      string
		rivalAge  time.Duration
		wantStart bool
	}{
		{name: "live rival is a conflict", rivalAge: time.Minute},
		{name: "overdue rival is expired and start retried", rivalAge: 2 * time.Hour, wantStart: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &startRaceStore{MemoryStore: NewMemoryStore()}
			f := newFixture(t, withStore(store), withRetakes())
			store.rival = &Attempt{
				ID:        "rival",
				ExamID:    f.exam.ID,
				UserID:    "student-1",
				Status:    StatusInProgress,
				StartedAt: f.clock.Now().Add(-tc.rivalAge),
				Version:   1,
			}

			started, err := f.svc.StartAttempt(context.Background(), "student-1", RoleStudent, f.exam.ID)
			if store.err != nil {
				t.Fatalf("plant rival: %v", store.err)
			}
			rival, _ := f.store.GetAttempt(context.Background(), "rival")
			if !tc.wantStart {
				if !errors.Is(err, ErrConflict) {
					t.Fatalf("expected conflict, got %v", err)
				}
				if rival.Status != StatusInProgress {
					t.Fatalf("live rival must stay IN_PROGRESS, got %s", rival.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected start after re-read, got %v", err)
			}
			if started.Attempt.AttemptID == "rival" || started.Attempt.Status != StatusInProgress {
				t.Fatalf("unexpected attempt: %+v", started.Attempt)
			}
			if rival.Status != StatusExpired {
				t.Fatalf("expected overdue rival EXPIRED, got %s", rival.Status)
			}
		})
	}
}

func TestStudentDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dash, err := f.svc.StudentDashboard(ctx, "student-1")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(dash.AvailableExams) != 1 {
		t.Fatalf("expected one available exam, got %d", len(dash.AvailableExams))
	}

	started := f.start(t, "student-1")
	f.answer(t, started.Attempt.AttemptID, 1, "B")
	f.answer(t, started.Attempt.AttemptID, 2, "C")
	if _, err := f.svc.SubmitAttempt(ctx, started.Attempt.AttemptID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	dash, err = f.svc.StudentDashboard(ctx, "student-1")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(dash.AvailableExams) != 0 {
		t.Fatalf("exam without retakes should no longer be available")
	}
	if dash.Stats.TotalAttempts != 1 || dash.Stats.AverageScore != 83 || dash.Stats.CertificatesEarned != 1 {
		t.Fatalf("unexpected stats: %+v", dash.Stats)
	}
}

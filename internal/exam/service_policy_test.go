package exam

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStartAttemptPolicy(t *testing.T) {
	base := time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)
	past := base.Add(-time.Hour)
	future := base.Add(time.Hour)

	tests := []struct {
		name       string
		active     bool
		startAt    *time.Time
		endAt      *time.Time
		retakes    bool
		policyFlag bool
		priorDone  bool
		expectErr  error
	}{
		{name: "open exam", active: true},
		{name: "inactive exam", active: false, expectErr: ErrInactive},
		{name: "before window", active: true, startAt: &future, expectErr: ErrOutsideSchedule},
		{name: "after window", active: true, endAt: &past, expectErr: ErrOutsideSchedule},
		{name: "inside window", active: true, startAt: &past, endAt: &future},
		{name: "retake denied", active: true, priorDone: true, expectErr: ErrRetakeDenied},
		{name: "retake allowed by exam", active: true, priorDone: true, retakes: true},
		{name: "retake allowed by policy", active: true, priorDone: true, policyFlag: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := NewMemoryStore()
			policy := DefaultPolicy()
			policy.AllowRetakes = tc.policyFlag
			svc := NewService(ServiceConfig{
				Store:  store,
				Now:    func() time.Time { return base },
				Policy: policy,
			})

			e, err := svc.CreateExam(ctx, CreateExamInput{
				Title:             "Policy",
				DurationMinutes:   30,
				PassingPercentage: 50,
				IsActive:          tc.active,
				AllowRetakes:      tc.retakes,
				StartAt:           tc.startAt,
				EndAt:             tc.endAt,
			})
			if err != nil {
				t.Fatalf("create exam: %v", err)
			}
			if _, err := svc.AddQuestion(ctx, AddQuestionInput{ExamID: e.ID, Question: Question{
				Prompt:        "2+2",
				Options:       []string{"3", "4"},
				CorrectAnswer: "4",
				Type:          QuestionMCQ,
				Points:        1,
			}}); err != nil {
				t.Fatalf("add question: %v", err)
			}

			if tc.priorDone {
				started, err := svc.StartAttempt(ctx, "student-1", RoleStudent, e.ID)
				if err != nil {
					t.Fatalf("prior start: %v", err)
				}
				if _, err := svc.SubmitAttempt(ctx, started.Attempt.AttemptID); err != nil {
					t.Fatalf("prior submit: %v", err)
				}
			}

			_, err = svc.StartAttempt(ctx, "student-1", RoleStudent, e.ID)
			if tc.expectErr == nil {
				if err != nil {
					t.Fatalf("expected start to succeed, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.expectErr) {
				t.Fatalf("expected %v, got %v", tc.expectErr, err)
			}
			if !errors.Is(err, ErrNotAllowed) {
				t.Fatalf("expected a not-allowed kind, got %v", err)
			}
		})
	}
}

func TestStartAttemptWithoutQuestions(t *testing.T) {
	ctx := context.Background()
	svc := NewService(ServiceConfig{Store: NewMemoryStore()})
	e, err := svc.CreateExam(ctx, CreateExamInput{Title: "Empty", DurationMinutes: 10, PassingPercentage: 50, IsActive: true})
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	_, err = svc.StartAttempt(ctx, "student-1", RoleStudent, e.ID)
	if !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("expected no questions error, got %v", err)
	}
}

func TestCreateExamValidation(t *testing.T) {
	svc := NewService(ServiceConfig{Store: NewMemoryStore()})
	start := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	tests := []struct {
		name string
		in   CreateExamInput
	}{
		{name: "missing title", in: CreateExamInput{DurationMinutes: 10, PassingPercentage: 50}},
		{name: "zero duration", in: CreateExamInput{Title: "x", PassingPercentage: 50}},
		{name: "passing above 100", in: CreateExamInput{Title: "x", DurationMinutes: 10, PassingPercentage: 101}},
		{name: "window reversed", in: CreateExamInput{Title: "x", DurationMinutes: 10, PassingPercentage: 50, StartAt: &start, EndAt: &end}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateExam(context.Background(), tc.in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

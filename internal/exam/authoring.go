package exam

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type CreateExamInput struct {
	SubjectID         string
	Title             string
	Description       string
	DurationMinutes   int
	PassingPercentage int
	RandomizeOrder    bool
	IsActive          bool
	AllowRetakes      bool
	StartAt           *time.Time
	EndAt             *time.Time
	CreatedByID       string
}

type AddQuestionInput struct {
	ExamID   string
	Question Question
	// Order is the authoring position; zero appends after the last question.
	Order int
	// Points overrides Question.Points for this exam when positive.
	Points int
}

func (s *Service) CreateExam(ctx context.Context, in CreateExamInput) (*Exam, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidInput)
	}
	if in.PassingPercentage < 0 || in.PassingPercentage > 100 {
		return nil, fmt.Errorf("%w: passing_percentage must be between 0 and 100", ErrInvalidInput)
	}
	if in.StartAt != nil && in.EndAt != nil && !in.EndAt.After(*in.StartAt) {
		return nil, fmt.Errorf("%w: end_at must be after start_at", ErrInvalidInput)
	}

	e := &Exam{
		ID:                s.newID(),
		SubjectID:         strings.TrimSpace(in.SubjectID),
		Title:             title,
		Description:       strings.TrimSpace(in.Description),
		DurationMinutes:   in.DurationMinutes,
		PassingPercentage: in.PassingPercentage,
		RandomizeOrder:    in.RandomizeOrder,
		IsActive:          in.IsActive,
		AllowRetakes:      in.AllowRetakes,
		StartAt:           utcPtr(in.StartAt),
		EndAt:             utcPtr(in.EndAt),
		CreatedByID:       in.CreatedByID,
		CreatedAt:         s.now(),
	}
	if err := s.store.CreateExam(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) ListExams(ctx context.Context, role Role) ([]Exam, error) {
	return s.store.ListExams(ctx, !role.CanAuthor())
}

// AddQuestion stores a validated question and links it to the exam. Exams
// with attempts are locked and fail with ErrExamLocked.
func (s *Service) AddQuestion(ctx context.Context, in AddQuestionInput) (*KeyEntry, error) {
	q := in.Question
	if in.Points > 0 {
		q.Points = in.Points
	}
	if q.Difficulty == "" {
		q.Difficulty = DifficultyMedium
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	e, err := s.store.GetExam(ctx, in.ExamID)
	if err != nil {
		return nil, err
	}
	order := in.Order
	if order <= 0 {
		key, err := s.store.ListAnswerKey(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		for _, k := range key {
			if k.Order >= order {
				order = k.Order + 1
			}
		}
		if order <= 0 {
			order = 1
		}
	}

	if q.ID == "" {
		q.ID = s.newID()
	}
	if q.SubjectID == "" {
		q.SubjectID = e.SubjectID
	}
	if err := s.store.AddExamQuestion(ctx, &q, ExamQuestion{ExamID: e.ID, QuestionID: q.ID, Order: order, Points: q.Points}); err != nil {
		return nil, err
	}
	s.keys.Invalidate(ctx, e.ID)

	return &KeyEntry{
		QuestionID:    q.ID,
		Prompt:        q.Prompt,
		Type:          q.Type,
		Options:       q.Options,
		CorrectAnswer: q.CorrectAnswer,
		Points:        q.Points,
		Order:         order,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Millisecond)
	return &v
}

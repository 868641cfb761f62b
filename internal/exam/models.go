package exam

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"

	// roleEngine is used for reads the engine performs on its own behalf,
	// e.g. scoring an attempt whose exam was deactivated mid-session.
	roleEngine Role = "ENGINE"
)

// CanAuthor reports whether the role may see inactive exams and answer keys.
func (r Role) CanAuthor() bool {
	return r == RoleAdmin || r == RoleTeacher || r == roleEngine
}

type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "IN_PROGRESS"
	StatusSubmitted  AttemptStatus = "SUBMITTED"
	StatusExpired    AttemptStatus = "EXPIRED"
)

func (s AttemptStatus) Terminal() bool {
	return s == StatusSubmitted || s == StatusExpired
}

type QuestionType string

const (
	QuestionMCQ       QuestionType = "MCQ"
	QuestionTrueFalse QuestionType = "TRUE_FALSE"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

type Exam struct {
	ID                string     `json:"id"`
	SubjectID         string     `json:"subject_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	DurationMinutes   int        `json:"duration_minutes"`
	TotalMarks        int        `json:"total_marks"`
	PassingPercentage int        `json:"passing_percentage"`
	RandomizeOrder    bool       `json:"randomize_order"`
	IsActive          bool       `json:"is_active"`
	AllowRetakes      bool       `json:"allow_retakes"`
	StartAt           *time.Time `json:"start_at,omitempty"`
	EndAt             *time.Time `json:"end_at,omitempty"`
	CreatedByID       string     `json:"created_by_id"`
	CreatedAt         time.Time  `json:"created_at"`
}

// OpenAt reports whether now falls inside the optional schedule window.
func (e *Exam) OpenAt(now time.Time) bool {
	if e.StartAt != nil && now.Before(*e.StartAt) {
		return false
	}
	if e.EndAt != nil && now.After(*e.EndAt) {
		return false
	}
	return true
}

type Question struct {
	ID            string       `json:"id"`
	SubjectID     string       `json:"subject_id"`
	Prompt        string       `json:"prompt"`
	Options       []string     `json:"options"`
	CorrectAnswer string       `json:"correct_answer"`
	Type          QuestionType `json:"type"`
	Difficulty    Difficulty   `json:"difficulty"`
	Points        int          `json:"points"`
	Explanation   string       `json:"explanation,omitempty"`
	CreatedByID   string       `json:"created_by_id,omitempty"`
}

// Validate checks the structural rules every stored question must satisfy.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if q.Points <= 0 {
		return fmt.Errorf("%w: points must be positive", ErrInvalidInput)
	}
	switch q.Type {
	case QuestionMCQ:
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: mcq needs at least two options", ErrInvalidInput)
		}
	case QuestionTrueFalse:
		if len(q.Options) != 2 || !hasOption(q.Options, "True") || !hasOption(q.Options, "False") {
			return fmt.Errorf("%w: true/false options must be True and False", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown question type %q", ErrInvalidInput, q.Type)
	}
	seen := make(map[string]struct{}, len(q.Options))
	for _, opt := range q.Options {
		if opt == "" {
			return fmt.Errorf("%w: empty option", ErrInvalidInput)
		}
		if _, dup := seen[opt]; dup {
			return fmt.Errorf("%w: duplicate option %q", ErrInvalidInput, opt)
		}
		seen[opt] = struct{}{}
	}
	if !hasOption(q.Options, q.CorrectAnswer) {
		return fmt.Errorf("%w: correct answer must be one of the options", ErrInvalidInput)
	}
	return nil
}

type ExamQuestion struct {
	ExamID     string `json:"exam_id"`
	QuestionID string `json:"question_id"`
	Order      int    `json:"order"`
	Points     int    `json:"points"`
}

// KeyEntry is one row of an exam's answer key, in authoring order.
type KeyEntry struct {
	QuestionID    string       `json:"question_id"`
	Prompt        string       `json:"prompt"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options"`
	CorrectAnswer string       `json:"correct_answer"`
	Points        int          `json:"points"`
	Order         int          `json:"order"`
}

type Response struct {
	QuestionID       string    `json:"question_id"`
	SelectedAnswer   string    `json:"selected_answer"`
	TimeSpentSeconds int64     `json:"time_spent_seconds"`
	RecordedAt       time.Time `json:"recorded_at"`
}

type Attempt struct {
	ID               string        `json:"id"`
	ExamID           string        `json:"exam_id"`
	UserID           string        `json:"user_id"`
	Status           AttemptStatus `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	SubmittedAt      *time.Time    `json:"submitted_at,omitempty"`
	Responses        []Response    `json:"responses"`
	Score            *int          `json:"score,omitempty"`
	Percentage       *int          `json:"percentage,omitempty"`
	TimeTakenSeconds *int64        `json:"time_taken_seconds,omitempty"`
	Version          int64         `json:"version"`
}

// AttemptOutcome is written atomically when an attempt leaves IN_PROGRESS.
type AttemptOutcome struct {
	Status           AttemptStatus
	SubmittedAt      *time.Time
	Score            *int
	Percentage       *int
	TimeTakenSeconds int64
}

type Certificate struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ExamAttemptID  string    `json:"exam_attempt_id"`
	VerificationID string    `json:"verification_id"`
	IssuedAt       time.Time `json:"issued_at"`
}

type ArtworkStatus string

const (
	ArtworkPending     ArtworkStatus = "pending"
	ArtworkReady       ArtworkStatus = "ready"
	ArtworkUnavailable ArtworkStatus = "unavailable"
)

// CertificateArtwork lives beside the certificate so the certificate row stays immutable.
type CertificateArtwork struct {
	CertificateID string        `json:"certificate_id"`
	Status        ArtworkStatus `json:"status"`
	ArtifactRef   string        `json:"artifact_ref,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// AttemptRecord is the external shape of an attempt.
type AttemptRecord struct {
	AttemptID        string        `json:"attempt_id"`
	UserID           string        `json:"user_id"`
	ExamID           string        `json:"exam_id"`
	Status           AttemptStatus `json:"status"`
	Score            *int          `json:"score"`
	Percentage       *int          `json:"percentage"`
	TimeTakenSeconds *int64        `json:"time_taken_seconds"`
	SubmittedAt      *time.Time    `json:"submitted_at"`
}

func (a *Attempt) Record() AttemptRecord {
	return AttemptRecord{
		AttemptID:        a.ID,
		UserID:           a.UserID,
		ExamID:           a.ExamID,
		Status:           a.Status,
		Score:            a.Score,
		Percentage:       a.Percentage,
		TimeTakenSeconds: a.TimeTakenSeconds,
		SubmittedAt:      a.SubmittedAt,
	}
}

// CertificateRecord is the external shape of a certificate.
type CertificateRecord struct {
	CertificateID  string    `json:"certificate_id"`
	VerificationID string    `json:"verification_id"`
	ExamAttemptID  string    `json:"exam_attempt_id"`
	IssuedAt       time.Time `json:"issued_at"`
}

func (c *Certificate) Record() CertificateRecord {
	return CertificateRecord{
		CertificateID:  c.ID,
		VerificationID: c.VerificationID,
		ExamAttemptID:  c.ExamAttemptID,
		IssuedAt:       c.IssuedAt,
	}
}

func hasOption(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

func intPtr(v int) *int {
	return &v
}

func int64Ptr(v int64) *int64 {
	return &v
}

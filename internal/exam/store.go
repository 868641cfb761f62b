package exam

import (
	"context"
	"time"
)

// Store is the persistence boundary of the engine. Implementations must make
// CreateAttempt, UpsertResponse, CompleteAttempt and CreateCertificate atomic
// and must report uniqueness violations with the matching Conflict errors.
type Store interface {
	CreateExam(ctx context.Context, e *Exam) error
	GetExam(ctx context.Context, examID string) (*Exam, error)
	ListExams(ctx context.Context, activeOnly bool) ([]Exam, error)
	// AddExamQuestion stores q and links it to link.ExamID in one atomic step,
	// keeping the exam's TotalMarks in sync. It fails with ErrExamLocked once
	// any attempt exists for the exam.
	AddExamQuestion(ctx context.Context, q *Question, link ExamQuestion) error
	// ListAnswerKey returns the exam's questions ordered by ExamQuestion.Order.
	ListAnswerKey(ctx context.Context, examID string) ([]KeyEntry, error)

	// CreateAttempt fails with ErrAttemptInProgress when the user already has
	// an IN_PROGRESS attempt for the exam.
	CreateAttempt(ctx context.Context, a *Attempt) error
	GetAttempt(ctx context.Context, attemptID string) (*Attempt, error)
	ListAttemptsByUserExam(ctx context.Context, userID, examID string) ([]Attempt, error)
	ListAttemptsByUser(ctx context.Context, userID string) ([]Attempt, error)
	ListAttemptsByExam(ctx context.Context, examID string) ([]Attempt, error)
	// ListOverdueAttempts returns IN_PROGRESS attempts whose time limit has
	// passed at now, oldest first.
	ListOverdueAttempts(ctx context.Context, now time.Time, limit int) ([]Attempt, error)
	// UpsertResponse overwrites any response for the same question and bumps
	// the attempt version. It fails with ErrAttemptNotEditable unless the
	// attempt is IN_PROGRESS at commit time.
	UpsertResponse(ctx context.Context, attemptID string, r Response) error
	// CompleteAttempt moves an IN_PROGRESS attempt at expectedVersion to a
	// terminal status. It fails with ErrStaleAttempt when either precondition
	// no longer holds.
	CompleteAttempt(ctx context.Context, attemptID string, expectedVersion int64, out AttemptOutcome) error

	// CreateCertificate fails with ErrCertificateExists or ErrVerificationTaken
	// on the respective uniqueness violation.
	CreateCertificate(ctx context.Context, c *Certificate) error
	GetCertificateByAttempt(ctx context.Context, attemptID string) (*Certificate, error)
	GetCertificateByVerificationID(ctx context.Context, verificationID string) (*Certificate, error)
	ListCertificatesByUser(ctx context.Context, userID string) ([]Certificate, error)
	CountCertificatesByExam(ctx context.Context, examID string) (int, error)
	// ListUncertifiedPasses returns SUBMITTED attempts at or above their exam's
	// passing percentage that have no certificate yet.
	ListUncertifiedPasses(ctx context.Context, limit int) ([]Attempt, error)

	SaveCertificateArtwork(ctx context.Context, art CertificateArtwork) error
	GetCertificateArtwork(ctx context.Context, certificateID string) (*CertificateArtwork, error)
}

package exam

import (
	"context"
	"time"
)

const (
	EventAttemptStarted    = "attempt.started"
	EventAttemptSubmitted  = "attempt.submitted"
	EventAttemptExpired    = "attempt.expired"
	EventCertificateIssued = "certificate.issued"
)

// Event is published after a state change has been committed.
type Event struct {
	Type           string    `json:"type"`
	AttemptID      string    `json:"attempt_id"`
	ExamID         string    `json:"exam_id"`
	UserID         string    `json:"user_id"`
	Percentage     *int      `json:"percentage,omitempty"`
	Passed         bool      `json:"passed,omitempty"`
	CertificateID  string    `json:"certificate_id,omitempty"`
	VerificationID string    `json:"verification_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventPublisher delivers engine events. Publish failures are logged, never
// surfaced to the caller of the engine operation.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Recorder receives engine counters.
type Recorder interface {
	AttemptStarted(examID string)
	AttemptFinished(status AttemptStatus, passed bool)
	ResponseRecorded()
	SubmitConflict()
	CertificateIssued()
	CertificateFailed()
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

type noopRecorder struct{}

func (noopRecorder) AttemptStarted(string) {}
func (noopRecorder) AttemptFinished(AttemptStatus, bool) {}
func (noopRecorder) ResponseRecorded() {}
func (noopRecorder) SubmitConflict() {}
func (noopRecorder) CertificateIssued() {}
func (noopRecorder) CertificateFailed() {}

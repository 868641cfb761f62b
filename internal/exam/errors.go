package exam

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine wraps exactly one of these,
// so callers classify with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state")
	ErrExpired         = errors.New("expired")
	ErrInvalidQuestion = errors.New("invalid question")
	ErrNotAllowed      = errors.New("not allowed")
	ErrNotEligible     = errors.New("not eligible")
	ErrTransient       = errors.New("transient failure")
)

var (
	ErrExamNotFound        = kindError(ErrNotFound, "exam not found")
	ErrAttemptNotFound     = kindError(ErrNotFound, "attempt not found")
	ErrCertificateNotFound = kindError(ErrNotFound, "certificate not found")
	ErrArtworkNotFound     = kindError(ErrNotFound, "certificate artwork not found")
	ErrQuestionNotFound    = kindError(ErrNotFound, "question not found")

	ErrAttemptInProgress = kindError(ErrConflict, "attempt already in progress")
	ErrStaleAttempt      = kindError(ErrConflict, "attempt changed concurrently")
	ErrCertificateExists = kindError(ErrConflict, "certificate already exists for attempt")
	ErrVerificationTaken = kindError(ErrConflict, "verification id already in use")
	ErrDuplicateQuestion = kindError(ErrConflict, "question already linked to exam")

	ErrAttemptNotEditable = kindError(ErrInvalidState, "attempt is not in progress")
	ErrAttemptExpired     = kindError(ErrExpired, "attempt time limit reached")

	ErrQuestionNotInExam = kindError(ErrInvalidQuestion, "question not in exam")
	ErrInvalidAnswer     = kindError(ErrInvalidQuestion, "answer is not one of the question options")

	ErrInactive         = kindError(ErrNotAllowed, "exam is not active")
	ErrOutsideSchedule  = kindError(ErrNotAllowed, "exam is outside its schedule window")
	ErrRetakeDenied     = kindError(ErrNotAllowed, "exam does not allow retakes")
	ErrAttemptForbidden = kindError(ErrNotAllowed, "attempt forbidden")
	ErrKeyRestricted    = kindError(ErrNotAllowed, "answer key is restricted to authoring roles")
	ErrExamLocked       = kindError(ErrNotAllowed, "exam questions cannot change once attempts exist")

	ErrBelowPassing = kindError(ErrNotEligible, "attempt did not reach the passing percentage")
	ErrNotSubmitted = kindError(ErrNotEligible, "attempt is not submitted")

	ErrInvalidInput = errors.New("invalid input")
)

type kindErr struct {
	kind error
	msg  string
}

func (e *kindErr) Error() string { return e.msg }

func (e *kindErr) Unwrap() error { return e.kind }

func kindError(kind error, msg string) error {
	return &kindErr{kind: kind, msg: msg}
}

// Transient marks err as retryable while keeping the original chain intact.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

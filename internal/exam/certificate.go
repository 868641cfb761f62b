package exam

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

const verificationIDAttempts = 3

type CertificateIssuer struct {
	store    Store
	now      Clock
	events   EventPublisher
	metrics  Recorder
	newToken func() (string, error)
}

func NewCertificateIssuer(store Store, now Clock, events EventPublisher, metrics Recorder) *CertificateIssuer {
	if now == nil {
		now = time.Now
	}
	if events == nil {
		events = noopPublisher{}
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &CertificateIssuer{
		store:    store,
		now:      now,
		events:   events,
		metrics:  metrics,
		newToken: func() (string, error) { return generateToken(18) },
	}
}

// Issue returns the certificate for a passing SUBMITTED attempt, creating it
// on first call. Repeated and concurrent calls return the same certificate.
func (c *CertificateIssuer) Issue(ctx context.Context, attemptID string) (*Certificate, error) {
	existing, err := c.store.GetCertificateByAttempt(ctx, attemptID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrCertificateNotFound) {
		return nil, err
	}

	a, err := c.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusSubmitted {
		return nil, ErrNotSubmitted
	}
	e, err := c.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	if a.Percentage == nil || !Passed(*a.Percentage, e.PassingPercentage) {
		return nil, ErrBelowPassing
	}

	for i := 0; i < verificationIDAttempts; i++ {
		token, err := c.newToken()
		if err != nil {
			return nil, Transient(fmt.Errorf("generate verification id: %w", err))
		}
		cert := &Certificate{
			ID:             uuid.NewString(),
			UserID:         a.UserID,
			ExamAttemptID:  a.ID,
			VerificationID: token,
			IssuedAt:       c.now().UTC().Truncate(time.Millisecond),
		}

		err = c.store.CreateCertificate(ctx, cert)
		switch {
		case err == nil:
			c.afterIssue(ctx, a, cert)
			return cert, nil
		case errors.Is(err, ErrCertificateExists):
			return c.store.GetCertificateByAttempt(ctx, attemptID)
		case errors.Is(err, ErrVerificationTaken):
			continue
		default:
			return nil, err
		}
	}
	return nil, Transient(errors.New("could not allocate a unique verification id"))
}

func (c *CertificateIssuer) afterIssue(ctx context.Context, a *Attempt, cert *Certificate) {
	c.metrics.CertificateIssued()
	log.Printf("certificate issued attempt=%s certificate=%s", a.ID, cert.ID)

	if err := c.store.SaveCertificateArtwork(ctx, CertificateArtwork{
		CertificateID: cert.ID,
		Status:        ArtworkPending,
		UpdatedAt:     cert.IssuedAt,
	}); err != nil {
		log.Printf("save pending artwork certificate=%s: %v", cert.ID, err)
	}

	if err := c.events.Publish(ctx, Event{
		Type:           EventCertificateIssued,
		AttemptID:      a.ID,
		ExamID:         a.ExamID,
		UserID:         a.UserID,
		Percentage:     a.Percentage,
		Passed:         true,
		CertificateID:  cert.ID,
		VerificationID: cert.VerificationID,
		OccurredAt:     cert.IssuedAt,
	}); err != nil {
		log.Printf("publish %s certificate=%s: %v", EventCertificateIssued, cert.ID, err)
	}
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"certexam/internal/assistant"
	"certexam/internal/auth"
	"certexam/internal/exam"
)

type artworkGenerator interface {
	GenerateCertificateArtwork(ctx context.Context, data assistant.CertificateData) (string, error)
}

type certificateStore interface {
	GetCertificateByAttempt(ctx context.Context, attemptID string) (*exam.Certificate, error)
	GetAttempt(ctx context.Context, attemptID string) (*exam.Attempt, error)
	GetExam(ctx context.Context, examID string) (*exam.Exam, error)
	GetCertificateArtwork(ctx context.Context, certificateID string) (*exam.CertificateArtwork, error)
	SaveCertificateArtwork(ctx context.Context, art exam.CertificateArtwork) error
}

type userLookup interface {
	GetUserByID(ctx context.Context, id string) (*auth.User, error)
}

// ArtworkWorker renders certificate artwork for certificate.issued events.
// Provider failures mark the artwork unavailable; the certificate itself is
// never touched.
type ArtworkWorker struct {
	store certificateStore
	users userLookup
	gen   artworkGenerator
	now   func() time.Time
}

func NewArtworkWorker(store certificateStore, users userLookup, gen artworkGenerator) *ArtworkWorker {
	return &ArtworkWorker{store: store, users: users, gen: gen, now: time.Now}
}

func (w *ArtworkWorker) Handle(ctx context.Context, ev exam.Event) error {
	if ev.Type != exam.EventCertificateIssued {
		return nil
	}

	cert, err := w.store.GetCertificateByAttempt(ctx, ev.AttemptID)
	if err != nil {
		if errors.Is(err, exam.ErrNotFound) {
			return fmt.Errorf("%w: certificate for attempt %s: %v", ErrPoison, ev.AttemptID, err)
		}
		return err
	}
	if art, err := w.store.GetCertificateArtwork(ctx, cert.ID); err == nil && art.Status == exam.ArtworkReady {
		return nil
	} else if err != nil && !errors.Is(err, exam.ErrArtworkNotFound) {
		return err
	}

	data, err := w.certificateData(ctx, cert)
	if err != nil {
		return err
	}

	art := exam.CertificateArtwork{CertificateID: cert.ID}
	ref, genErr := w.gen.GenerateCertificateArtwork(ctx, data)
	if genErr != nil {
		log.Printf("certificate artwork unavailable certificate_id=%s: %v", cert.ID, genErr)
		art.Status = exam.ArtworkUnavailable
	} else {
		art.Status = exam.ArtworkReady
		art.ArtifactRef = ref
	}
	art.UpdatedAt = w.now().UTC()

	if err := w.store.SaveCertificateArtwork(ctx, art); err != nil {
		return fmt.Errorf("save artwork %s: %w", cert.ID, err)
	}
	log.Printf("certificate artwork %s certificate_id=%s", art.Status, cert.ID)
	return nil
}

func (w *ArtworkWorker) certificateData(ctx context.Context, cert *exam.Certificate) (assistant.CertificateData, error) {
	a, err := w.store.GetAttempt(ctx, cert.ExamAttemptID)
	if err != nil {
		return assistant.CertificateData{}, err
	}
	e, err := w.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return assistant.CertificateData{}, err
	}

	data := assistant.CertificateData{
		StudentName:    cert.UserID,
		ExamTitle:      e.Title,
		Subject:        e.SubjectID,
		IssuedAt:       cert.IssuedAt,
		VerificationID: cert.VerificationID,
	}
	if a.Score != nil {
		data.Score = *a.Score
	}
	if a.Percentage != nil {
		data.Percentage = *a.Percentage
	}
	if w.users != nil {
		if u, err := w.users.GetUserByID(ctx, cert.UserID); err == nil && u.FullName != "" {
			data.StudentName = u.FullName
		}
	}
	return data, nil
}

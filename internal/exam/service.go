package exam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNoQuestions = kindError(ErrNotAllowed, "exam has no questions")

type Policy struct {
	Rounding           RoundingMode
	AllowRetakes       bool
	SubmitRetries      int
	CertificateRetries int
	CertificateBackoff time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Rounding:           RoundHalfUp,
		SubmitRetries:      3,
		CertificateRetries: 3,
		CertificateBackoff: 200 * time.Millisecond,
	}
}

type ServiceConfig struct {
	Store   Store
	Cache   KeyCache
	Now     Clock
	Events  EventPublisher
	Metrics Recorder
	Policy  Policy
}

type Service struct {
	store   Store
	keys    *AnswerKeyResolver
	clock   SessionClock
	certs   *CertificateIssuer
	events  EventPublisher
	metrics Recorder
	policy  Policy
	newID   func() string
}

type PresentedQuestion struct {
	QuestionID string       `json:"question_id"`
	Position   int          `json:"position"`
	Prompt     string       `json:"prompt"`
	Type       QuestionType `json:"type"`
	Options    []string     `json:"options"`
	Points     int          `json:"points"`
	Selected   *string      `json:"selected,omitempty"`
}

type StartedAttempt struct {
	Attempt          AttemptRecord       `json:"attempt"`
	StartedAt        time.Time           `json:"started_at"`
	DurationMinutes  int                 `json:"duration_minutes"`
	RemainingSeconds int64               `json:"remaining_seconds"`
	Questions        []PresentedQuestion `json:"questions"`
}

type AttemptView struct {
	Attempt          AttemptRecord `json:"attempt"`
	StartedAt        time.Time     `json:"started_at"`
	RemainingSeconds int64         `json:"remaining_seconds"`
	Answered         int           `json:"answered"`
}

type RecordResponseInput struct {
	AttemptID        string
	QuestionID       string
	SelectedAnswer   string
	TimeSpentSeconds int64
}

type ResponseReceipt struct {
	AttemptID        string `json:"attempt_id"`
	QuestionID       string `json:"question_id"`
	SelectedAnswer   string `json:"selected_answer"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

type SubmitResult struct {
	Attempt          AttemptRecord      `json:"attempt"`
	Result           ScoreResult        `json:"result"`
	Passed           bool               `json:"passed"`
	Certificate      *CertificateRecord `json:"certificate,omitempty"`
	CertificateError string             `json:"certificate_error,omitempty"`
}

type CertificateVerification struct {
	Certificate CertificateRecord   `json:"certificate"`
	UserID      string              `json:"user_id"`
	ExamID      string              `json:"exam_id"`
	ExamTitle   string              `json:"exam_title"`
	Score       *int                `json:"score"`
	Percentage  *int                `json:"percentage"`
	Artwork     *CertificateArtwork `json:"artwork,omitempty"`
}

func NewService(cfg ServiceConfig) *Service {
	policy := cfg.Policy
	if policy.Rounding == "" {
		policy.Rounding = RoundHalfUp
	}
	if policy.SubmitRetries <= 0 {
		policy.SubmitRetries = 3
	}
	if policy.CertificateRetries < 0 {
		policy.CertificateRetries = 0
	}
	events := cfg.Events
	if events == nil {
		events = noopPublisher{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}
	clock := NewSessionClock(cfg.Now)

	return &Service{
		store:   cfg.Store,
		keys:    NewAnswerKeyResolver(cfg.Store, cfg.Cache),
		clock:   clock,
		certs:   NewCertificateIssuer(cfg.Store, clock.Now, events, metrics),
		events:  events,
		metrics: metrics,
		policy:  policy,
		newID:   uuid.NewString,
	}
}

func (s *Service) Resolver() *AnswerKeyResolver {
	return s.keys
}

func (s *Service) now() time.Time {
	return s.clock.now().UTC().Truncate(time.Millisecond)
}

// StartAttempt opens a new IN_PROGRESS attempt and returns its presentation
// order without correct answers.
func (s *Service) StartAttempt(ctx context.Context, userID string, role Role, examID string) (*StartedAttempt, error) {
	e, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !e.IsActive {
		return nil, ErrInactive
	}
	if !e.OpenAt(now) {
		return nil, ErrOutsideSchedule
	}

	prior, err := s.store.ListAttemptsByUserExam(ctx, userID, examID)
	if err != nil {
		return nil, fmt.Errorf("list prior attempts: %w", err)
	}
	finished := 0
	for i := range prior {
		a := &prior[i]
		if a.Status == StatusInProgress {
			current, err := s.expireIfOverdue(ctx, a, e)
			if err != nil {
				return nil, err
			}
			if current.Status == StatusInProgress {
				return nil, fmt.Errorf("%w (attempt %s)", ErrAttemptInProgress, current.ID)
			}
		}
		finished++
	}
	if finished > 0 && !(e.AllowRetakes || s.policy.AllowRetakes) {
		return nil, ErrRetakeDenied
	}

	key, err := s.keys.resolveFor(ctx, e, role)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, ErrNoQuestions
	}

	a := &Attempt{
		ID:        s.newID(),
		ExamID:    e.ID,
		UserID:    userID,
		Status:    StatusInProgress,
		StartedAt: now,
		Version:   1,
	}
	err = s.store.CreateAttempt(ctx, a)
	if errors.Is(err, ErrAttemptInProgress) {
		err = s.retryStartAfterConflict(ctx, a, e)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.AttemptStarted(e.ID)
	s.publish(ctx, Event{Type: EventAttemptStarted, AttemptID: a.ID, ExamID: e.ID, UserID: userID, OccurredAt: now})
	log.Printf("attempt started attempt=%s exam=%s user=%s", a.ID, e.ID, userID)

	return s.present(a, e, key), nil
}

// retryStartAfterConflict runs when a concurrent start won the unique
// in-progress index. The (user, exam) attempts are re-read once: a live one
// is a Conflict, while an overdue one is expired and the create is retried.
func (s *Service) retryStartAfterConflict(ctx context.Context, a *Attempt, e *Exam) error {
	prior, err := s.store.ListAttemptsByUserExam(ctx, a.UserID, e.ID)
	if err != nil {
		return fmt.Errorf("list prior attempts: %w", err)
	}
	for i := range prior {
		p := &prior[i]
		if p.Status != StatusInProgress {
			continue
		}
		current, err := s.expireIfOverdue(ctx, p, e)
		if err != nil {
			return err
		}
		if current.Status == StatusInProgress {
			return fmt.Errorf("%w (attempt %s)", ErrAttemptInProgress, current.ID)
		}
	}
	if len(prior) > 0 && !(e.AllowRetakes || s.policy.AllowRetakes) {
		return ErrRetakeDenied
	}
	return s.store.CreateAttempt(ctx, a)
}

// QuestionOrder re-materializes the presentation order of an attempt, e.g.
// after a reconnect. The order is identical to the one returned at start.
func (s *Service) QuestionOrder(ctx context.Context, attemptID string) (*StartedAttempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusInProgress {
		a, err = s.expireIfOverdue(ctx, a, e)
		if err != nil {
			return nil, err
		}
	}
	key, err := s.keys.resolveFor(ctx, e, roleEngine)
	if err != nil {
		return nil, err
	}
	return s.present(a, e, key), nil
}

func (s *Service) present(a *Attempt, e *Exam, key []KeyEntry) *StartedAttempt {
	byID := make(map[string]KeyEntry, len(key))
	ids := make([]string, 0, len(key))
	for _, k := range key {
		byID[k.QuestionID] = k
		ids = append(ids, k.QuestionID)
	}
	selected := make(map[string]string, len(a.Responses))
	for _, r := range a.Responses {
		selected[r.QuestionID] = r.SelectedAnswer
	}

	order := Shuffle(a.ID, e.ID, ids, e.RandomizeOrder)
	questions := make([]PresentedQuestion, 0, len(order))
	for i, id := range order {
		k := byID[id]
		pq := PresentedQuestion{
			QuestionID: k.QuestionID,
			Position:   i + 1,
			Prompt:     k.Prompt,
			Type:       k.Type,
			Options:    append([]string(nil), k.Options...),
			Points:     k.Points,
		}
		if v, ok := selected[id]; ok {
			pq.Selected = &v
		}
		questions = append(questions, pq)
	}

	remaining := int64(0)
	if a.Status == StatusInProgress {
		remaining = s.clock.Remaining(a.StartedAt, e.DurationMinutes)
	}
	return &StartedAttempt{
		Attempt:          a.Record(),
		StartedAt:        a.StartedAt,
		DurationMinutes:  e.DurationMinutes,
		RemainingSeconds: remaining,
		Questions:        questions,
	}
}

func (s *Service) GetAttempt(ctx context.Context, attemptID string) (*AttemptView, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusInProgress {
		a, err = s.expireIfOverdue(ctx, a, e)
		if err != nil {
			return nil, err
		}
	}
	view := &AttemptView{Attempt: a.Record(), StartedAt: a.StartedAt, Answered: len(a.Responses)}
	if a.Status == StatusInProgress {
		view.RemainingSeconds = s.clock.Remaining(a.StartedAt, e.DurationMinutes)
	}
	return view, nil
}

func (s *Service) GetAttemptOwner(ctx context.Context, attemptID string) (string, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return "", err
	}
	return a.UserID, nil
}

// RecordResponse stores or overwrites the answer for one question.
func (s *Service) RecordResponse(ctx context.Context, in RecordResponseInput) (*ResponseReceipt, error) {
	a, err := s.store.GetAttempt(ctx, in.AttemptID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusInProgress {
		return nil, ErrAttemptNotEditable
	}
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	if s.clock.HasExpired(a.StartedAt, e.DurationMinutes) {
		if _, err := s.expire(ctx, a, e); err != nil {
			return nil, err
		}
		return nil, ErrAttemptExpired
	}

	key, err := s.keys.resolveFor(ctx, e, roleEngine)
	if err != nil {
		return nil, err
	}
	var entry *KeyEntry
	for i := range key {
		if key[i].QuestionID == in.QuestionID {
			entry = &key[i]
			break
		}
	}
	if entry == nil {
		return nil, ErrQuestionNotInExam
	}
	if !hasOption(entry.Options, in.SelectedAnswer) {
		return nil, ErrInvalidAnswer
	}

	spent := in.TimeSpentSeconds
	if spent < 0 {
		spent = 0
	}
	if err := s.store.UpsertResponse(ctx, a.ID, Response{
		QuestionID:       in.QuestionID,
		SelectedAnswer:   in.SelectedAnswer,
		TimeSpentSeconds: spent,
		RecordedAt:       s.now(),
	}); err != nil {
		return nil, err
	}
	s.metrics.ResponseRecorded()

	return &ResponseReceipt{
		AttemptID:        a.ID,
		QuestionID:       in.QuestionID,
		SelectedAnswer:   in.SelectedAnswer,
		RemainingSeconds: s.clock.Remaining(a.StartedAt, e.DurationMinutes),
	}, nil
}

// SubmitAttempt grades the attempt and moves it to SUBMITTED exactly once.
// Passing attempts are certified; a certification failure is reported in the
// result and never undoes the submission.
func (s *Service) SubmitAttempt(ctx context.Context, attemptID string) (*SubmitResult, error) {
	for i := 0; i <= s.policy.SubmitRetries; i++ {
		a, err := s.store.GetAttempt(ctx, attemptID)
		if err != nil {
			return nil, err
		}
		if a.Status != StatusInProgress {
			return nil, ErrAttemptNotEditable
		}
		e, err := s.store.GetExam(ctx, a.ExamID)
		if err != nil {
			return nil, err
		}
		key, err := s.keys.resolveFor(ctx, e, roleEngine)
		if err != nil {
			return nil, err
		}

		scored := Score(a.Responses, key, s.policy.Rounding)
		now := s.now()
		out := AttemptOutcome{
			Status:           StatusSubmitted,
			SubmittedAt:      &now,
			Score:            intPtr(scored.Score),
			Percentage:       intPtr(scored.Percentage),
			TimeTakenSeconds: s.clock.TimeTaken(a.StartedAt, e.DurationMinutes),
		}
		err = s.store.CompleteAttempt(ctx, a.ID, a.Version, out)
		if errors.Is(err, ErrStaleAttempt) {
			s.metrics.SubmitConflict()
			continue
		}
		if err != nil {
			return nil, err
		}

		applyOutcome(a, out)
		passed := Passed(scored.Percentage, e.PassingPercentage)
		s.metrics.AttemptFinished(StatusSubmitted, passed)
		s.publish(ctx, Event{
			Type:       EventAttemptSubmitted,
			AttemptID:  a.ID,
			ExamID:     a.ExamID,
			UserID:     a.UserID,
			Percentage: a.Percentage,
			Passed:     passed,
			OccurredAt: now,
		})
		log.Printf("attempt submitted attempt=%s score=%d/%d percentage=%d passed=%v", a.ID, scored.Score, scored.TotalPossible, scored.Percentage, passed)

		result := &SubmitResult{Attempt: a.Record(), Result: scored, Passed: passed}
		if passed {
			cert, err := s.issueWithRetry(ctx, a.ID)
			if err != nil {
				log.Printf("certificate issuance failed attempt=%s: %v", a.ID, err)
				result.CertificateError = err.Error()
			} else {
				rec := cert.Record()
				result.Certificate = &rec
			}
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: submit retries exhausted", ErrStaleAttempt)
}

// ExpireIfOverdue moves an overdue IN_PROGRESS attempt to EXPIRED. It is
// idempotent and returns the attempt's current state.
func (s *Service) ExpireIfOverdue(ctx context.Context, attemptID string) (*Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusInProgress {
		return a, nil
	}
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	return s.expireIfOverdue(ctx, a, e)
}

func (s *Service) expireIfOverdue(ctx context.Context, a *Attempt, e *Exam) (*Attempt, error) {
	if a.Status != StatusInProgress || !s.clock.HasExpired(a.StartedAt, e.DurationMinutes) {
		return a, nil
	}
	return s.expire(ctx, a, e)
}

func (s *Service) expire(ctx context.Context, a *Attempt, e *Exam) (*Attempt, error) {
	for i := 0; i <= s.policy.SubmitRetries; i++ {
		out := AttemptOutcome{
			Status:           StatusExpired,
			TimeTakenSeconds: limitSeconds(e.DurationMinutes),
		}
		err := s.store.CompleteAttempt(ctx, a.ID, a.Version, out)
		if err == nil {
			applyOutcome(a, out)
			s.metrics.AttemptFinished(StatusExpired, false)
			s.publish(ctx, Event{Type: EventAttemptExpired, AttemptID: a.ID, ExamID: a.ExamID, UserID: a.UserID, OccurredAt: s.now()})
			log.Printf("attempt expired attempt=%s exam=%s", a.ID, a.ExamID)
			return a, nil
		}
		if !errors.Is(err, ErrStaleAttempt) {
			return nil, err
		}
		a, err = s.store.GetAttempt(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if a.Status != StatusInProgress {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: expire retries exhausted", ErrStaleAttempt)
}

// IssueCertificate certifies a SUBMITTED attempt. It is the retry path when
// issuance failed during submit.
func (s *Service) IssueCertificate(ctx context.Context, attemptID string) (*CertificateRecord, error) {
	cert, err := s.issueWithRetry(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	rec := cert.Record()
	return &rec, nil
}

func (s *Service) issueWithRetry(ctx context.Context, attemptID string) (*Certificate, error) {
	backoff := s.policy.CertificateBackoff
	for i := 0; ; i++ {
		cert, err := s.certs.Issue(ctx, attemptID)
		if err == nil {
			return cert, nil
		}
		if !errors.Is(err, ErrTransient) || i >= s.policy.CertificateRetries {
			s.metrics.CertificateFailed()
			return nil, err
		}
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, Transient(ctx.Err())
			case <-timer.C:
			}
			backoff *= 2
		}
	}
}

// VerifyCertificate resolves a public verification id.
func (s *Service) VerifyCertificate(ctx context.Context, verificationID string) (*CertificateVerification, error) {
	verificationID = strings.TrimSpace(verificationID)
	if verificationID == "" {
		return nil, ErrCertificateNotFound
	}
	cert, err := s.store.GetCertificateByVerificationID(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	a, err := s.store.GetAttempt(ctx, cert.ExamAttemptID)
	if err != nil {
		return nil, err
	}
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	out := &CertificateVerification{
		Certificate: cert.Record(),
		UserID:      cert.UserID,
		ExamID:      e.ID,
		ExamTitle:   e.Title,
		Score:       a.Score,
		Percentage:  a.Percentage,
	}
	if art, err := s.store.GetCertificateArtwork(ctx, cert.ID); err == nil {
		out.Artwork = art
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		log.Printf("publish %s attempt=%s: %v", ev.Type, ev.AttemptID, err)
	}
}

func applyOutcome(a *Attempt, out AttemptOutcome) {
	a.Status = out.Status
	a.SubmittedAt = out.SubmittedAt
	a.Score = out.Score
	a.Percentage = out.Percentage
	a.TimeTakenSeconds = int64Ptr(out.TimeTakenSeconds)
	a.Version++
}

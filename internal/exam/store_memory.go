package exam

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. It backs DB_DRIVER=memory and the
// engine tests. A single mutex serializes writes; CAS rules match the SQL store.
type MemoryStore struct {
	mu           sync.RWMutex
	exams        map[string]Exam
	questions    map[string]Question
	links        map[string][]ExamQuestion
	attempts     map[string]*Attempt
	certificates map[string]Certificate
	artwork      map[string]CertificateArtwork
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		exams:        make(map[string]Exam),
		questions:    make(map[string]Question),
		links:        make(map[string][]ExamQuestion),
		attempts:     make(map[string]*Attempt),
		certificates: make(map[string]Certificate),
		artwork:      make(map[string]CertificateArtwork),
	}
}

func (m *MemoryStore) CreateExam(ctx context.Context, e *Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exams[e.ID]; ok {
		return ErrConflict
	}
	m.exams[e.ID] = *e
	return nil
}

func (m *MemoryStore) GetExam(ctx context.Context, examID string) (*Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[examID]
	if !ok {
		return nil, ErrExamNotFound
	}
	return &e, nil
}

func (m *MemoryStore) ListExams(ctx context.Context, activeOnly bool) ([]Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Exam, 0, len(m.exams))
	for _, e := range m.exams {
		if activeOnly && !e.IsActive {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) AddExamQuestion(ctx context.Context, q *Question, link ExamQuestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[link.ExamID]
	if !ok {
		return ErrExamNotFound
	}
	for _, a := range m.attempts {
		if a.ExamID == link.ExamID {
			return ErrExamLocked
		}
	}
	if _, ok := m.questions[q.ID]; ok {
		return ErrConflict
	}
	link.QuestionID = q.ID
	for _, l := range m.links[link.ExamID] {
		if l.Order == link.Order {
			return ErrDuplicateQuestion
		}
	}

	cp := *q
	cp.Options = append([]string(nil), q.Options...)
	m.questions[q.ID] = cp
	m.links[link.ExamID] = append(m.links[link.ExamID], link)
	e.TotalMarks += link.Points
	m.exams[link.ExamID] = e
	return nil
}

func (m *MemoryStore) ListAnswerKey(ctx context.Context, examID string) ([]KeyEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.exams[examID]; !ok {
		return nil, ErrExamNotFound
	}
	links := append([]ExamQuestion(nil), m.links[examID]...)
	sort.Slice(links, func(i, j int) bool { return links[i].Order < links[j].Order })

	out := make([]KeyEntry, 0, len(links))
	for _, l := range links {
		q := m.questions[l.QuestionID]
		out = append(out, KeyEntry{
			QuestionID:    q.ID,
			Prompt:        q.Prompt,
			Type:          q.Type,
			Options:       append([]string(nil), q.Options...),
			CorrectAnswer: q.CorrectAnswer,
			Points:        l.Points,
			Order:         l.Order,
		})
	}
	return out, nil
}

func (m *MemoryStore) CreateAttempt(ctx context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[a.ID]; ok {
		return ErrConflict
	}
	for _, existing := range m.attempts {
		if existing.UserID == a.UserID && existing.ExamID == a.ExamID && existing.Status == StatusInProgress {
			return ErrAttemptInProgress
		}
	}
	cp := cloneAttempt(a)
	m.attempts[a.ID] = cp
	return nil
}

func (m *MemoryStore) GetAttempt(ctx context.Context, attemptID string) (*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

func (m *MemoryStore) ListAttemptsByUserExam(ctx context.Context, userID, examID string) ([]Attempt, error) {
	return m.filterAttempts(func(a *Attempt) bool { return a.UserID == userID && a.ExamID == examID }, 0), nil
}

func (m *MemoryStore) ListAttemptsByUser(ctx context.Context, userID string) ([]Attempt, error) {
	return m.filterAttempts(func(a *Attempt) bool { return a.UserID == userID }, 0), nil
}

func (m *MemoryStore) ListAttemptsByExam(ctx context.Context, examID string) ([]Attempt, error) {
	return m.filterAttempts(func(a *Attempt) bool { return a.ExamID == examID }, 0), nil
}

func (m *MemoryStore) ListOverdueAttempts(ctx context.Context, now time.Time, limit int) ([]Attempt, error) {
	return m.filterAttempts(func(a *Attempt) bool {
		if a.Status != StatusInProgress {
			return false
		}
		e, ok := m.exams[a.ExamID]
		return ok && !a.StartedAt.Add(time.Duration(e.DurationMinutes)*time.Minute).After(now)
	}, limit), nil
}

func (m *MemoryStore) UpsertResponse(ctx context.Context, attemptID string, r Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	if a.Status != StatusInProgress {
		return ErrAttemptNotEditable
	}
	replaced := false
	for i := range a.Responses {
		if a.Responses[i].QuestionID == r.QuestionID {
			a.Responses[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		a.Responses = append(a.Responses, r)
	}
	a.Version++
	return nil
}

func (m *MemoryStore) CompleteAttempt(ctx context.Context, attemptID string, expectedVersion int64, out AttemptOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	if a.Status != StatusInProgress || a.Version != expectedVersion {
		return ErrStaleAttempt
	}
	a.Status = out.Status
	a.SubmittedAt = out.SubmittedAt
	a.Score = out.Score
	a.Percentage = out.Percentage
	a.TimeTakenSeconds = int64Ptr(out.TimeTakenSeconds)
	a.Version++
	return nil
}

func (m *MemoryStore) CreateCertificate(ctx context.Context, c *Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.certificates {
		if existing.ExamAttemptID == c.ExamAttemptID {
			return ErrCertificateExists
		}
		if existing.VerificationID == c.VerificationID {
			return ErrVerificationTaken
		}
	}
	m.certificates[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetCertificateByAttempt(ctx context.Context, attemptID string) (*Certificate, error) {
	return m.findCertificate(func(c Certificate) bool { return c.ExamAttemptID == attemptID })
}

func (m *MemoryStore) GetCertificateByVerificationID(ctx context.Context, verificationID string) (*Certificate, error) {
	return m.findCertificate(func(c Certificate) bool { return c.VerificationID == verificationID })
}

func (m *MemoryStore) ListCertificatesByUser(ctx context.Context, userID string) ([]Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Certificate, 0)
	for _, c := range m.certificates {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (m *MemoryStore) CountCertificatesByExam(ctx context.Context, examID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.certificates {
		if a, ok := m.attempts[c.ExamAttemptID]; ok && a.ExamID == examID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListUncertifiedPasses(ctx context.Context, limit int) ([]Attempt, error) {
	m.mu.RLock()
	certified := make(map[string]struct{}, len(m.certificates))
	for _, c := range m.certificates {
		certified[c.ExamAttemptID] = struct{}{}
	}
	exams := make(map[string]Exam, len(m.exams))
	for id, e := range m.exams {
		exams[id] = e
	}
	m.mu.RUnlock()

	return m.filterAttempts(func(a *Attempt) bool {
		if a.Status != StatusSubmitted || a.Percentage == nil {
			return false
		}
		if _, ok := certified[a.ID]; ok {
			return false
		}
		e, ok := exams[a.ExamID]
		return ok && Passed(*a.Percentage, e.PassingPercentage)
	}, limit), nil
}

func (m *MemoryStore) SaveCertificateArtwork(ctx context.Context, art CertificateArtwork) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.certificates[art.CertificateID]; !ok {
		return ErrCertificateNotFound
	}
	m.artwork[art.CertificateID] = art
	return nil
}

func (m *MemoryStore) GetCertificateArtwork(ctx context.Context, certificateID string) (*CertificateArtwork, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	art, ok := m.artwork[certificateID]
	if !ok {
		return nil, ErrArtworkNotFound
	}
	return &art, nil
}

func (m *MemoryStore) filterAttempts(keep func(*Attempt) bool, limit int) []Attempt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Attempt, 0)
	for _, a := range m.attempts {
		if keep(a) {
			out = append(out, *cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) findCertificate(match func(Certificate) bool) (*Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.certificates {
		if match(c) {
			cp := c
			return &cp, nil
		}
	}
	return nil, ErrCertificateNotFound
}

func cloneAttempt(a *Attempt) *Attempt {
	cp := *a
	cp.Responses = append([]Response(nil), a.Responses...)
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		cp.SubmittedAt = &t
	}
	if a.Score != nil {
		cp.Score = intPtr(*a.Score)
	}
	if a.Percentage != nil {
		cp.Percentage = intPtr(*a.Percentage)
	}
	if a.TimeTakenSeconds != nil {
		cp.TimeTakenSeconds = int64Ptr(*a.TimeTakenSeconds)
	}
	return &cp
}

package exam

import "context"

type DashboardStats struct {
	TotalAttempts      int `json:"total_attempts"`
	CompletedAttempts  int `json:"completed_attempts"`
	AverageScore       int `json:"average_score"`
	CertificatesEarned int `json:"certificates_earned"`
}

type StudentDashboard struct {
	AvailableExams []Exam              `json:"available_exams"`
	Attempts       []AttemptRecord     `json:"attempts"`
	Certificates   []CertificateRecord `json:"certificates"`
	Stats          DashboardStats      `json:"stats"`
}

// StudentDashboard lists what a user can still take and what they have earned.
// AverageScore is the rounded mean percentage over submitted attempts.
func (s *Service) StudentDashboard(ctx context.Context, userID string) (*StudentDashboard, error) {
	exams, err := s.store.ListExams(ctx, true)
	if err != nil {
		return nil, err
	}
	attempts, err := s.store.ListAttemptsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	certs, err := s.store.ListCertificatesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	taken := make(map[string]bool, len(attempts))
	out := &StudentDashboard{
		AvailableExams: make([]Exam, 0),
		Attempts:       make([]AttemptRecord, 0, len(attempts)),
		Certificates:   make([]CertificateRecord, 0, len(certs)),
	}
	sum, n := 0, 0
	for i := range attempts {
		a := &attempts[i]
		taken[a.ExamID] = true
		out.Attempts = append(out.Attempts, a.Record())
		if a.Status == StatusSubmitted && a.Percentage != nil {
			sum += *a.Percentage
			n++
		}
	}

	now := s.now()
	for _, e := range exams {
		if !e.OpenAt(now) {
			continue
		}
		if taken[e.ID] && !(e.AllowRetakes || s.policy.AllowRetakes) {
			continue
		}
		out.AvailableExams = append(out.AvailableExams, e)
	}
	for i := range certs {
		out.Certificates = append(out.Certificates, certs[i].Record())
	}

	out.Stats = DashboardStats{
		TotalAttempts:      len(attempts),
		CompletedAttempts:  n,
		CertificatesEarned: len(certs),
	}
	if n > 0 {
		out.Stats.AverageScore = (2*sum + n) / (2 * n)
	}
	return out, nil
}

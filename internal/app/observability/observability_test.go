package observability

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"certexam/internal/auth"
	"certexam/internal/exam"
)

const sampleID = "3f2c7a9e-8d41-4c1b-9a55-0b6f1d2e7c10"

func TestNormalizedPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "/api/v1/attempts/" + sampleID + "/responses/" + sampleID, want: "/api/v1/attempts/{id}/responses/{id}"},
		{in: "/api/v1/attempts/123/submit", want: "/api/v1/attempts/{id}/submit"},
		{in: "/api/v1/me/dashboard", want: "/api/v1/me/dashboard"},
		{in: "/api/v1/certificates/verify/K7Q2M9XW4TPA", want: "/api/v1/certificates/verify/{id}"},
		{in: "", want: "/"},
	}
	for _, tc := range tests {
		if got := normalizedPath(tc.in); got != tc.want {
			t.Fatalf("normalizedPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractAttemptID(t *testing.T) {
	if id := extractAttemptID("/api/v1/attempts/" + sampleID + "/submit"); id != sampleID {
		t.Fatalf("expected %s, got %q", sampleID, id)
	}
	if id := extractAttemptID("/api/v1/exams/" + sampleID); id != "" {
		t.Fatalf("expected empty for non-attempt path, got %q", id)
	}
	if id := extractAttemptID("/api/v1/attempts/start"); id != "" {
		t.Fatalf("expected empty for start route, got %q", id)
	}
}

func TestCollectorExposesEngineAndHTTPMetrics(t *testing.T) {
	c := NewCollector(nil)
	c.AttemptStarted("exam-1")
	c.AttemptFinished(exam.StatusSubmitted, true)
	c.CertificateIssued()

	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/attempts/start", nil))

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	out := string(body)

	for _, want := range []string{
		`certexam_attempts_started_total{exam_id="exam-1"} 1`,
		`certexam_attempts_finished_total{passed="true",status="SUBMITTED"} 1`,
		`certexam_certificates_issued_total 1`,
		`certexam_http_requests_total{method="POST",path="/api/v1/attempts/start",status="201"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestMiddlewareLogsTaggedUser(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	c := NewCollector(nil)
	inner := TagUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	withUser := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.ContextWithUser(r.Context(), &auth.User{ID: "user-42", Role: auth.RoleStudent})
		inner.ServeHTTP(w, r.WithContext(ctx))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts/"+sampleID, nil)
	c.Middleware(withUser).ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, `"user_id":"user-42"`) || !strings.Contains(out, `"attempt_id":"`+sampleID+`"`) {
		t.Fatalf("unexpected access log %q", out)
	}
}

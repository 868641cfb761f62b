package app

import (
	"net/http"
	"time"

	"certexam/internal/app/observability"
	"certexam/internal/assistant"
	"certexam/internal/auth"
	"certexam/internal/exam"
	"certexam/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Handlers groups the HTTP handlers the router mounts.
type Handlers struct {
	Auth      *auth.Handler
	Exam      *exam.Handler
	Report    *report.Handler
	Assistant *assistant.Handler
	Metrics   *observability.Collector
}

func NewRouter(cfg Config, h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	loginLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"Content-Length", "Content-Disposition"},
			MaxAge:         300,
		}))

		api.With(RateLimitMiddleware(loginLimiter)).Post("/auth/login", h.Auth.Login)
		api.Get("/certificates/verify/{verificationID}", h.Exam.VerifyCertificate)

		api.Group(func(secure chi.Router) {
			secure.Use(h.Auth.RequireAuth)
			secure.Use(observability.TagUser)

			secure.Get("/auth/me", h.Auth.Me)
			secure.Get("/exams", h.Exam.ListExams)
			secure.Get("/me/dashboard", h.Exam.Dashboard)

			secure.Post("/attempts/start", h.Exam.Start)
			secure.Get("/attempts/{id}", h.Exam.GetAttempt)
			secure.Get("/attempts/{id}/questions", h.Exam.Questions)
			secure.Put("/attempts/{id}/responses/{questionID}", h.Exam.RecordResponse)
			secure.Post("/attempts/{id}/submit", h.Exam.Submit)
			secure.Post("/attempts/{id}/certificate", h.Exam.IssueCertificate)

			secure.Group(func(staff chi.Router) {
				staff.Use(h.Auth.RequireRoles(auth.RoleAdmin, auth.RoleTeacher))
				staff.Get("/admin/dashboard", h.Report.Dashboard)
				staff.Post("/admin/exams", h.Exam.CreateExam)
				staff.Post("/admin/exams/{id}/questions", h.Exam.AddQuestion)
				staff.Get("/admin/exams/{id}/answer-key", h.Exam.AnswerKey)
				staff.Get("/admin/exams/{id}/summary", h.Report.Summary)
				staff.Get("/admin/exams/{id}/results.xlsx", h.Report.ExportResults)
				staff.Post("/admin/attempts/{id}/expire", h.Exam.ExpireAttempt)
				if h.Assistant != nil {
					staff.Post("/admin/questions/generate", h.Assistant.GenerateQuestions)
				}
			})

			secure.Group(func(admin chi.Router) {
				admin.Use(h.Auth.RequireRoles(auth.RoleAdmin))
				admin.Get("/admin/users", h.Auth.ListUsers)
				admin.Post("/admin/users", h.Auth.CreateUser)
				admin.Get("/admin/users/export.xlsx", h.Auth.ExportUsers)
				admin.Post("/admin/users/import", h.Auth.ImportUsers)
			})
		})
	})

	return r
}

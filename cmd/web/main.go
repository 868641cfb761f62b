package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"certexam/internal/app"
	"certexam/internal/app/observability"
	"certexam/internal/assistant"
	"certexam/internal/auth"
	"certexam/internal/events"
	"certexam/internal/exam"
	"certexam/internal/report"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}
	cfg := app.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		log.Printf("storage error: %v", err)
		os.Exit(1)
	}
	defer stores.Close()

	publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		log.Printf("event publisher error: %v", err)
		os.Exit(1)
	}
	defer publisher.Close()

	metrics := observability.NewCollector(stores.DB)

	authSvc, err := auth.NewService(stores.Users, auth.ServiceConfig{
		Secret:            cfg.JWTSecret,
		TokenTTL:          time.Duration(cfg.JWTTTLMinutes) * time.Minute,
		LoginLockDuration: time.Duration(cfg.LoginLockMinutes) * time.Minute,
	})
	if err != nil {
		log.Printf("auth config error: %v", err)
		os.Exit(1)
	}
	if err := authSvc.BootstrapAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
		log.Printf("bootstrap admin: %v", err)
		os.Exit(1)
	}

	policy, err := cfg.ExamPolicy()
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}
	examSvc := exam.NewService(exam.ServiceConfig{
		Store:   stores.Exam,
		Cache:   stores.Cache,
		Events:  publisher,
		Metrics: metrics,
		Policy:  policy,
	})
	assistantSvc := assistant.NewService(assistant.ServiceConfig{
		Endpoint:   cfg.AIEndpoint,
		APIKey:     cfg.AIAPIKey,
		CustomerID: cfg.AICustomerID,
		LLMModel:   cfg.AILLMModel,
		ImageModel: cfg.AIImageModel,
	})

	router := app.NewRouter(cfg, app.Handlers{
		Auth:      auth.NewHandler(authSvc),
		Exam:      exam.NewHandler(examSvc),
		Report:    report.NewHandler(report.NewService(stores.Exam, stores.Users)),
		Assistant: assistant.NewHandler(assistantSvc, examSvc),
		Metrics:   metrics,
	})

	sweeper := exam.NewSweeper(examSvc, time.Duration(cfg.SweepIntervalSeconds)*time.Second)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("certexam web listening on %s env=%s db=%s", cfg.HTTPAddr, cfg.AppEnv, cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

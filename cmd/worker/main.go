package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"certexam/internal/app"
	"certexam/internal/assistant"
	"certexam/internal/events"
	"certexam/internal/exam"

	"github.com/joho/godotenv"
)

const artworkQueue = "certexam-certificate-artwork"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}
	cfg := app.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		log.Println("AMQP_URL is required for the worker")
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

	gen := assistant.NewService(assistant.ServiceConfig{
		Endpoint:   cfg.AIEndpoint,
		APIKey:     cfg.AIAPIKey,
		CustomerID: cfg.AICustomerID,
		LLMModel:   cfg.AILLMModel,
		ImageModel: cfg.AIImageModel,
	})
	if !gen.Enabled() {
		log.Println("AI_API_ENDPOINT is empty, artwork will be marked unavailable")
	}
	worker := events.NewArtworkWorker(stores.Exam, stores.Users, gen)

	consumer, err := events.NewConsumer(events.ConsumerConfig{
		URL:         cfg.AMQPURL,
		Exchange:    cfg.AMQPExchange,
		Queue:       artworkQueue,
		RoutingKeys: []string{exam.EventCertificateIssued},
		Prefetch:    4,
	}, worker.Handle)
	if err != nil {
		log.Printf("consumer error: %v", err)
		os.Exit(1)
	}
	if err := consumer.Start(ctx); err != nil {
		log.Printf("start consumer: %v", err)
		consumer.Close()
		os.Exit(1)
	}

	go func() {
		// The loop also exits when the broker closes the channel.
		consumer.Wait()
		stop()
	}()

	<-ctx.Done()
	log.Println("shutting down worker")
	if err := consumer.Close(); err != nil {
		log.Printf("close consumer: %v", err)
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"tribsms/config"
	"tribsms/internal/consent"
	"tribsms/internal/handlers"
	"tribsms/internal/queue"
	"tribsms/internal/ratelimit"
	"tribsms/internal/status"
	"tribsms/internal/storage"
	"tribsms/internal/twilio"
	"tribsms/internal/webhook"
	"tribsms/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to database")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("Could not connect to Redis")
	}
	defer rdb.Close()

	rabbit, err := amqp091.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to RabbitMQ")
	}
	defer rabbit.Close()

	classifier := twilio.NewClassifier()
	classifier.MaxRetries = cfg.MaxRetries
	client := twilio.NewClient(classifier)
	updater := status.NewUpdater(store, "twilio")
	limiter := ratelimit.New(rdb, cfg.RateLimitWindow, nil)
	consents := consent.NewService(store, 30*time.Second)

	publisher, err := queue.NewPublisher(rabbit, cfg.SendQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not set up send queue")
	}
	defer publisher.Close()

	processor := queue.NewProcessor(updater, client)
	consumer := queue.NewConsumer(rabbit, cfg.SendQueue, cfg.WorkerConcurrency, processor, classifier, limiter, publisher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Queue consumer stopped")
			stop()
		}
	}()

	providerCfg := twilio.ProviderConfig{
		AccountSID:     cfg.TwilioAccountSID,
		AuthToken:      cfg.TwilioAuthToken,
		FromNumber:     cfg.TwilioFromNumber,
		StatusCallback: cfg.PublicBaseURL + "/webhooks/twilio/status",
		TimeoutSeconds: cfg.RequestTimeoutSecs,
		MaxRetries:     cfg.MaxRetries,
	}

	webhookHandler := webhook.NewHandler(store, updater, cfg.TwilioAuthToken, cfg.PublicBaseURL)
	server := handlers.NewServer(store, publisher, consents, limiter, providerCfg, store, redisPinger{rdb}, rabbitPinger{rabbit})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Routes(webhookHandler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
		os.Exit(1)
	}
}

type redisPinger struct {
	rdb *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

type rabbitPinger struct {
	conn *amqp091.Connection
}

func (p rabbitPinger) Ping(ctx context.Context) error {
	if p.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

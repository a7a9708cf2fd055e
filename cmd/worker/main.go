package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/samuelwildary2025/disparo/internal/config"
	"github.com/samuelwildary2025/disparo/internal/db"
	"github.com/samuelwildary2025/disparo/internal/gateway"
	"github.com/samuelwildary2025/disparo/internal/model"
	"github.com/samuelwildary2025/disparo/internal/personalizer"
	"github.com/samuelwildary2025/disparo/internal/queue"
	"github.com/samuelwildary2025/disparo/internal/realtime"
	"github.com/samuelwildary2025/disparo/internal/repository"
	"github.com/samuelwildary2025/disparo/internal/service"
)

// staleAge is how long a delivery may sit unacked in the processing set
// before startup recovery requeues it.
const staleAge = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("[Worker] config: ", err)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("[Worker] database: ", err)
	}
	defer database.Close()

	redisClient, err := queue.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatal("[Worker] redis: ", err)
	}
	defer redisClient.Close()
	dispatchQueue := queue.NewRedisQueue(redisClient, cfg.QueueKey, cfg.QueuePollInterval)

	notifier, err := realtime.Connect(cfg.AMQPURL, cfg.RealtimeExchange)
	if err != nil {
		log.Fatal("[Worker] amqp: ", err)
	}
	defer notifier.Close()

	campaignRepo := &repository.CampaignRepository{DB: database}
	runRepo := &repository.RunRepository{DB: database}
	contactRepo := &repository.ContactRepository{DB: database}

	scheduler := service.NewDispatchScheduler(campaignRepo, runRepo, dispatchQueue)
	progress := &service.ProgressService{Campaigns: campaignRepo, Runs: runRepo, Notifier: notifier}

	var variationClient personalizer.VariationClient
	if cfg.AIEnabled() {
		variationClient = personalizer.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAITimeout)
		log.Println("[Worker] AI variation enabled")
	} else {
		log.Println("[Worker] AI variation disabled, using template rendering only")
	}

	worker := service.NewDispatchWorker(
		campaignRepo, runRepo, contactRepo, scheduler, progress,
		&personalizer.Service{AI: variationClient, Timeout: cfg.OpenAITimeout},
		func(instance model.Instance) gateway.Sender {
			return gateway.NewClient(instance, cfg.GatewayTimeout)
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := dispatchQueue.RecoverStale(ctx, staleAge); err != nil {
		log.Printf("[Worker] stale recovery: %v", err)
	}

	log.Println("[Worker] consuming dispatch jobs")
	if err := dispatchQueue.Run(ctx, worker.ProcessJob); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("[Worker] run loop: ", err)
	}
	log.Println("[Worker] shutting down")
}

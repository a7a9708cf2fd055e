package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/samuelwildary2025/disparo/internal/config"
	"github.com/samuelwildary2025/disparo/internal/controller"
	"github.com/samuelwildary2025/disparo/internal/db"
	"github.com/samuelwildary2025/disparo/internal/gateway"
	"github.com/samuelwildary2025/disparo/internal/model"
	"github.com/samuelwildary2025/disparo/internal/queue"
	"github.com/samuelwildary2025/disparo/internal/realtime"
	"github.com/samuelwildary2025/disparo/internal/repository"
	"github.com/samuelwildary2025/disparo/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("[Server] config: ", err)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("[Server] database: ", err)
	}
	defer database.Close()

	redisClient, err := queue.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatal("[Server] redis: ", err)
	}
	defer redisClient.Close()
	dispatchQueue := queue.NewRedisQueue(redisClient, cfg.QueueKey, cfg.QueuePollInterval)

	notifier, err := realtime.Connect(cfg.AMQPURL, cfg.RealtimeExchange)
	if err != nil {
		log.Fatal("[Server] amqp: ", err)
	}
	defer notifier.Close()

	campaignRepo := &repository.CampaignRepository{DB: database}
	runRepo := &repository.RunRepository{DB: database}
	contactRepo := &repository.ContactRepository{DB: database}

	scheduler := service.NewDispatchScheduler(campaignRepo, runRepo, dispatchQueue)
	progress := &service.ProgressService{Campaigns: campaignRepo, Runs: runRepo, Notifier: notifier}
	campaignService := service.NewCampaignService(campaignRepo, runRepo, contactRepo, scheduler, progress)
	campaignService.Prober = func(ctx context.Context, instance model.Instance) error {
		return gateway.NewClient(instance, cfg.GatewayTimeout).EnsureConnected(ctx)
	}

	// Scheduled campaigns start on the tick; running campaigns get a
	// scheduling re-sweep so nothing stays stuck if a queue job was lost.
	ticker := cron.New()
	if _, err := ticker.AddFunc(cfg.SchedulerTick, func() {
		campaignService.StartDue(context.Background(), time.Now())
	}); err != nil {
		log.Fatal("[Server] cron: ", err)
	}
	ticker.Start()
	defer ticker.Stop()

	campaignController := &controller.CampaignController{
		Service:  campaignService,
		Contacts: contactRepo,
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", campaignController.Router())

	log.Printf("[Server] listening on %s", cfg.HTTPAddr)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}

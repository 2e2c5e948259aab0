package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"civic-complaint-system/pkg/database"
	"civic-complaint-system/pkg/middleware"
	"civic-complaint-system/pkg/objectstore"
	"civic-complaint-system/pkg/queue"
	"civic-complaint-system/pkg/security"
	"civic-complaint-system/services/complaint-service/admission"
	"civic-complaint-system/services/complaint-service/classifier"
	"civic-complaint-system/services/complaint-service/complaint"
	"civic-complaint-system/services/complaint-service/config"
	"civic-complaint-system/services/complaint-service/handlers"
	"civic-complaint-system/services/complaint-service/store"
	"civic-complaint-system/services/complaint-service/watchdog"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[ERROR] Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	middleware.RegisterMetrics()

	st, closeStore := openStore(ctx, cfg)
	defer closeStore()

	var publisher queue.Publisher = queue.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		conn, ch, err := queue.ConnectRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("[ERROR] Failed to connect to RabbitMQ: %v", err)
		}
		defer conn.Close()
		defer ch.Close()
		p, err := queue.NewAMQPPublisher(ch, queue.ComplaintsExchange)
		if err != nil {
			log.Fatalf("[ERROR] Failed to declare exchange: %v", err)
		}
		publisher = p
		log.Println("[OK] Connected to RabbitMQ")
	} else {
		log.Println("[WARN] RABBITMQ_URL not set, complaint events are not published")
	}

	var (
		gateway   classifier.Gateway   = classifier.Unavailable{}
		explainer classifier.Explainer = classifier.Unavailable{}
	)
	if cfg.GeminiAPIKey != "" {
		g := classifier.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel)
		gateway, explainer = g, g
		log.Printf("[OK] Classification service enabled (%s)", cfg.GeminiModel)
	} else {
		log.Println("[WARN] GEMINI_API_KEY not set, every submission uses the fallback classification")
	}

	key, err := security.KeyFrom(cfg.AnonEncKey, cfg.JWTSecret)
	if err != nil {
		log.Fatalf("[ERROR] Invalid ANON_ENC_KEY: %v", err)
	}
	sealer, err := security.NewSealer(key)
	if err != nil {
		log.Fatalf("[ERROR] Failed to init sealer: %v", err)
	}

	gate := admission.NewGate(st, gateway, publisher, admission.Options{
		SLADuration:     cfg.SLADuration,
		MinConfidence:   cfg.MinConfidence,
		ClassifyTimeout: cfg.ClassifyTimeout,
	}).WithSealer(sealer)

	if cfg.MinioEndpoint != "" {
		evidence, err := objectstore.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("[WARN] MinIO unavailable, evidence images will be dropped: %v", err)
		} else {
			gate.WithEvidenceStore(evidence)
			log.Println("[OK] Connected to MinIO")
		}
	}

	scheduler := watchdog.NewScheduler(st, explainer, publisher, watchdog.NewMetrics(prometheus.DefaultRegisterer), watchdog.Options{
		SLADuration:     cfg.SLADuration,
		Interval:        cfg.WatchdogInterval,
		BatchSize:       cfg.WatchdogBatch,
		StartupJitter:   cfg.StartupJitter,
		AdvisoryTimeout: cfg.AdvisoryTimeout,
	})

	if cfg.RedisAddr != "" {
		rdb, err := database.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, 0)
		if err != nil {
			log.Printf("[WARN] Redis unavailable, watchdog runs without a cross-instance lease: %v", err)
		} else {
			defer rdb.Close()
			scheduler.WithLease(watchdog.NewRedisLease(rdb, watchdog.DefaultLeaseKey, cfg.LeaseTTL))
			log.Println("[OK] Watchdog lease backed by Redis")
		}
	}

	if cfg.WatchdogEnabled {
		scheduler.Start(ctx)
	}

	h := handlers.New(gate, complaint.NewService(st, publisher), scheduler)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[INFO] Complaint Service running on port :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[ERROR] Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[INFO] Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] HTTP shutdown: %v", err)
	}
	scheduler.Stop()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func()) {
	if cfg.StoreBackend == config.BackendMemory {
		log.Println("[WARN] Using in-memory store, data is lost on restart")
		return store.NewMemory(), func() {}
	}

	db, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to MongoDB: %v", err)
	}
	s := store.NewMongo(db)
	if err := s.EnsureIndexes(ctx); err != nil {
		log.Printf("[WARN] %v", err)
	}
	return s, func() { database.DisconnectMongo(db) }
}

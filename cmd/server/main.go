package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/playmatatu/matchcore/internal/allocator"
	"github.com/playmatatu/matchcore/internal/api"
	"github.com/playmatatu/matchcore/internal/blacklist"
	"github.com/playmatatu/matchcore/internal/config"
	"github.com/playmatatu/matchcore/internal/events"
	"github.com/playmatatu/matchcore/internal/gateway"
	"github.com/playmatatu/matchcore/internal/history"
	"github.com/playmatatu/matchcore/internal/matchmaker"
	"github.com/playmatatu/matchcore/internal/migrations"
	"github.com/playmatatu/matchcore/internal/store"
)

func main() {
	cfg := config.Load()

	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("running DB migrations on startup")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}

	db, err := history.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	historySink := history.NewSink(db)

	s, err := store.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer s.Close()

	podID := os.Getenv("POD_ID")
	if podID == "" {
		podID = uuid.NewString()
	}
	log.Printf("starting pod %s", podID)

	emitter := events.New(s.Client, cfg.EnableStateEvents, podID)
	allocClient := allocator.NewClient(cfg.AllocatorBaseURL, time.Duration(cfg.DedicatedRequestTimeoutSecs)*time.Second)
	oracle := blacklist.NewInMemoryOracle(5, 10*time.Minute, 30*time.Minute)

	hub := gateway.NewHub(s, cfg, oracle, podID)
	mm := matchmaker.New(s, cfg, emitter, allocClient, oracle, historySink, hub, hub, podID)
	hub.SetMatchmaker(mm)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go mm.Run(ctx)
	go hub.Subscribe(ctx)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, s, cfg, mm, hub)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("matchcore listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received: notifying connected players")

	// §5 graceful shutdown: notify, then stop accepting connections,
	// then drain the subscription streams with a bounded wait, then
	// exit.
	hub.NotifyShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	hub.DrainSubscribers(5 * time.Second)
	log.Println("shutdown complete")
}

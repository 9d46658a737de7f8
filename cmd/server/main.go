package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velenik/payflow/internal/api"
	"github.com/velenik/payflow/internal/config"
	"github.com/velenik/payflow/internal/infrastructure/auth"
	"github.com/velenik/payflow/internal/infrastructure/kafka"
	"github.com/velenik/payflow/internal/infrastructure/redis"
	"github.com/velenik/payflow/internal/observability"
	core "github.com/velenik/payflow/internal/repository/postgres"
	service "github.com/velenik/payflow/internal/services"

	_ "github.com/lib/pq"
)

func main() {
	shutdown, metricsHandler := observability.Setup("payflow-user-service")
	defer shutdown(context.Background())

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	userRepo := core.NewPostgresUserRepository(db)
	accountRepo := core.NewPostgresAccountRepository(db)

	redisClient, err := redis.NewClient(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	kafkaProducer := kafka.NewProducer(cfg.KafkaBrokers)
	defer kafkaProducer.Close()

	tokenManager, err := auth.NewTokenManager(cfg.JWTSecret, 0)
	if err != nil {
		log.Fatalf("Failed to init token manager: %v", err)
	}

	svc := service.NewUserService(userRepo, accountRepo, redisClient, kafkaProducer, tokenManager)

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	userConsumer := kafka.NewConsumer(cfg.KafkaBrokers, "users", "payflow-user-service-group", redisClient)
	go userConsumer.Consume(consumerCtx)
	defer userConsumer.Close()
	defer cancelConsumer()

	router := api.SetupRouter(svc, tokenManager, metricsHandler)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}

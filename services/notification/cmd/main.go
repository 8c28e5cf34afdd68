package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/kyungseok/laptop-financing/common/events"
	"github.com/kyungseok/laptop-financing/common/idempotency"
	"github.com/kyungseok/laptop-financing/common/logger"
	"github.com/kyungseok/laptop-financing/common/messaging"
	"github.com/kyungseok/laptop-financing/services/notification/internal/dispatch"
	"github.com/kyungseok/laptop-financing/services/notification/internal/handler"
)

func main() {
	_ = godotenv.Load()

	config := loadConfig()

	// Logger 초기화
	log, err := logger.NewLogger("notification-service", config.Development)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	// Redis 연결
	redisClient := redis.NewClient(&redis.Options{
		Addr: config.RedisAddr,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	log.Info("connected to redis")

	idemStore := idempotency.NewRedisStore(redisClient, "notification-service")
	dispatcher := dispatch.NewLogDispatcher(logger.ForComponent(log, "dispatch"))
	eventHandler := handler.NewEventHandler(dispatcher, idemStore, log)

	// Kafka Consumer 초기화
	consumer, err := messaging.NewKafkaConsumer(config.KafkaBrokers, "notification-service-group", log)
	if err != nil {
		log.Fatal("failed to create kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topics := events.AllTopics()
	if err := consumer.Subscribe(ctx, topics, eventHandler.HandleMessage); err != nil {
		log.Fatal("failed to subscribe to topics", zap.Error(err))
	}
	log.Info("subscribed to kafka topics", zap.Strings("topics", topics))

	// HTTP Server 시작 (헬스 체크, 메트릭)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + config.ServicePort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http server starting", zap.String("port", config.ServicePort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	cancel() // 소비 루프 종료
	log.Info("server stopped")
}

// Config 설정 구조체
type Config struct {
	RedisAddr    string
	KafkaBrokers []string
	ServicePort  string
	Development  bool
}

func loadConfig() Config {
	return Config{
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9093"), ","),
		ServicePort:  getEnv("SERVICE_PORT", "8003"),
		Development:  getEnv("APP_ENV", "development") == "development",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

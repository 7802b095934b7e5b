package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/vitalflow/internal/anomaly"
	"github.com/terminal-bench/vitalflow/internal/config"
	"github.com/terminal-bench/vitalflow/pkg/logging"
	"github.com/terminal-bench/vitalflow/pkg/messaging"
)

func main() {
	log := logging.New("anomaly-service")

	natsURL := config.String("NATS_URL", "nats://localhost:4222")
	subject := config.String("SCORER_SUBJECT", messaging.DefaultScoreSubject)
	windowSize := config.Int("BASELINE_WINDOW_SIZE", anomaly.DefaultWindowSize)
	minSamples := config.Int("MIN_BASELINE_SAMPLES", anomaly.DefaultMinSamples)
	redisEnabled := config.Bool("BASELINE_REDIS_ENABLED", false)
	port := config.String("PORT", "8003")

	var store anomaly.BaselineStore
	if redisEnabled {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", config.String("REDIS_HOST", "localhost"), config.Int("REDIS_PORT", 6379)),
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.WithError(err).Fatal("Failed to connect to Redis baseline store")
		}
		cancel()
		defer client.Close()

		store = anomaly.NewRedisStore(client, windowSize)
		log.Info("Using Redis baseline store")
	} else {
		store = anomaly.NewMemoryStore(windowSize)
		log.Info("Using in-memory baseline store")
	}

	nc, err := messaging.NewNATSClient(messaging.NATSConfig{
		URL:            natsURL,
		Name:           "anomaly-service",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to NATS")
	}

	engine := anomaly.NewEngine(store, minSamples, logging.Named(log, "engine"))
	scorer := anomaly.NewService(engine, logging.Named(log, "scorer"))

	if err := messaging.ServeScorer(nc, subject, messaging.ScoreQueueGroup, scorer, logging.Named(log, "rpc")); err != nil {
		log.WithError(err).Fatal("Failed to subscribe scorer")
	}
	log.WithField("subject", subject).Info("Scoring requests being served")

	router := gin.Default()
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "anomaly-service", "status": "running"})
	})
	router.GET("/health", func(c *gin.Context) {
		natsStatus := "connected"
		if !nc.IsConnected() {
			natsStatus = "disconnected"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "anomaly-service",
			"nats":    natsStatus,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()
	log.WithField("port", port).Info("Anomaly service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	// Drain lets in-flight scoring requests finish before the subscription
	// goes away.
	if err := nc.Drain(); err != nil {
		log.WithError(err).Error("Failed to drain NATS connection")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Anomaly service stopped")
}

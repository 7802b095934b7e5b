package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/vitalflow/internal/analytics"
	"github.com/terminal-bench/vitalflow/internal/config"
	"github.com/terminal-bench/vitalflow/pkg/logging"
	"github.com/terminal-bench/vitalflow/pkg/messaging"
)

func main() {
	log := logging.New("analytics")

	brokers := strings.Split(config.String("KAFKA_BROKERS", "localhost:9092"), ",")
	clientID := config.String("KAFKA_CLIENT_ID", "analytics")
	scoredTopic := config.String("KAFKA_TOPIC_SCORED", "telemetry.scored")
	alertsTopic := config.String("KAFKA_TOPIC_ALERTS", "alerts.raised")
	group := config.String("KAFKA_CONSUMER_GROUP", "analytics")
	window15m := config.Seconds("ROLLING_WINDOW_15M_SECONDS", analytics.DefaultWindow15m)
	window1h := config.Seconds("ROLLING_WINDOW_1H_SECONDS", analytics.DefaultWindow1h)
	alertWindow := config.Seconds("ALERT_WINDOW_SECONDS", analytics.DefaultAlertWindow)
	port := config.String("PORT", "8005")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.String("REDIS_HOST", "localhost"), config.Int("REDIS_PORT", 6379)),
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	cancel()
	defer redisClient.Close()

	store := analytics.NewStore(redisClient, alertWindow)
	aggregator := analytics.NewAggregator(store, []time.Duration{window15m, window1h}, logging.Named(log, "aggregator"))
	feed := analytics.NewFeed(logging.Named(log, "feed"))
	svc := analytics.NewService(aggregator, feed, logging.Named(log, "service"))

	// Aggregates describe the live state, so both consumers tail their
	// topics instead of replaying history.
	scoredConsumer, err := messaging.NewConsumerGroup(messaging.ConsumerConfig{
		KafkaConfig: messaging.KafkaConfig{Brokers: brokers, ClientID: clientID + "-scored"},
		GroupID:     group + "-scored",
		Topics:      []string{scoredTopic},
	}, svc.HandleScored, logging.Named(log, "scored-consumer"))
	if err != nil {
		log.WithError(err).Fatal("Failed to join scored consumer group")
	}

	alertsConsumer, err := messaging.NewConsumerGroup(messaging.ConsumerConfig{
		KafkaConfig: messaging.KafkaConfig{Brokers: brokers, ClientID: clientID + "-alerts"},
		GroupID:     group + "-alerts",
		Topics:      []string{alertsTopic},
	}, svc.HandleAlert, logging.Named(log, "alerts-consumer"))
	if err != nil {
		log.WithError(err).Fatal("Failed to join alerts consumer group")
	}

	var running atomic.Int32
	api := analytics.NewAPI(aggregator, store, feed, func() bool {
		return running.Load() == 2
	}, logging.Named(log, "api"))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: api.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		running.Add(1)
		defer running.Add(-1)
		return scoredConsumer.Run(ctx)
	})
	g.Go(func() error {
		running.Add(1)
		defer running.Add(-1)
		return alertsConsumer.Run(ctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Server forced to shutdown")
		}

		if err := scoredConsumer.Close(); err != nil {
			log.WithError(err).Error("Failed to close scored consumer")
		}
		return alertsConsumer.Close()
	})

	log.WithField("port", port).Info("Analytics service started")
	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Analytics service failed")
	}
	log.Info("Analytics service stopped")
}

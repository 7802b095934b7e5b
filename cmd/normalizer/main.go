package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/vitalflow/internal/config"
	"github.com/terminal-bench/vitalflow/internal/normalizer"
	"github.com/terminal-bench/vitalflow/pkg/logging"
	"github.com/terminal-bench/vitalflow/pkg/messaging"
)

func main() {
	log := logging.New("normalizer")

	brokers := strings.Split(config.String("KAFKA_BROKERS", "localhost:9092"), ",")
	clientID := config.String("KAFKA_CLIENT_ID", "normalizer")
	rawTopic := config.String("KAFKA_TOPIC_RAW", "telemetry.raw")
	normalizedTopic := config.String("KAFKA_TOPIC_NORMALIZED", "telemetry.normalized")
	group := config.String("KAFKA_CONSUMER_GROUP", "normalizer")
	port := config.String("PORT", "8001")

	producer, err := messaging.NewProducer(messaging.KafkaConfig{
		Brokers:  brokers,
		ClientID: clientID,
	}, logging.Named(log, "producer"))
	if err != nil {
		log.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	norm := normalizer.New(normalizer.DefaultLimits(), nil, logging.Named(log, "normalizer"))
	svc := normalizer.NewService(norm, producer, normalizedTopic, log)

	consumer, err := messaging.NewConsumerGroup(messaging.ConsumerConfig{
		KafkaConfig: messaging.KafkaConfig{Brokers: brokers, ClientID: clientID},
		GroupID:     group,
		Topics:      []string{rawTopic},
		Oldest:      true,
	}, svc.HandleMessage, logging.Named(log, "consumer"))
	if err != nil {
		log.WithError(err).Fatal("Failed to join consumer group")
	}

	router := gin.Default()
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "normalizer", "status": "running"})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "normalizer"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(ctx)
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
		return consumer.Close()
	})

	log.WithField("port", port).Info("Normalizer started")
	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Normalizer failed")
	}
	log.Info("Normalizer stopped")
}

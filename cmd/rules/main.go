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
	"github.com/terminal-bench/vitalflow/internal/rules"
	"github.com/terminal-bench/vitalflow/pkg/circuit"
	"github.com/terminal-bench/vitalflow/pkg/logging"
	"github.com/terminal-bench/vitalflow/pkg/messaging"
)

func main() {
	log := logging.New("rules-engine")

	brokers := strings.Split(config.String("KAFKA_BROKERS", "localhost:9092"), ",")
	clientID := config.String("KAFKA_CLIENT_ID", "rules-engine")
	enrichedTopic := config.String("KAFKA_TOPIC_ENRICHED", "telemetry.enriched")
	scoredTopic := config.String("KAFKA_TOPIC_SCORED", "telemetry.scored")
	alertsTopic := config.String("KAFKA_TOPIC_ALERTS", "alerts.raised")
	group := config.String("KAFKA_CONSUMER_GROUP", "rules-engine")
	natsURL := config.String("NATS_URL", "nats://localhost:4222")
	subject := config.String("SCORER_SUBJECT", messaging.DefaultScoreSubject)
	scorerTimeout := config.Seconds("SCORER_TIMEOUT_SECONDS", 5*time.Second)
	port := config.String("PORT", "8004")

	defaults := rules.DefaultThresholds()
	thresholds := rules.Thresholds{
		HRMax:      config.Float("HR_MAX", defaults.HRMax),
		HRVeryHigh: config.Float("HR_VERY_HIGH", defaults.HRVeryHigh),
		SpO2Min:    config.Float("SPO2_MIN", defaults.SpO2Min),
		SpO2Low:    config.Float("SPO2_LOW", defaults.SpO2Low),
		TempMaxF:   config.Float("TEMP_MAX", defaults.TempMaxF),
	}

	nc, err := messaging.NewNATSClient(messaging.NATSConfig{
		URL:            natsURL,
		Name:           "rules-engine",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to NATS")
	}
	defer nc.Close()

	breaker := circuit.NewBreaker(circuit.Config{
		Name:        "anomaly-scorer",
		MaxFailures: config.Int("BREAKER_MAX_FAILURES", 5),
		Timeout:     config.Seconds("BREAKER_RESET_SECONDS", 30*time.Second),
		OnStateChange: func(from, to circuit.State) {
			log.WithFields(map[string]interface{}{
				"breaker": "anomaly-scorer",
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	producer, err := messaging.NewProducer(messaging.KafkaConfig{
		Brokers:  brokers,
		ClientID: clientID,
	}, logging.Named(log, "producer"))
	if err != nil {
		log.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	engine := rules.NewEngine(thresholds, logging.Named(log, "engine"))
	scorer := messaging.NewNATSScorer(nc, subject, scorerTimeout)
	svc := rules.NewService(engine, scorer, breaker, producer, rules.Topics{
		Scored: scoredTopic,
		Alerts: alertsTopic,
	}, logging.Named(log, "service"))

	consumer, err := messaging.NewConsumerGroup(messaging.ConsumerConfig{
		KafkaConfig: messaging.KafkaConfig{Brokers: brokers, ClientID: clientID},
		GroupID:     group,
		Topics:      []string{enrichedTopic},
		Oldest:      true,
	}, svc.HandleMessage, logging.Named(log, "consumer"))
	if err != nil {
		log.WithError(err).Fatal("Failed to join consumer group")
	}

	router := gin.Default()
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "rules-engine", "status": "running"})
	})
	router.GET("/health", func(c *gin.Context) {
		natsStatus := "connected"
		if !nc.IsConnected() {
			natsStatus = "disconnected"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "rules-engine",
			"nats":    natsStatus,
			"breaker": breaker.State().String(),
		})
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

	log.WithField("port", port).Info("Rules engine started")
	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Rules engine failed")
	}
	log.Info("Rules engine stopped")
}

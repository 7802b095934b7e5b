package analytics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/shared/events"
)

// API serves the analytics query surface.
type API struct {
	router     *gin.Engine
	aggregator *Aggregator
	store      *Store
	feed       *Feed
	kafkaReady func() bool
	log        *logrus.Entry
}

// NewAPI builds the router. kafkaReady reports whether the consumers are
// running, for the health endpoint; nil means always ready.
func NewAPI(aggregator *Aggregator, store *Store, feed *Feed, kafkaReady func() bool, log *logrus.Entry) *API {
	a := &API{
		router:     gin.Default(),
		aggregator: aggregator,
		store:      store,
		feed:       feed,
		kafkaReady: kafkaReady,
		log:        log,
	}
	a.setupRoutes()
	return a
}

// Router exposes the underlying gin engine.
func (a *API) Router() *gin.Engine {
	return a.router
}

func (a *API) setupRoutes() {
	a.router.GET("/", a.root)
	a.router.GET("/health", a.health)
	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/stats/patients/:patient_id/summary", a.patientSummary)
	a.router.GET("/stats/global/alerts", a.globalAlerts)

	a.router.GET("/ws/alerts", a.alertsFeed)
}

func (a *API) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": "analytics", "status": "running"})
}

func (a *API) health(c *gin.Context) {
	redisStatus := "connected"
	if err := a.store.Ping(c.Request.Context()); err != nil {
		redisStatus = "disconnected"
	}

	kafkaStatus := "connected"
	if a.kafkaReady != nil && !a.kafkaReady() {
		kafkaStatus = "disconnected"
	}

	status := "healthy"
	if redisStatus != "connected" || kafkaStatus != "connected" {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": events.FormatTimestamp(time.Now()),
		"service":   "analytics",
		"redis":     redisStatus,
		"kafka":     kafkaStatus,
	})
}

func (a *API) patientSummary(c *gin.Context) {
	summary, err := a.aggregator.PatientSummary(c.Request.Context(), c.Param("patient_id"))
	if err != nil {
		a.log.WithError(err).WithField("patient_id", c.Param("patient_id")).Error("Failed to build patient summary")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load patient summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *API) globalAlerts(c *gin.Context) {
	counts, err := a.store.AlertsPerMinute(c.Request.Context())
	if err != nil {
		a.log.WithError(err).Error("Failed to load alert counters")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load alert counters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts_per_minute": counts,
		"timestamp":         events.FormatTimestamp(time.Now()),
	})
}

func (a *API) alertsFeed(c *gin.Context) {
	a.feed.ServeWS(c)
}

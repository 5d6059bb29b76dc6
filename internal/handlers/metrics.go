package handlers

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/services"
	"gorm.io/gorm"
)

type MetricsHandler struct {
	db    *gorm.DB
	queue services.TaskQueue
	hub   *services.SSEHub
	start time.Time
	now   func() time.Time
}

func NewMetricsHandler(db *gorm.DB, queue services.TaskQueue, hub *services.SSEHub) *MetricsHandler {
	return &MetricsHandler{db: db, queue: queue, hub: hub, start: time.Now(), now: time.Now}
}

type labelCount struct {
	Label string
	Total int64
}

// Metrics returns Prometheus-compatible text format metrics.
func (h *MetricsHandler) Metrics(c *gin.Context) {
	var b strings.Builder

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "feedbackloop_uptime_seconds", "Time since server start in seconds", h.now().Sub(h.start).Seconds())
	writeGauge(&b, "feedbackloop_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "feedbackloop_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))
	writeGauge(&b, "feedbackloop_gc_runs_total", "Total number of GC runs", float64(m.NumGC))

	if sqlDB, err := h.db.DB(); err == nil {
		stats := sqlDB.Stats()
		writeGauge(&b, "feedbackloop_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
		writeGauge(&b, "feedbackloop_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
	}

	writeGauge(&b, "feedbackloop_sse_active_clients", "Number of connected transition streams", float64(h.hub.ClientCount()))

	queueAsync := 0.0
	if h.queue != nil && h.queue.IsAsync() {
		queueAsync = 1.0
	}
	writeGauge(&b, "feedbackloop_queue_async_enabled", "Whether async queue (Redis) is enabled (1=yes, 0=no)", queueAsync)

	// Every known status is reported, including those with no requests.
	byStatus := map[string]float64{}
	for _, s := range feedback.AllStatuses {
		byStatus[string(s)] = 0
	}
	var counts []labelCount
	h.db.Model(&models.FeedbackRequest{}).Select("status AS label, COUNT(*) AS total").Group("status").Scan(&counts)
	for _, lc := range counts {
		byStatus[lc.Label] = float64(lc.Total)
	}
	writeLabeledGauge(&b, "feedbackloop_requests", "Feedback requests by status", "status", byStatus)

	byDecision := map[string]float64{}
	counts = nil
	h.db.Model(&models.RoutingDecision{}).Where("outcome = ?", string(feedback.OutcomeSuccess)).
		Select("decision AS label, COUNT(*) AS total").Group("decision").Scan(&counts)
	for _, lc := range counts {
		byDecision[lc.Label] = float64(lc.Total)
	}
	writeLabeledGauge(&b, "feedbackloop_routing_decisions", "Successful routing decisions by decision", "decision", byDecision)

	var failed24h int64
	h.db.Model(&models.OutreachAttempt{}).
		Where("delivery_status = ? AND created_at >= ?", string(feedback.DeliveryFailed), h.now().Add(-24*time.Hour)).
		Count(&failed24h)
	writeGauge(&b, "feedbackloop_delivery_failures_24h", "Failed outreach attempts in the last 24 hours", float64(failed24h))

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}

func writeLabeledGauge(b *strings.Builder, name, help, label string, values map[string]float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=%q} %g\n", name, label, k, values[k])
	}
	b.WriteString("\n")
}

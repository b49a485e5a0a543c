// Package metrics exposes Prometheus counters for the prospecting pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	emailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospect_emails_total",
			Help: "Campaign emails attempted, by outcome",
		},
		[]string{"status"},
	)

	enrichmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospect_enrichments_total",
			Help: "Lead enrichments, by outcome",
		},
		[]string{"outcome"},
	)

	scrapedLeadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospect_scraped_leads_total",
			Help: "Scraped candidates, by persistence outcome",
		},
		[]string{"outcome"},
	)

	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospect_tasks_total",
			Help: "Background task attempts, by kind and final status",
		},
		[]string{"kind", "status"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prospect_task_duration_seconds",
			Help:    "Background task run time in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"kind"},
	)
)

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeEmpty     = "empty"
)

// EmailSent counts one delivery attempt with its send status.
func EmailSent(status string) {
	emailsTotal.WithLabelValues(status).Inc()
}

// Enrichment counts one enrichment outcome.
func Enrichment(outcome string) {
	enrichmentsTotal.WithLabelValues(outcome).Inc()
}

// ScrapedLead counts one scraped candidate.
func ScrapedLead(outcome string) {
	scrapedLeadsTotal.WithLabelValues(outcome).Inc()
}

// TaskFinished records a task attempt.
func TaskFinished(kind, status string, elapsed time.Duration) {
	tasksTotal.WithLabelValues(kind, status).Inc()
	taskDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

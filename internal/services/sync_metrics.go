package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics exposes pass and record counters
type SyncMetrics struct {
	records       *prometheus.CounterVec
	passes        *prometheus.CounterVec
	passDuration  *prometheus.HistogramVec
	fetchedTotal  *prometheus.CounterVec
	lastPassEpoch *prometheus.GaugeVec
}

// NewSyncMetrics registers the sync metrics with a registerer
func NewSyncMetrics(registerer prometheus.Registerer) *SyncMetrics {
	factory := promauto.With(registerer)

	return &SyncMetrics{
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_sync_records_total",
			Help: "Records processed by status",
		}, []string{"mode", "entity_type", "status"}),
		passes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_sync_passes_total",
			Help: "Synchronization passes by result",
		}, []string{"mode", "entity_type", "result"}),
		passDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crm_sync_pass_duration_seconds",
			Help:    "Duration of synchronization passes",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"mode", "entity_type"}),
		fetchedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_sync_fetched_records_total",
			Help: "Raw records returned by incremental fetches",
		}, []string{"mode", "entity_type"}),
		lastPassEpoch: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crm_sync_last_pass_timestamp_seconds",
			Help: "Unix time of the last finished pass",
		}, []string{"mode", "entity_type"}),
	}
}

// ObserveRecord counts one annotated record
func (m *SyncMetrics) ObserveRecord(mode, entityType, status string) {
	if status == "" {
		status = "pending"
	}
	m.records.WithLabelValues(mode, entityType, status).Inc()
}

// ObserveFetch counts fetched raw records
func (m *SyncMetrics) ObserveFetch(mode, entityType string, count int) {
	m.fetchedTotal.WithLabelValues(mode, entityType).Add(float64(count))
}

// ObservePass records the duration and result of a pass
func (m *SyncMetrics) ObservePass(mode, entityType string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.passes.WithLabelValues(mode, entityType, result).Inc()
	m.passDuration.WithLabelValues(mode, entityType).Observe(time.Since(started).Seconds())
	if err == nil {
		m.lastPassEpoch.WithLabelValues(mode, entityType).SetToCurrentTime()
	}
}

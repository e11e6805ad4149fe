// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the proxy's hot path.
type Metrics struct {
	FramesDecodedTotal      *prometheus.CounterVec
	FramesDroppedTotal      *prometheus.CounterVec
	BytesProxiedTotal       *prometheus.CounterVec
	ActiveSessions          prometheus.Gauge
	BlockingTransitionTotal *prometheus.CounterVec
	PhraseExtractDuration   prometheus.Histogram
}

// NewMetrics constructs and registers the proxy's metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		FramesDecodedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sirimitm_frames_decoded_total",
			Help: "The total number of frames decoded, by direction and kind",
		}, []string{"direction", "kind"}),
		FramesDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sirimitm_frames_dropped_total",
			Help: "The total number of payload frames dropped, by direction and reason",
		}, []string{"direction", "reason"}),
		BytesProxiedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sirimitm_bytes_proxied_total",
			Help: "The total number of raw bytes forwarded, by direction",
		}, []string{"direction"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sirimitm_active_sessions",
			Help: "The current number of live device sessions",
		}),
		BlockingTransitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sirimitm_blocking_transitions_total",
			Help: "The total number of blocking-state transitions, by new state",
		}, []string{"state"}),
		PhraseExtractDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sirimitm_phrase_extract_duration_seconds",
			Help:    "Duration of phrase extraction from a service->device payload",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	prometheus.MustRegister(m.FramesDecodedTotal)
	prometheus.MustRegister(m.FramesDroppedTotal)
	prometheus.MustRegister(m.BytesProxiedTotal)
	prometheus.MustRegister(m.ActiveSessions)
	prometheus.MustRegister(m.BlockingTransitionTotal)
	prometheus.MustRegister(m.PhraseExtractDuration)
}

// RecordFrameDecoded increments the decoded-frame counter.
func (m *Metrics) RecordFrameDecoded(direction, kind string) {
	m.FramesDecodedTotal.WithLabelValues(direction, kind).Inc()
}

// RecordFrameDropped increments the dropped-frame counter.
func (m *Metrics) RecordFrameDropped(direction, reason string) {
	m.FramesDroppedTotal.WithLabelValues(direction, reason).Inc()
}

// RecordBytesProxied adds n bytes to the proxied-byte counter for direction.
func (m *Metrics) RecordBytesProxied(direction string, n float64) {
	m.BytesProxiedTotal.WithLabelValues(direction).Add(n)
}

// RecordBlockingTransition increments the blocking-transition counter.
func (m *Metrics) RecordBlockingTransition(state string) {
	m.BlockingTransitionTotal.WithLabelValues(state).Inc()
}

// SetActiveSessions sets the active-session gauge.
func (m *Metrics) SetActiveSessions(count float64) {
	m.ActiveSessions.Set(count)
}

// RecordPhraseExtractDuration observes a phrase-extraction duration.
func (m *Metrics) RecordPhraseExtractDuration(seconds float64) {
	m.PhraseExtractDuration.Observe(seconds)
}

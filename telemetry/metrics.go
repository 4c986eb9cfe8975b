// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollsTotal             prometheus.Counter
	PollErrors             prometheus.Counter
	BackoffsEntered        prometheus.Counter
	ParticipationsRecorded prometheus.Counter
	ProfileWriteErrors     prometheus.Counter
	DrawsTotal             prometheus.Counter
	BroadcastsSent         prometheus.Counter
	RelayReconnects        prometheus.Counter
	RelayFallbackSends     prometheus.Counter

	// Histograms (seconds)
	PollDuration prometheus.Observer
	DrawDuration prometheus.Observer

	// Gauges
	ParticipantsGauge      prometheus.Gauge
	RealtimeClientsGauge   prometheus.Gauge
	SessionMonitoringGauge prometheus.Gauge // 1=monitoring or backoff, 0=idle/stopped
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "lottery_chat_polls_total", Help: "Number of chat page fetches attempted"})
		PollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "lottery_chat_poll_errors_total", Help: "Number of chat page fetches that failed"})
		BackoffsEntered = promauto.NewCounter(prometheus.CounterOpts{Name: "lottery_backoffs_total", Help: "Number of rate-limit backoffs entered"})
		ParticipationsRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "lottery_participations_recorded_total", Help: "Number of participation events persisted"})
		ProfileWriteErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "lottery_profile_write_errors_total", Help: "Number of failed profile store writes"})
		DrawsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "lottery_draws_total", Help: "Number of completed draws"})
		BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "lottery_broadcasts_total", Help: "Number of realtime broadcast messages queued"})
		RelayReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "lottery_relay_reconnects_total", Help: "Number of relay reconnect attempts"})
		RelayFallbackSends = promauto.NewCounter(prometheus.CounterOpts{Name: "lottery_relay_fallback_sends_total", Help: "Number of notifications delivered over the HTTP fallback path"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "lottery_chat_poll_duration_seconds", Help: "Chat page fetch duration seconds", Buckets: prometheus.DefBuckets})
		DrawDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "lottery_draw_duration_seconds", Help: "Draw commit duration seconds", Buckets: prometheus.DefBuckets})
		ParticipantsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "lottery_participants", Help: "Current number of deduplicated session participants"})
		RealtimeClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "lottery_realtime_clients", Help: "Current number of connected realtime clients"})
		SessionMonitoringGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "lottery_session_monitoring", Help: "Session monitoring=1 idle/stopped=0"})
	})
}

// SetParticipants records the current registry size.
func SetParticipants(n int) {
	if ParticipantsGauge != nil {
		ParticipantsGauge.Set(float64(n))
	}
}

// SetRealtimeClients records the current realtime client count.
func SetRealtimeClients(n int) {
	if RealtimeClientsGauge != nil {
		RealtimeClientsGauge.Set(float64(n))
	}
}

// UpdateSessionGauge sets the monitoring gauge to 1 when a session is actively polling.
func UpdateSessionGauge(monitoring bool) {
	if SessionMonitoringGauge != nil {
		if monitoring {
			SessionMonitoringGauge.Set(1)
		} else {
			SessionMonitoringGauge.Set(0)
		}
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

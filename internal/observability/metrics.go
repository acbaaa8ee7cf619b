package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	BackendConnected prometheus.Gauge
	ReconnectsTotal  prometheus.Counter
	ActiveRuns       prometheus.Gauge
	RunEvents        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	PaymentsTotal    *prometheus.CounterVec
	PaymentAmount    prometheus.Counter
	WSClients        prometheus.Gauge
	WSMessages       *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		BackendConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_connected",
			Help:      "1 when the shared backend socket is connected.",
		}),
		ReconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_reconnects_total",
			Help:      "Reconnect attempts against the backend socket.",
		}),
		ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of runs not yet in a terminal state.",
		}),
		RunEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_events_total",
			Help:      "Run lifecycle events by outcome.",
		}, []string{"event"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from kickoff to terminal state.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		PaymentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Settled payments by mode.",
		}, []string{"mode"}),
		PaymentAmount: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_amount_total",
			Help:      "Total currency settled across all runs.",
		}),
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected dashboard WebSocket clients.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Dashboard WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
	}
}

func (m *Metrics) ObserveRunEvent(event string) {
	if m == nil {
		return
	}
	m.RunEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveRunDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) ObservePayment(amount float64, simulated bool) {
	if m == nil {
		return
	}
	mode := "ledger"
	if simulated {
		mode = "simulated"
	}
	m.PaymentsTotal.WithLabelValues(mode).Inc()
	m.PaymentAmount.Add(amount)
}

func (m *Metrics) SetActiveRuns(n int) {
	if m == nil {
		return
	}
	m.ActiveRuns.Set(float64(n))
}

func (m *Metrics) SetBackendConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.BackendConnected.Set(1)
		return
	}
	m.BackendConnected.Set(0)
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

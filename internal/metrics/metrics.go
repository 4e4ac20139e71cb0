package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the poller, ledger and
// transaction pipeline. A nil *Metrics is a valid no-op.
type Metrics struct {
	ledgersProcessed      prometheus.Counter
	eventsApplied         prometheus.Counter
	eventsDropped         *prometheus.CounterVec
	withdrawWithoutSupply prometheus.Counter
	pollErrors            prometheus.Counter
	transactions          *prometheus.CounterVec
	cursorLedger          prometheus.Gauge
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics on the default registry (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = New(prometheus.DefaultRegisterer)
	})
	return metrics
}

// New builds a Metrics set registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ledgersProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reward_tower_ledgers_processed_total",
			Help: "Total number of ledgers whose events were fully applied",
		}),
		eventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reward_tower_events_applied_total",
			Help: "Total number of events applied to participant balances",
		}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reward_tower_events_dropped_total",
			Help: "Total number of events dropped before reaching the ledger",
		}, []string{"reason"}),
		withdrawWithoutSupply: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reward_tower_withdraw_without_supply_total",
			Help: "Total number of withdraw events with no prior recorded supply",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reward_tower_poll_errors_total",
			Help: "Total number of failed poll iterations",
		}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reward_tower_transactions_total",
			Help: "Total number of submitted contract operations by terminal status",
		}, []string{"operation", "status"}),
		cursorLedger: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reward_tower_cursor_ledger",
			Help: "Last ledger whose events were fully applied",
		}),
	}
	reg.MustRegister(
		m.ledgersProcessed,
		m.eventsApplied,
		m.eventsDropped,
		m.withdrawWithoutSupply,
		m.pollErrors,
		m.transactions,
		m.cursorLedger,
	)
	return m
}

// LedgersProcessed adds n to the processed ledger counter.
func (m *Metrics) LedgersProcessed(n uint32) {
	if m != nil {
		m.ledgersProcessed.Add(float64(n))
	}
}

func (m *Metrics) EventApplied() {
	if m != nil {
		m.eventsApplied.Inc()
	}
}

// EventDropped counts a dropped event under reason (duplicate, out_of_scope, malformed, unknown_kind).
func (m *Metrics) EventDropped(reason string) {
	if m != nil {
		m.eventsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) WithdrawWithoutSupply() {
	if m != nil {
		m.withdrawWithoutSupply.Inc()
	}
}

func (m *Metrics) PollError() {
	if m != nil {
		m.pollErrors.Inc()
	}
}

// Transaction counts a terminal transaction outcome.
func (m *Metrics) Transaction(operation, status string) {
	if m != nil {
		m.transactions.WithLabelValues(operation, status).Inc()
	}
}

// Cursor records the current ledger cursor.
func (m *Metrics) Cursor(ledger uint32) {
	if m != nil {
		m.cursorLedger.Set(float64(ledger))
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

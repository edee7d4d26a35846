// Package metrics exposes engine activity counters over Prometheus.
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/margin/pkg/margin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks engine activity in a dedicated Prometheus registry.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	// Ledger metrics
	deposits    prometheus.Counter
	withdrawals prometheus.Counter

	// Position metrics
	positionsOpened prometheus.Counter
	positionsClosed prometheus.Counter
	liquidations    prometheus.Counter

	// Order metrics
	ordersCreated   prometheus.Counter
	ordersCancelled prometheus.Counter
	ordersExecuted  prometheus.Counter

	// Event stream metrics
	eventsByType *prometheus.CounterVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// New creates engine metrics under the given namespace.
func New(namespace string, logger log.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		deposits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_total",
			Help:      "Total number of collateral deposits",
		}),

		withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Total number of collateral withdrawals",
		}),

		positionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_opened_total",
			Help:      "Total number of positions opened",
		}),

		positionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_closed_total",
			Help:      "Total number of positions closed by their owner",
		}),

		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Total number of positions liquidated",
		}),

		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Total number of limit orders created",
		}),

		ordersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Total number of limit orders cancelled",
		}),

		ordersExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_executed_total",
			Help:      "Total number of limit orders executed",
		}),

		eventsByType: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Engine events observed, by type",
		}, []string{"type"}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),

		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	registry.MustRegister(
		m.deposits,
		m.withdrawals,
		m.positionsOpened,
		m.positionsClosed,
		m.liquidations,
		m.ordersCreated,
		m.ordersCancelled,
		m.ordersExecuted,
		m.eventsByType,
		m.memoryUsage,
		m.goroutines,
	)

	return m
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the Prometheus metrics server
func (m *Metrics) StartServer(port string) error {
	m.logger.Info("Starting Prometheus metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()

	return nil
}

// Observe records one engine event into the counters.
func (m *Metrics) Observe(ev margin.Event) {
	m.eventsByType.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case margin.EventDeposit:
		m.deposits.Inc()
	case margin.EventWithdraw:
		m.withdrawals.Inc()
	case margin.EventOpenPosition:
		m.positionsOpened.Inc()
	case margin.EventClosePosition:
		m.positionsClosed.Inc()
	case margin.EventLiquidate:
		m.liquidations.Inc()
	case margin.EventCreateOrder:
		m.ordersCreated.Inc()
	case margin.EventCancelOrder:
		m.ordersCancelled.Inc()
	case margin.EventExecuteOrder:
		m.ordersExecuted.Inc()
	}
}

// CollectSystemMetrics samples runtime stats until the context ends.
func (m *Metrics) CollectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			m.memoryUsage.Set(float64(memStats.Alloc))
			m.goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}

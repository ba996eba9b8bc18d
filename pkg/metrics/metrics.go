// Package metrics экспортирует Prometheus метрики слоя управления сессией.
//
// Все методы Collector безопасны для nil, поэтому компоненты могут
// принимать *Collector без проверки, включены ли метрики.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arzzra/callcontrol/pkg/ccapi"
)

// Config конфигурация метрик
type Config struct {
	// Namespace префикс для Prometheus метрик
	Namespace string
	// Subsystem подсистема для Prometheus метрик
	Subsystem string
	// Registerer куда регистрировать метрики. nil означает prometheus.DefaultRegisterer
	Registerer prometheus.Registerer
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Namespace: "softphone",
		Subsystem: "callcontrol",
	}
}

// Collector собирает метрики сессии, диспетчера и движка.
type Collector struct {
	eventsDispatched *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	dispatchLatency  prometheus.Histogram
	operations       *prometheus.CounterVec
	callStates       *prometheus.CounterVec
	registration     prometheus.Gauge
	activeCalls      prometheus.Gauge
}

// New создает и регистрирует метрики.
func New(cfg Config) *Collector {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		eventsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "events_dispatched_total",
			Help:      "Events delivered to the observer",
		}, []string{"event"}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "events_dropped_total",
			Help:      "Events that never reached the observer",
		}, []string{"reason"}),
		dispatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "dispatch_latency_seconds",
			Help:      "Time from Dispatch to observer invocation",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "operations_total",
			Help:      "Session operations by result",
		}, []string{"operation", "result"}),
		callStates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "call_state_transitions_total",
			Help:      "Call state notifications received from the engine",
		}, []string{"state"}),
		registration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "connection_status",
			Help:      "Current connection status (0 idle, 1 registering, 2 ready, 3 failed)",
		}),
		activeCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "call_in_progress",
			Help:      "1 while a call is in progress",
		}),
	}
}

// EventDispatched учитывает доставленное событие.
func (c *Collector) EventDispatched(name string, latency time.Duration) {
	if c == nil {
		return
	}
	c.eventsDispatched.WithLabelValues(name).Inc()
	c.dispatchLatency.Observe(latency.Seconds())
}

// EventDropped учитывает потерянное событие.
func (c *Collector) EventDropped(reason string) {
	if c == nil {
		return
	}
	c.eventsDropped.WithLabelValues(reason).Inc()
}

// Operation учитывает результат операции сессии.
func (c *Collector) Operation(op string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.operations.WithLabelValues(op, result).Inc()
}

// CallState учитывает уведомление о состоянии вызова.
func (c *Collector) CallState(st ccapi.CallState) {
	if c == nil {
		return
	}
	c.callStates.WithLabelValues(st.String()).Inc()
}

// ConnectionStatus фиксирует текущий статус регистрации.
func (c *Collector) ConnectionStatus(st ccapi.ConnectionStatus) {
	if c == nil {
		return
	}
	c.registration.Set(float64(st))
}

// CallInProgress фиксирует признак активного вызова.
func (c *Collector) CallInProgress(active bool) {
	if c == nil {
		return
	}
	if active {
		c.activeCalls.Set(1)
	} else {
		c.activeCalls.Set(0)
	}
}

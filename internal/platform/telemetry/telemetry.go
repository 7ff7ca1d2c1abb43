// Package telemetry exposes Prometheus metrics for the HTTP server, the
// database pool and the hospital workflows.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hms"

// Provider owns a private registry so tests can create as many as they like.
type Provider struct {
	registry *prometheus.Registry

	activeRequests  prometheus.Gauge
	requestDuration *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec

	operations    *prometheus.CounterVec
	bookings      *prometheus.CounterVec
	billedTotal   prometheus.Counter
	stayDays      prometheus.Histogram
	occupiedRooms prometheus.Gauge
	dbPoolConns   *prometheus.GaugeVec
}

// NewProvider registers every collector, plus the Go runtime and process
// collectors when withRuntime is set.
func NewProvider(withRuntime bool) *Provider {
	p := &Provider{
		registry: prometheus.NewRegistry(),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "active_requests",
			Help: "Number of in-flight HTTP requests.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		responseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "response_size_bytes",
			Help:    "HTTP response size by route.",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		}, []string{"route"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "operations_total",
			Help: "Hospital workflow operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bookings_decided_total",
			Help: "Bookings moved out of PENDING, by final status.",
		}, []string{"status"}),
		billedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "billed_amount_total",
			Help: "Sum of invoice totals produced at discharge.",
		}),
		stayDays: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stay_days",
			Help:    "Billed length of stay at discharge.",
			Buckets: []float64{1, 2, 3, 5, 7, 14, 30, 60},
		}),
		occupiedRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms_occupied",
			Help: "Occupied rooms as of the last dashboard read.",
		}),
		dbPoolConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "db", Name: "pool_connections",
			Help: "Database pool connections by state.",
		}, []string{"state"}),
	}

	p.registry.MustRegister(
		p.activeRequests, p.requestDuration, p.responseSize,
		p.operations, p.bookings, p.billedTotal, p.stayDays,
		p.occupiedRooms, p.dbPoolConns,
	)
	if withRuntime {
		p.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return p
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

// Operation counts one workflow call. A nil err counts as "ok".
func (p *Provider) Operation(name string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.operations.WithLabelValues(name, outcome).Inc()
}

// BookingDecided counts a booking reaching status.
func (p *Provider) BookingDecided(status string) {
	p.bookings.WithLabelValues(status).Inc()
}

// Billed records a discharge invoice.
func (p *Provider) Billed(days int, total float64) {
	p.stayDays.Observe(float64(days))
	p.billedTotal.Add(total)
}

func (p *Provider) SetOccupiedRooms(n int) {
	p.occupiedRooms.Set(float64(n))
}

// SetDBPool records pool connection counts.
func (p *Provider) SetDBPool(total, idle, acquired int32) {
	p.dbPoolConns.WithLabelValues("total").Set(float64(total))
	p.dbPoolConns.WithLabelValues("idle").Set(float64(idle))
	p.dbPoolConns.WithLabelValues("acquired").Set(float64(acquired))
}

// MetricsMiddleware records HTTP server metrics keyed by route pattern.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.activeRequests.Inc()
			defer p.activeRequests.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo render the error so the recorded status is final.
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			p.requestDuration.WithLabelValues(c.Request().Method, route, status).Observe(time.Since(start).Seconds())
			if size := c.Response().Size; size > 0 {
				p.responseSize.WithLabelValues(route).Observe(float64(size))
			}
			return nil
		}
	}
}

// Handler serves the registry in Prometheus exposition format.
func (p *Provider) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry}))
}

package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "barterhub"

var (
	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	jobBuckets     = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}
)

// Prom holds every collector the api and worker export. All helper methods
// are safe on a nil *Prom so callers can run without metrics.
type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec

	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	JobDuration  *prometheus.HistogramVec
	JobResults   *prometheus.CounterVec
	JobsInFlight prometheus.Gauge

	TradeTransitions *prometheus.CounterVec
	FeedCacheLookups *prometheus.CounterVec
}

func counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func histogram(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal:    counter("", "http_requests_total", "HTTP requests by route and status.", "method", "route", "status"),
		RequestsDuration: histogram("", "http_request_duration_seconds", "HTTP latency by route and status.", latencyBuckets, "method", "route", "status"),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Requests currently being served.",
		}, []string{"method", "route"}),

		DbQueryDuration: histogram("db", "query_duration_seconds", "Store latency per logical operation.", latencyBuckets, "op", "status"),
		DbErrorsTotal:   counter("db", "errors_total", "Store failures per logical operation and class.", "op", "class"),

		// result is done, retry or failed
		JobDuration: histogram("jobs", "duration_seconds", "Job run time by type and result.", jobBuckets, "job_type", "result"),
		JobResults:  counter("jobs", "results_total", "Job outcomes by type and result.", "job_type", "result"),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Jobs executing in this process.",
		}),

		TradeTransitions: counter("trades", "transitions_total", "Trades entering each state.", "to"),
		FeedCacheLookups: counter("items", "feed_cache_lookups_total", "Feed cache reads by result.", "result"),
	}

	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.JobDuration, p.JobResults, p.JobsInFlight,
		p.TradeTransitions, p.FeedCacheLookups,
	)
	return p
}

// JobStarted bumps the in-flight gauge; call the returned func when the job ends.
func (p *Prom) JobStarted() func() {
	if p == nil {
		return func() {}
	}
	p.JobsInFlight.Inc()
	return p.JobsInFlight.Dec
}

func (p *Prom) ObserveJob(jobType, result string, d time.Duration) {
	if p == nil {
		return
	}
	p.JobResults.WithLabelValues(jobType, result).Inc()
	p.JobDuration.WithLabelValues(jobType, result).Observe(d.Seconds())
}

func (p *Prom) TradeTransition(to string) {
	if p == nil {
		return
	}
	p.TradeTransitions.WithLabelValues(to).Inc()
}

// FeedCacheResult records hit, miss or error for one feed read.
func (p *Prom) FeedCacheResult(result string) {
	if p == nil {
		return
	}
	p.FeedCacheLookups.WithLabelValues(result).Inc()
}

// HTTPMiddleware labels by route template so item and trade ids do not
// explode cardinality.
func (p *Prom) HTTPMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method

		inFlight := p.InFlight.WithLabelValues(method, route)
		inFlight.Inc()
		start := time.Now()

		ctx.Next()

		inFlight.Dec()
		status := strconv.Itoa(ctx.Writer.Status())
		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
	}
}

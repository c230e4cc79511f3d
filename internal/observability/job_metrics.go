package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// JobMetrics are the worker's in-process counters, served on /stats.
// Prometheus carries the same outcomes for scraping; these survive without it.
type JobMetrics struct {
	claimed atomic.Uint64
	retried atomic.Uint64

	mu     sync.Mutex
	byType map[string]*JobTypeCounts

	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

type JobTypeCounts struct {
	Done         uint64 `json:"done"`
	Failed       uint64 `json:"failed"`
	DeadLettered uint64 `json:"deadLettered"`
}

func NewJobMetrics() *JobMetrics {
	return &JobMetrics{byType: make(map[string]*JobTypeCounts)}
}

func (m *JobMetrics) IncClaimed() { m.claimed.Add(1) }
func (m *JobMetrics) IncRetried() { m.retried.Add(1) }

func (m *JobMetrics) IncDone(jobType string) {
	m.bump(jobType, func(c *JobTypeCounts) { c.Done++ })
}

func (m *JobMetrics) IncFailed(jobType string) {
	m.bump(jobType, func(c *JobTypeCounts) { c.Failed++ })
}

// IncDeadLettered counts jobs that will not be retried again.
func (m *JobMetrics) IncDeadLettered(jobType string) {
	m.bump(jobType, func(c *JobTypeCounts) { c.DeadLettered++ })
}

func (m *JobMetrics) bump(jobType string, fn func(c *JobTypeCounts)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byType[jobType]
	if !ok {
		c = &JobTypeCounts{}
		m.byType[jobType] = c
	}
	fn(c)
}

func (m *JobMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()
		if ns <= curr || m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type JobMetricsSnapshot struct {
	Claimed         uint64                   `json:"claimed"`
	Done            uint64                   `json:"done"`
	Failed          uint64                   `json:"failed"`
	Retried         uint64                   `json:"retried"`
	DeadLettered    uint64                   `json:"deadLettered"`
	DurationCount   uint64                   `json:"durationCount"`
	AverageDuration time.Duration            `json:"averageDurationNs"`
	MaxDuration     time.Duration            `json:"maxDurationNs"`
	ByType          map[string]JobTypeCounts `json:"byType"`
}

func (m *JobMetrics) Snapshot() JobMetricsSnapshot {
	s := JobMetricsSnapshot{
		Claimed:       m.claimed.Load(),
		Retried:       m.retried.Load(),
		DurationCount: m.durationCount.Load(),
		MaxDuration:   time.Duration(m.durationMax.Load()),
		ByType:        make(map[string]JobTypeCounts),
	}
	if s.DurationCount > 0 {
		s.AverageDuration = time.Duration(m.durationTotal.Load() / int64(s.DurationCount))
	}

	m.mu.Lock()
	for t, c := range m.byType {
		s.ByType[t] = *c
		s.Done += c.Done
		s.Failed += c.Failed
		s.DeadLettered += c.DeadLettered
	}
	m.mu.Unlock()

	return s
}

package sarfs

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event names recorded in Stats.Events.
const (
	EventBootstrap      = "bootstrap"
	EventCrcScan        = "crc_scan"
	EventPopulate       = "populate"
	EventPopulatedFiles = "populated_files"
	EventFetchSet       = "fetch_set"
	EventCrcMismatch    = "crc_mismatch"
	EventCommitFailure  = "commit_failure"
)

// NetworkStats summarizes HTTP activity.
type NetworkStats struct {
	RequestsIssued    uint64
	RequestsCompleted uint64
	Bytes             uint64
	Time              time.Duration
}

// Stats is a point-in-time snapshot of file system activity.
type Stats struct {
	// Events counts named occurrences, e.g. EventCrcMismatch.
	Events map[string]uint64

	// Timings accumulates time spent per event.
	Timings map[string]time.Duration

	Network NetworkStats

	VerifiedFiles   int
	TotalFiles      int
	MaxDownloadSize uint64
}

type metrics struct {
	requestsIssued    prometheus.Counter
	requestsCompleted prometheus.Counter
	bytes             prometheus.Counter
	seconds           prometheus.Counter
	events            *prometheus.CounterVec
	verifiedFiles     prometheus.Gauge
	remainingFiles    prometheus.Gauge
	maxDownloadSize   prometheus.Gauge
	fetchSetSeconds   prometheus.Histogram
}

func newMetrics() *metrics {
	const ns = "sarfs"
	return &metrics{
		requestsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "network_requests_issued_total",
			Help: "HTTP request attempts issued, including resends.",
		}),
		requestsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "network_requests_completed_total",
			Help: "HTTP request attempts that delivered a callback.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "network_bytes_total",
			Help: "Response body bytes received.",
		}),
		seconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "network_seconds_total",
			Help: "Wall time spent waiting on downloads.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "events_total",
			Help: "File system events by name.",
		}, []string{"event"}),
		verifiedFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "verified_files",
			Help: "Files whose CRC32 has been verified.",
		}),
		remainingFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "remaining_files",
			Help: "Files not yet verified.",
		}),
		maxDownloadSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "max_download_size_bytes",
			Help: "Current adaptive request size limit.",
		}),
		fetchSetSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "fetch_set_seconds",
			Help:    "Time to download and commit one contiguous fetch set.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsIssued, m.requestsCompleted, m.bytes, m.seconds, m.events,
		m.verifiedFiles, m.remainingFiles, m.maxDownloadSize, m.fetchSetSeconds,
	}
}

// statTracker records activity for Stats and mirrors it into Prometheus.
type statTracker struct {
	mu      sync.Mutex
	events  map[string]uint64
	timings map[string]time.Duration

	requestsIssued    atomic.Uint64
	requestsCompleted atomic.Uint64
	bytes             atomic.Uint64
	networkTime       atomic.Int64

	metrics *metrics
}

func newStatTracker(reg prometheus.Registerer) (*statTracker, error) {
	s := &statTracker{
		events:  make(map[string]uint64),
		timings: make(map[string]time.Duration),
		metrics: newMetrics(),
	}
	if reg != nil {
		for _, c := range s.metrics.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (s *statTracker) event(name string, n uint64) {
	s.mu.Lock()
	s.events[name] += n
	s.mu.Unlock()
	s.metrics.events.WithLabelValues(name).Add(float64(n))
}

func (s *statTracker) timing(name string, d time.Duration) {
	s.mu.Lock()
	s.events[name]++
	s.timings[name] += d
	s.mu.Unlock()
	s.metrics.events.WithLabelValues(name).Inc()
	if name == EventFetchSet {
		s.metrics.fetchSetSeconds.Observe(d.Seconds())
	}
}

func (s *statTracker) requestIssued() {
	s.requestsIssued.Add(1)
	s.metrics.requestsIssued.Inc()
}

func (s *statTracker) requestCompleted(bodySize int) {
	s.requestsCompleted.Add(1)
	s.metrics.requestsCompleted.Inc()
	if bodySize > 0 {
		s.bytes.Add(uint64(bodySize))
		s.metrics.bytes.Add(float64(bodySize))
	}
}

func (s *statTracker) networkWait(d time.Duration) {
	s.networkTime.Add(int64(d))
	s.metrics.seconds.Add(d.Seconds())
}

func (s *statTracker) progress(verified, total int, maxSize uint64) {
	s.metrics.verifiedFiles.Set(float64(verified))
	s.metrics.remainingFiles.Set(float64(total - verified))
	s.metrics.maxDownloadSize.Set(float64(maxSize))
}

func (s *statTracker) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Events:  maps.Clone(s.events),
		Timings: maps.Clone(s.timings),
		Network: NetworkStats{
			RequestsIssued:    s.requestsIssued.Load(),
			RequestsCompleted: s.requestsCompleted.Load(),
			Bytes:             s.bytes.Load(),
			Time:              time.Duration(s.networkTime.Load()),
		},
	}
}

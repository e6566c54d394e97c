// Package health samples the queue directories into point-in-time
// metrics, retains a bounded history, and derives health classification
// and backlog/trend signals from it.
package health

import (
	"log/slog"
	"sync"
	"time"

	"mention_bot/internal/queue"
)

// Status is the overall queue health classification.
type Status string

// Health states, ordered by severity.
const (
	StatusHealthy  Status = "HEALTHY"
	StatusDegraded Status = "DEGRADED"
	StatusCritical Status = "CRITICAL"
)

// Trend describes the direction of queue depth between the two most
// recent samples.
type Trend string

// Queue size trends. TrendUnknown is returned with fewer than two
// samples.
const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendUnknown    Trend = "unknown"
)

// Metrics is a point-in-time snapshot of the queue directories.
type Metrics struct {
	QueueSize      int
	ErrorSize      int
	NoReplySize    int
	TotalSize      int
	UniqueHandles  int
	ErrorRate      float64
	ProcessingRate float64
	Timestamp      time.Time
}

// Thresholds are the policy constants behind health classification and
// trend detection. They are configuration, not algorithm: tests override
// them rather than asserting the default cutoffs.
type Thresholds struct {
	// DegradedErrorRate is the error ratio above which the queue is
	// DEGRADED.
	DegradedErrorRate float64
	// CriticalErrorRate is the error ratio above which the queue is
	// CRITICAL.
	CriticalErrorRate float64
	// CriticalErrorCount is the absolute quarantine count at which the
	// queue is CRITICAL regardless of ratio.
	CriticalErrorCount int
	// TrendFraction is the relative change between consecutive samples
	// that counts as increasing/decreasing.
	TrendFraction float64
	// BacklogWindow is how many consecutive growing samples signal a
	// backlog.
	BacklogWindow int
}

// DefaultThresholds classify >50% quarantined (or a double-digit
// quarantine count) as CRITICAL and >20% as DEGRADED.
var DefaultThresholds = Thresholds{
	DegradedErrorRate:  0.2,
	CriticalErrorRate:  0.5,
	CriticalErrorCount: 10,
	TrendFraction:      0.1,
	BacklogWindow:      3,
}

const defaultMaxHistory = 100

// Monitor computes queue metrics and retains a bounded FIFO history of
// snapshots for trend analysis.
type Monitor struct {
	store      *queue.Store
	log        *slog.Logger
	thresholds Thresholds

	mu         sync.Mutex
	history    []Metrics
	maxHistory int
	gauges     *gauges
}

// NewMonitor creates a Monitor over the given store's directories with
// default thresholds and history depth.
func NewMonitor(store *queue.Store, log *slog.Logger) *Monitor {
	return &Monitor{
		store:      store,
		log:        log,
		thresholds: DefaultThresholds,
		maxHistory: defaultMaxHistory,
	}
}

// SetThresholds overrides the default health policy constants.
func (m *Monitor) SetThresholds(t Thresholds) {
	m.thresholds = t
}

// SetMaxHistory overrides the default history depth of 100 snapshots.
func (m *Monitor) SetMaxHistory(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxHistory = n
}

// Snapshot counts the files in each queue directory, computes the
// derived rates, appends the result to history, and returns it. Missing
// directories count as zero; malformed files count toward sizes but not
// toward unique handles.
func (m *Monitor) Snapshot() Metrics {
	metrics := Metrics{Timestamp: time.Now()}

	metrics.QueueSize = m.countFiles(queue.LocationPending)
	metrics.ErrorSize = m.countFiles(queue.LocationError)
	metrics.NoReplySize = m.countFiles(queue.LocationNoReply)
	metrics.TotalSize = metrics.QueueSize + metrics.ErrorSize + metrics.NoReplySize

	if metrics.TotalSize > 0 {
		metrics.ErrorRate = float64(metrics.ErrorSize) / float64(metrics.TotalSize)
	}
	metrics.UniqueHandles = m.countUniqueHandles()

	m.mu.Lock()
	if last, ok := m.latestLocked(); ok {
		metrics.ProcessingRate = processingRate(last, metrics)
	}
	m.history = append(m.history, metrics)
	if len(m.history) > m.maxHistory {
		m.history = m.history[1:]
	}
	g := m.gauges
	m.mu.Unlock()

	if g != nil {
		g.update(metrics)
	}
	return metrics
}

// Check takes a fresh snapshot and classifies overall queue health.
func (m *Monitor) Check() Status {
	metrics := m.Snapshot()
	t := m.thresholds

	switch {
	case metrics.ErrorRate > t.CriticalErrorRate:
		return StatusCritical
	case metrics.ErrorSize >= t.CriticalErrorCount && t.CriticalErrorCount > 0:
		return StatusCritical
	case metrics.ErrorRate > t.DegradedErrorRate:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// DetectBacklog reports whether the retained history shows queue depth
// growing across the last BacklogWindow samples: the consumer is
// falling behind the producer.
func (m *Monitor) DetectBacklog() bool {
	window := m.thresholds.BacklogWindow
	if window < 2 {
		window = 2
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) < window {
		return false
	}
	recent := m.history[len(m.history)-window:]
	for i := 1; i < len(recent); i++ {
		if recent[i].QueueSize <= recent[i-1].QueueSize {
			return false
		}
	}
	return true
}

// SizeTrend compares the two most recent snapshots' queue sizes.
func (m *Monitor) SizeTrend() Trend {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) < 2 {
		return TrendUnknown
	}

	recent := float64(m.history[len(m.history)-1].QueueSize)
	older := float64(m.history[len(m.history)-2].QueueSize)
	f := m.thresholds.TrendFraction

	switch {
	case recent > older*(1+f):
		return TrendIncreasing
	case recent < older*(1-f):
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// ProcessingRate returns the drain rate of the most recent snapshot, in
// notifications per minute. Zero until two snapshots exist.
func (m *Monitor) ProcessingRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return 0
	}
	return m.history[len(m.history)-1].ProcessingRate
}

// History returns a copy of the retained snapshots, oldest first.
func (m *Monitor) History() []Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Metrics, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Monitor) latestLocked() (Metrics, bool) {
	if len(m.history) == 0 {
		return Metrics{}, false
	}
	return m.history[len(m.history)-1], true
}

func (m *Monitor) countFiles(loc queue.Location) int {
	paths, err := m.store.List(loc)
	if err != nil {
		m.log.Warn("list queue directory for metrics", "location", loc.String(), "error", err)
		return 0
	}
	return len(paths)
}

func (m *Monitor) countUniqueHandles() int {
	paths, err := m.store.List(queue.LocationPending)
	if err != nil {
		return 0
	}

	handles := make(map[string]struct{})
	for _, path := range paths {
		n, err := m.store.Peek(path)
		if err != nil {
			// Malformed files are skipped, not fatal to the scan.
			continue
		}
		if h := n.Handle(); h != "" {
			handles[h] = struct{}{}
		}
	}
	return len(handles)
}

// processingRate estimates notifications drained per minute between two
// consecutive snapshots. Growth clamps to zero.
func processingRate(older, recent Metrics) float64 {
	minutes := recent.Timestamp.Sub(older.Timestamp).Minutes()
	if minutes <= 0 {
		return 0
	}
	drained := float64(older.TotalSize - recent.TotalSize)
	if drained < 0 {
		return 0
	}
	return drained / minutes
}

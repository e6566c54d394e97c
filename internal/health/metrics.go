package health

import "github.com/prometheus/client_golang/prometheus"

// gauges mirrors the latest snapshot into Prometheus.
type gauges struct {
	queueSize     prometheus.Gauge
	errorSize     prometheus.Gauge
	noReplySize   prometheus.Gauge
	totalSize     prometheus.Gauge
	errorRate     prometheus.Gauge
	uniqueHandles prometheus.Gauge
}

func newGauges() *gauges {
	return &gauges{
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mention_bot_queue_size",
			Help: "Number of notifications awaiting processing",
		}),
		errorSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mention_bot_queue_error_size",
			Help: "Number of quarantined notification files",
		}),
		noReplySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mention_bot_queue_no_reply_size",
			Help: "Number of notifications processed without a reply",
		}),
		totalSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mention_bot_queue_total_size",
			Help: "Total files across all queue directories",
		}),
		errorRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mention_bot_queue_error_rate",
			Help: "Quarantined files as a fraction of total files",
		}),
		uniqueHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mention_bot_queue_unique_handles",
			Help: "Distinct author handles in the pending queue",
		}),
	}
}

func (g *gauges) update(m Metrics) {
	g.queueSize.Set(float64(m.QueueSize))
	g.errorSize.Set(float64(m.ErrorSize))
	g.noReplySize.Set(float64(m.NoReplySize))
	g.totalSize.Set(float64(m.TotalSize))
	g.errorRate.Set(m.ErrorRate)
	g.uniqueHandles.Set(float64(m.UniqueHandles))
}

// Register creates the monitor's Prometheus gauges and registers them
// with reg. Gauges are refreshed on every Snapshot.
func (m *Monitor) Register(reg prometheus.Registerer) error {
	g := newGauges()
	for _, c := range []prometheus.Collector{
		g.queueSize, g.errorSize, g.noReplySize, g.totalSize, g.errorRate, g.uniqueHandles,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.gauges = g
	m.mu.Unlock()
	return nil
}

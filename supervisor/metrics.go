package supervisor

import "github.com/prometheus/client_golang/prometheus"

// collector pulls live values out of a Supervisor's Pipeline on every
// scrape, grounded on runZeroInc-sockstats/pkg/exporter.TCPInfoCollector's
// describe-once/collect-on-demand shape (no background sampling
// goroutine, no staleness window).
type collector struct {
	sup *Supervisor

	clients *prometheus.Desc
	drift   *prometheus.Desc
	chunks  *prometheus.Desc
	state   *prometheus.Desc
}

func newCollector(sup *Supervisor) *collector {
	return &collector{
		sup: sup,
		clients: prometheus.NewDesc(
			"acqd_connected_clients", "Number of currently connected broadcast clients.", nil, nil),
		drift: prometheus.NewDesc(
			"acqd_drift_estimate_samples", "Current jitter-ring drift estimate, in fractional samples.", nil, nil),
		chunks: prometheus.NewDesc(
			"acqd_chunks_shipped_total", "Total signal/stimulation chunk pairs shipped since the pipeline started.", nil, nil),
		state: prometheus.NewDesc(
			"acqd_pipeline_state", "Pipeline lifecycle state as a 0..3 enum (idle,connected,started,terminated).", nil, nil),
	}
}

func (c *collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.clients
	descs <- c.drift
	descs <- c.chunks
	descs <- c.state
}

func (c *collector) Collect(metrics chan<- prometheus.Metric) {
	p := c.sup.pipe
	metrics <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(p.ClientCount()))
	metrics <- prometheus.MustNewConstMetric(c.drift, prometheus.GaugeValue, p.DriftEstimate())
	metrics <- prometheus.MustNewConstMetric(c.chunks, prometheus.CounterValue, float64(p.ChunksShipped()))
	metrics <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(p.State()))
}

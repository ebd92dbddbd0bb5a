package node

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/torua-kv/internal/status"
)

// Metrics exports request and partition statistics of one node
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics registers the request metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "torua",
			Subsystem: "node",
			Name:      "requests_total",
			Help:      "Record requests served, by command and result code.",
		}, []string{"command", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "torua",
			Subsystem: "node",
			Name:      "request_duration_seconds",
			Help:      "Time spent serving record requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"command"}),
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

func (m *Metrics) observe(command string, code status.Code, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(command, code.String()).Inc()
	m.latency.WithLabelValues(command).Observe(d.Seconds())
}

var (
	partitionOpsDesc = prometheus.NewDesc(
		"torua_partition_operations_total",
		"Operations applied to a partition, by kind.",
		[]string{"node", "partition", "op"}, nil)
	partitionKeysDesc = prometheus.NewDesc(
		"torua_partition_records",
		"Records stored in a partition.",
		[]string{"node", "partition", "role"}, nil)
	partitionBytesDesc = prometheus.NewDesc(
		"torua_partition_bytes",
		"Encoded bytes stored in a partition.",
		[]string{"node", "partition"}, nil)
)

// Collector exposes per-partition statistics at scrape time
type Collector struct {
	node *Node
}

// NewCollector returns a collector over n's partitions
func NewCollector(n *Node) *Collector { return &Collector{node: n} }

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- partitionOpsDesc
	ch <- partitionKeysDesc
	ch <- partitionBytesDesc
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range c.node.Partitions() {
		pid := strconv.Itoa(int(p.ID))
		st := p.GetStats()
		for op, v := range map[string]uint64{
			"read":   st.Ops.Reads,
			"write":  st.Ops.Writes,
			"delete": st.Ops.Deletes,
			"error":  st.Ops.Errors,
		} {
			ch <- prometheus.MustNewConstMetric(partitionOpsDesc, prometheus.CounterValue, float64(v), c.node.ID, pid, op)
		}
		role := "replica"
		if p.IsPrimary() {
			role = "master"
		}
		ch <- prometheus.MustNewConstMetric(partitionKeysDesc, prometheus.GaugeValue, float64(st.Storage.Keys), c.node.ID, pid, role)
		ch <- prometheus.MustNewConstMetric(partitionBytesDesc, prometheus.GaugeValue, float64(st.Storage.Bytes), c.node.ID, pid)
	}
}

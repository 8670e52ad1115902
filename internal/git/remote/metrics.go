package remote

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects transfer statistics across all remotes of a repository.
// It implements prometheus.Collector and is registered by the embedding
// application.
type Metrics struct {
	operationsTotal *prometheus.CounterVec
	receivedBytes   prometheus.Gauge
	receivedObjects prometheus.Gauge
	indexedObjects  prometheus.Gauge
}

// NewMetrics creates the metrics for the remote subsystem.
func NewMetrics() *Metrics {
	return &Metrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grit_remote_operations_total",
				Help: "Counter of remote fetch and push operations by outcome",
			},
			[]string{"operation", "status"},
		),
		receivedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grit_remote_received_bytes",
			Help: "Bytes received during the most recent pack transfer",
		}),
		receivedObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grit_remote_received_objects",
			Help: "Objects received during the most recent pack transfer",
		}),
		indexedObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grit_remote_indexed_objects",
			Help: "Objects indexed during the most recent pack transfer",
		}),
	}
}

// Describe is used to describe Prometheus metrics.
func (m *Metrics) Describe(descs chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, descs)
}

// Collect is used to collect Prometheus metrics.
func (m *Metrics) Collect(metrics chan<- prometheus.Metric) {
	m.operationsTotal.Collect(metrics)
	m.receivedBytes.Collect(metrics)
	m.receivedObjects.Collect(metrics)
	m.indexedObjects.Collect(metrics)
}

func (m *Metrics) observeFetch(err error) {
	m.observeOperation("fetch", err)
}

func (m *Metrics) observePush(err error) {
	m.observeOperation("push", err)
}

func (m *Metrics) observeOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) observeTransfer(progress TransferProgress) {
	m.receivedBytes.Set(float64(progress.ReceivedBytes))
	m.receivedObjects.Set(float64(progress.ReceivedObjects))
	m.indexedObjects.Set(float64(progress.IndexedObjects))
}

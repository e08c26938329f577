package metrics

import (
	"github.com/itohio/goph/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "goph"

// Source provides a snapshot of the device counters.
type Source interface {
	Stats() protocol.Stats
}

// Collector exports device counters as Prometheus metrics.
type Collector struct {
	src Source

	packetsSent      *prometheus.Desc
	sendFailures     *prometheus.Desc
	readingsBuffered *prometheus.Desc
	dropped          *prometheus.Desc
	replays          *prometheus.Desc
	queueLength      *prometheus.Desc
	flashFailures    *prometheus.Desc
	storeFallbacks   *prometheus.Desc
	storeReclaims    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector reading from src.
func NewCollector(src Source) *Collector {
	return &Collector{
		src:              src,
		packetsSent:      desc("packets_sent_total", "Packets accepted by the transport."),
		sendFailures:     desc("send_failures_total", "Packets lost to permanent transport errors."),
		readingsBuffered: desc("readings_buffered_total", "Readings queued while the link was unavailable."),
		dropped:          desc("readings_dropped_total", "Readings discarded by the overflow policy."),
		replays:          desc("replays_completed_total", "Buffered replays delivered completely."),
		queueLength:      desc("queue_length", "Readings currently queued."),
		flashFailures:    desc("flash_failures_total", "Failed storage engine operations."),
		storeFallbacks:   desc("store_fallbacks_total", "Updates that needed a fallback write."),
		storeReclaims:    desc("store_reclaims_total", "Garbage collections run because the engine was full."),
	}
}

func desc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsSent
	ch <- c.sendFailures
	ch <- c.readingsBuffered
	ch <- c.dropped
	ch <- c.replays
	ch <- c.queueLength
	ch <- c.flashFailures
	ch <- c.storeFallbacks
	ch <- c.storeReclaims
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	ch <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(s.PacketsSent))
	ch <- prometheus.MustNewConstMetric(c.sendFailures, prometheus.CounterValue, float64(s.SendFailures))
	ch <- prometheus.MustNewConstMetric(c.readingsBuffered, prometheus.CounterValue, float64(s.ReadingsBuffered))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.replays, prometheus.CounterValue, float64(s.ReplaysCompleted))
	ch <- prometheus.MustNewConstMetric(c.queueLength, prometheus.GaugeValue, float64(s.QueueLength))
	ch <- prometheus.MustNewConstMetric(c.flashFailures, prometheus.CounterValue, float64(s.Store.Failures))
	ch <- prometheus.MustNewConstMetric(c.storeFallbacks, prometheus.CounterValue, float64(s.Store.Fallbacks))
	ch <- prometheus.MustNewConstMetric(c.storeReclaims, prometheus.CounterValue, float64(s.Store.Reclaims))
}

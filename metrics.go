package tnvme

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ehrlich-b/go-tnvme/internal/metrics"
)

// Metrics holds the harness counters of one session
type Metrics = metrics.Metrics

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot = metrics.Snapshot

// NewMetrics creates an empty counter set
func NewMetrics() *Metrics {
	return metrics.New()
}

const namespace = "tnvme"

type counterDesc struct {
	desc  *prometheus.Desc
	value func(metrics.Snapshot) uint64
}

// Collector exports a Metrics set to Prometheus. Counters are read at
// scrape time, so one collector follows the session for its lifetime.
type Collector struct {
	m        *Metrics
	counters []counterDesc

	metaOutstanding *prometheus.Desc
	metaHitRatio    *prometheus.Desc
	reapWait        *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector over m. Every series carries a session
// label so several sessions can share one registry.
func NewCollector(m *Metrics, sessionID string) *Collector {
	labels := prometheus.Labels{"session": sessionID}
	counter := func(name, help string, value func(metrics.Snapshot) uint64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels),
			value: value,
		}
	}

	return &Collector{
		m: m,
		counters: []counterDesc{
			counter("commands_sent_total", "Commands staged on a submission queue",
				func(s metrics.Snapshot) uint64 { return s.CommandsSent }),
			counter("send_errors_total", "Send requests refused by the driver",
				func(s metrics.Snapshot) uint64 { return s.SendErrors }),
			counter("doorbells_total", "Submission queue doorbell writes",
				func(s metrics.Snapshot) uint64 { return s.Doorbells }),
			counter("reap_inquiries_total", "Completion count inquiries",
				func(s metrics.Snapshot) uint64 { return s.ReapInquiries }),
			counter("completions_reaped_total", "Completion entries copied out",
				func(s metrics.Snapshot) uint64 { return s.CompletionsReaped }),
			counter("reap_timeouts_total", "Waits that ended short of the expected completions",
				func(s metrics.Snapshot) uint64 { return s.Timeouts }),
			counter("reap_over_reports_total", "Waits that saw more completions than expected",
				func(s metrics.Snapshot) uint64 { return s.OverReports }),
			counter("validation_failures_total", "Completion entries that failed their status check",
				func(s metrics.Snapshot) uint64 { return s.ValidationFailures }),
			counter("meta_reservations_total", "Metadata buffers handed out",
				func(s metrics.Snapshot) uint64 { return s.MetaReservations }),
			counter("meta_driver_allocs_total", "Metadata buffers allocated by the driver",
				func(s metrics.Snapshot) uint64 { return s.MetaDriverAllocs }),
			counter("meta_driver_frees_total", "Metadata buffers deleted from the driver",
				func(s metrics.Snapshot) uint64 { return s.MetaDriverFrees }),
			counter("state_changes_total", "Controller state transitions",
				func(s metrics.Snapshot) uint64 { return s.StateChanges }),
			counter("objects_freed_total", "Registry objects freed by controller disables",
				func(s metrics.Snapshot) uint64 { return s.ObjectsFreed }),
			counter("toxic_injections_total", "Raw values injected into staged commands",
				func(s metrics.Snapshot) uint64 { return s.ToxicInjections }),
		},
		metaOutstanding: prometheus.NewDesc(prometheus.BuildFQName(namespace, "meta", "outstanding"),
			"Metadata buffers currently reserved", nil, labels),
		metaHitRatio: prometheus.NewDesc(prometheus.BuildFQName(namespace, "meta", "reuse_ratio"),
			"Fraction of reservations served without the driver", nil, labels),
		reapWait: prometheus.NewDesc(prometheus.BuildFQName(namespace, "reap", "wait_seconds"),
			"Time spent waiting for completions", nil, labels),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	ch <- c.metaOutstanding
	ch <- c.metaHitRatio
	ch <- c.reapWait
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()

	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.value(snap)))
	}
	ch <- prometheus.MustNewConstMetric(c.metaOutstanding, prometheus.GaugeValue, float64(snap.MetaOutstanding))
	ch <- prometheus.MustNewConstMetric(c.metaHitRatio, prometheus.GaugeValue, snap.MetaHitRatio)

	// Wait buckets are cumulative, as Prometheus expects
	buckets := make(map[float64]uint64, len(metrics.WaitBuckets))
	for i, ns := range metrics.WaitBuckets {
		buckets[float64(ns)/1e9] = snap.WaitHistogram[i]
	}
	sum := float64(c.m.TotalWaitNs.Load()) / 1e9
	ch <- prometheus.MustNewConstHistogram(c.reapWait, c.m.WaitCount.Load(), sum, buckets)
}

// WriteMetricsFile writes m in the Prometheus text format to path, for
// node_exporter's textfile collector
func WriteMetricsFile(path string, m *Metrics, sessionID string) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(m, sessionID)); err != nil {
		return WrapError("METRICS_FILE", err)
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return WrapError("METRICS_FILE", err)
	}
	return nil
}

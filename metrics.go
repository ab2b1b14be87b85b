package lanebus

// Metrics exporters for lane delivery statistics.
//
// Both exporters are pull-based: they read the dispatcher's Stats() snapshot
// on scrape or on an interval, so the publish path carries no extra
// instrumentation.

import (
	"context"
	"fmt"
	"strconv"
	"time"

	statsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	errNilStatsSource  = fmt.Errorf("lanebus: nil stats source supplied")
	errInvalidInterval = fmt.Errorf("lanebus: interval must be > 0")
)

// StatsSource is anything exposing per-lane counters. Both dispatcher
// variants satisfy it.
type StatsSource interface {
	Stats() []LaneStats
}

// PrometheusCollector implements prometheus.Collector over a StatsSource.
// It exposes:
//
//	<ns>_tasks_executed_total{lane="<i>"}
//	<ns>_tasks_dropped_total{lane="<i>"}
//	<ns>_task_panics_total{lane="<i>"}
//	<ns>_queue_depth{lane="<i>"}
//
// plus an aggregate pseudo-lane lane="_all". Counters are generated as
// ConstMetrics on scrape.
type PrometheusCollector struct {
	source StatsSource

	executedDesc *prometheus.Desc
	droppedDesc  *prometheus.Desc
	panicsDesc   *prometheus.Desc
	depthDesc    *prometheus.Desc
}

// NewPrometheusCollector creates a collector for the given stats source.
// namespace is the metric prefix (default if empty: lanebus).
func NewPrometheusCollector(source StatsSource, namespace string) (*PrometheusCollector, error) {
	if source == nil {
		return nil, errNilStatsSource
	}
	if namespace == "" {
		namespace = "lanebus"
	}
	return &PrometheusCollector{
		source: source,
		executedDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_tasks_executed_total", namespace),
			"Total tasks executed (cumulative)",
			[]string{"lane"}, nil,
		),
		droppedDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_tasks_dropped_total", namespace),
			"Total tasks dropped by queue overflow (cumulative)",
			[]string{"lane"}, nil,
		),
		panicsDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_task_panics_total", namespace),
			"Total recovered task panics (cumulative)",
			[]string{"lane"}, nil,
		),
		depthDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_queue_depth", namespace),
			"Tasks currently pending per lane",
			[]string{"lane"}, nil,
		),
	}, nil
}

// Describe sends metric descriptors.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.executedDesc
	ch <- c.droppedDesc
	ch <- c.panicsDesc
	ch <- c.depthDesc
}

// Collect gathers current stats and emits ConstMetrics.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	var totalExecuted, totalDropped, totalPanics uint64
	var totalDepth int
	for _, s := range c.source.Stats() {
		lane := strconv.Itoa(s.Lane)
		ch <- prometheus.MustNewConstMetric(c.executedDesc, prometheus.CounterValue, float64(s.Executed), lane)
		ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(s.Dropped), lane)
		ch <- prometheus.MustNewConstMetric(c.panicsDesc, prometheus.CounterValue, float64(s.Panics), lane)
		ch <- prometheus.MustNewConstMetric(c.depthDesc, prometheus.GaugeValue, float64(s.Pending), lane)
		totalExecuted += s.Executed
		totalDropped += s.Dropped
		totalPanics += s.Panics
		totalDepth += s.Pending
	}
	ch <- prometheus.MustNewConstMetric(c.executedDesc, prometheus.CounterValue, float64(totalExecuted), "_all")
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(totalDropped), "_all")
	ch <- prometheus.MustNewConstMetric(c.panicsDesc, prometheus.CounterValue, float64(totalPanics), "_all")
	ch <- prometheus.MustNewConstMetric(c.depthDesc, prometheus.GaugeValue, float64(totalDepth), "_all")
}

// DatadogStatsdExporter periodically flushes lane counters as monotonic
// gauges to DogStatsD / StatsD compatible endpoints.
type DatadogStatsdExporter struct {
	source   StatsSource
	client   *statsd.Client
	interval time.Duration
	baseTags []string
}

// NewDatadogStatsdExporter creates a new exporter. addr example:
// "127.0.0.1:8125". prefix defaults to "lanebus" if empty; interval must be
// positive.
func NewDatadogStatsdExporter(source StatsSource, prefix, addr string, interval time.Duration, baseTags []string) (*DatadogStatsdExporter, error) {
	if source == nil {
		return nil, errNilStatsSource
	}
	if interval <= 0 {
		return nil, errInvalidInterval
	}
	if prefix == "" {
		prefix = "lanebus"
	}
	client, err := statsd.New(addr, statsd.WithNamespace(prefix+"."))
	if err != nil {
		return nil, fmt.Errorf("lanebus: creating statsd client: %w", err)
	}
	return &DatadogStatsdExporter{
		source:   source,
		client:   client,
		interval: interval,
		baseTags: baseTags,
	}, nil
}

// Run starts the export loop until context cancellation.
func (e *DatadogStatsdExporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.flush()
		}
	}
}

func (e *DatadogStatsdExporter) flush() {
	for _, s := range e.source.Stats() {
		tags := append(e.baseTags, "lane:"+strconv.Itoa(s.Lane))
		_ = e.client.Gauge("tasks_executed_total", float64(s.Executed), tags, 1)
		_ = e.client.Gauge("tasks_dropped_total", float64(s.Dropped), tags, 1)
		_ = e.client.Gauge("task_panics_total", float64(s.Panics), tags, 1)
		_ = e.client.Gauge("queue_depth", float64(s.Pending), tags, 1)
	}
}

// Close closes the underlying statsd client.
func (e *DatadogStatsdExporter) Close() error {
	if e == nil || e.client == nil {
		return nil
	}
	if err := e.client.Close(); err != nil {
		return fmt.Errorf("lanebus: closing statsd client: %w", err)
	}
	return nil
}

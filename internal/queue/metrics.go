package queue

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricNamespace = "privscan"
	collectTimeout  = 2 * time.Second
)

// QueueRef names a queue together with its dead-letter store.
type QueueRef struct {
	Name string
	Dead string
}

// Collector exports queue depth gauges, read from the broker on every
// scrape.
type Collector struct {
	broker  Broker
	queues  []QueueRef
	waiting *prometheus.Desc
	active  *prometheus.Desc
	failed  *prometheus.Desc
	dead    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for queues. Without queues it reports
// DefaultQueue and DefaultDeadQueue.
func NewCollector(broker Broker, queues ...QueueRef) *Collector {
	if len(queues) == 0 {
		queues = []QueueRef{{Name: DefaultQueue, Dead: DefaultDeadQueue}}
	}
	labels := []string{"queue"}
	return &Collector{
		broker: broker,
		queues: queues,
		waiting: prometheus.NewDesc(prometheus.BuildFQName(metricNamespace, "queue", "jobs_waiting"),
			"Jobs ready to be claimed.", labels, nil),
		active: prometheus.NewDesc(prometheus.BuildFQName(metricNamespace, "queue", "jobs_active"),
			"Jobs claimed by a worker.", labels, nil),
		failed: prometheus.NewDesc(prometheus.BuildFQName(metricNamespace, "queue", "jobs_failed"),
			"Jobs waiting for a retry.", labels, nil),
		dead: prometheus.NewDesc(prometheus.BuildFQName(metricNamespace, "queue", "jobs_dead"),
			"Jobs in the dead-letter store.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.waiting
	ch <- c.active
	ch <- c.failed
	ch <- c.dead
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	for _, q := range c.queues {
		m, err := c.broker.Metrics(ctx, q.Name)
		if err != nil {
			ch <- prometheus.NewInvalidMetric(c.waiting, err)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(m.Waiting), q.Name)
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(m.Active), q.Name)
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.GaugeValue, float64(m.Failed), q.Name)

		if q.Dead == "" {
			continue
		}
		n, err := c.broker.DeadCount(ctx, q.Dead)
		if err != nil {
			ch <- prometheus.NewInvalidMetric(c.dead, err)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.dead, prometheus.GaugeValue, float64(n), q.Name)
	}
}

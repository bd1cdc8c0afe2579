// Package metrics exports notification activity in Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nudgebot/internal/eventbus"
	"nudgebot/internal/notify"
)

const namespace = "nudgebot"

// Sources are read at scrape time. Nil funcs are skipped.
type Sources struct {
	Counts  func() map[notify.Category]int
	Pending func() int
	Dropped func() uint64
}

// Collector turns notification.* bus events into counters and exposes the
// engine's daily counts as gauges.
type Collector struct {
	registry *prometheus.Registry

	outcomes  *prometheus.CounterVec
	cancelled *prometheus.CounterVec
	failures  *prometheus.CounterVec
	responses *prometheus.CounterVec
}

func New(src Sources) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg}

	c.outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "decisions_total",
			Help:      "Notification requests by category, outcome and source",
		},
		[]string{"category", "outcome", "source"},
	)
	c.cancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "cancelled_total",
			Help:      "Scheduled notifications removed before delivery",
		},
		[]string{"category", "reason"},
	)
	c.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "failures_total",
			Help:      "Deliveries that failed in the delivery subsystem",
		},
		[]string{"category"},
	)
	c.responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "responses_total",
			Help:      "User responses to delivered notifications",
		},
		[]string{"category", "responded"},
	)
	reg.MustRegister(c.outcomes, c.cancelled, c.failures, c.responses)

	if src.Counts != nil {
		reg.MustRegister(&dailyCounts{
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "notifications", "delivered_today"),
				"Deliveries counted against today's per-category quota",
				[]string{"category"}, nil,
			),
			counts: src.Counts,
		})
	}
	if src.Pending != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "scheduled",
			Help:      "Future-dated notifications currently held by the engine",
		}, func() float64 { return float64(src.Pending()) }))
	}
	if src.Dropped != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber was full",
		}, func() float64 { return float64(src.Dropped()) }))
	}
	reg.MustRegister(collectors.NewGoCollector())
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Observe accounts for one bus event. Non-notification events are ignored.
func (c *Collector) Observe(ev eventbus.Event) {
	data, ok := ev.Data.(notify.Event)
	if !ok {
		return
	}
	cat := string(data.Category)
	switch ev.Type {
	case notify.TopicScheduled, notify.TopicDelivered, notify.TopicRejected:
		c.outcomes.WithLabelValues(cat, string(data.Outcome), data.Source).Inc()
	case notify.TopicFailed:
		c.outcomes.WithLabelValues(cat, string(notify.OutcomeFailed), data.Source).Inc()
		c.failures.WithLabelValues(cat).Inc()
	case notify.TopicCancelled:
		c.cancelled.WithLabelValues(cat, data.Reason).Inc()
	case notify.TopicResponse:
		c.responses.WithLabelValues(cat, strconv.FormatBool(data.Responded)).Inc()
	}
}

// Run observes events until ctx is done or the channel closes.
func (c *Collector) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}

type dailyCounts struct {
	desc   *prometheus.Desc
	counts func() map[notify.Category]int
}

func (d *dailyCounts) Describe(ch chan<- *prometheus.Desc) { ch <- d.desc }

func (d *dailyCounts) Collect(ch chan<- prometheus.Metric) {
	counts := d.counts()
	for _, cat := range notify.Categories {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.GaugeValue, float64(counts[cat]), string(cat))
	}
}

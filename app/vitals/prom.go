package vitals

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromCollector exports collector snapshots as prometheus metrics, evaluated on every scrape
type PromCollector struct {
	snap func() Snapshot

	value     *prometheus.Desc
	rating    *prometheus.Desc
	longTasks *prometheus.Desc
	longest   *prometheus.Desc
	active    *prometheus.Desc
}

// NewPromCollector makes a prometheus collector on top of the vitals collector
func NewPromCollector(c *Collector) *PromCollector {
	return &PromCollector{
		snap: c.Snapshot,
		value: prometheus.NewDesc("hypercart_web_vital_value", "current web vital value, ms or unitless for CLS",
			[]string{"metric"}, nil),
		rating: prometheus.NewDesc("hypercart_web_vital_rating", "web vital rating, 1 for the current rating",
			[]string{"metric", "rating"}, nil),
		longTasks: prometheus.NewDesc("hypercart_long_tasks", "number of observed long tasks over 50ms", nil, nil),
		longest:   prometheus.NewDesc("hypercart_longest_task_ms", "duration of the longest observed task", nil, nil),
		active:    prometheus.NewDesc("hypercart_collector_active", "1 if the vitals collector is attached", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (p *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.value
	ch <- p.rating
	ch <- p.longTasks
	ch <- p.longest
	ch <- p.active
}

// Collect implements prometheus.Collector
func (p *PromCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.snap()
	for _, name := range Metrics {
		m, ok := s.Metric(name)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(p.value, prometheus.GaugeValue, m.Value, string(name))
		for _, r := range []Rating{Good, NeedsImprovement, Poor} {
			v := 0.0
			if m.Rating == r {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(p.rating, prometheus.GaugeValue, v, string(name), string(r))
		}
	}
	ch <- prometheus.MustNewConstMetric(p.longTasks, prometheus.GaugeValue, float64(len(s.LongTasks)))
	longest := 0.0
	if len(s.LongTasks) > 0 {
		longest = s.LongTasks[0].Duration
	}
	ch <- prometheus.MustNewConstMetric(p.longest, prometheus.GaugeValue, longest)
	active := 0.0
	if s.Active {
		active = 1
	}
	ch <- prometheus.MustNewConstMetric(p.active, prometheus.GaugeValue, active)
}

package vitals

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
)

const (
	longTaskThreshold = 50 // ms
	maxResources      = 20
)

// Metric is the aggregated state of a single web vital
type Metric struct {
	Name    MetricName `json:"name"`
	Value   float64    `json:"value"`
	Rating  Rating     `json:"rating"`
	Display string     `json:"display"`
	Delta   float64    `json:"delta"`
	Entries []Entry    `json:"entries,omitempty"`
}

// Resource is a resource timing row
type Resource struct {
	Name          string  `json:"name"`
	Duration      float64 `json:"duration"`
	Size          int64   `json:"size"`
	InitiatorType string  `json:"type"`
}

// Phase is a navigation timing breakdown row, Display is N/A for non-positive values
type Phase struct {
	Label   string  `json:"label"`
	Value   float64 `json:"value"`
	Display string  `json:"display"`
}

// Snapshot is the collector state at inspection time
type Snapshot struct {
	Active     bool                  `json:"active"`
	TakenAt    time.Time             `json:"taken_at"`
	Metrics    map[MetricName]Metric `json:"metrics"`
	LongTasks  []Entry               `json:"long_tasks"`
	Resources  []Resource            `json:"resources"`
	Navigation []Phase               `json:"navigation,omitempty"`
}

// Metric returns the metric and true if it has been observed
func (s Snapshot) Metric(name MetricName) (Metric, bool) {
	m, ok := s.Metrics[name]
	return m, ok
}

// Collector aggregates observed entries into metrics. Start attaches it to the source and resets
// the state, Stop detaches it. Callbacks of a previous attachment are discarded.
type Collector struct {
	src Source

	mu         sync.Mutex
	gen        uint64
	active     bool
	subs       []Subscription
	metrics    map[MetricName]*Metric
	longTasks  []Entry
	resources  []Resource
	navigation *Entry
}

// NewCollector makes a detached collector for the source
func NewCollector(src Source) *Collector {
	return &Collector{src: src, metrics: map[MetricName]*Metric{}}
}

// streamed entry types and whether they are observed with buffered delivery
var streamed = []ObserveOptions{
	{Type: TypeLCP},
	{Type: TypeFirstInput},
	{Type: TypeLayout},
	{Type: TypePaint},
	{Type: TypeLongTask},
	{Type: TypeEvent, Buffered: true},
}

// Start resets the state and attaches subscriptions. Unsupported entry types are skipped.
// Navigation and resource timing are read once here.
func (c *Collector) Start() {
	c.Stop()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.active = true
	c.metrics = map[MetricName]*Metric{}
	c.longTasks = []Entry{}
	c.navigation = nil
	c.resources = nil
	c.mu.Unlock()

	subs := []Subscription{}
	for _, opts := range streamed {
		sub, err := c.src.Observe(opts, func(entries []Entry) { c.handle(gen, entries) })
		if err != nil {
			if errors.Is(err, ErrUnsupported) {
				log.Printf("[DEBUG] skip %s observation, %v", opts.Type, err)
				continue
			}
			log.Printf("[WARN] can't observe %s, %v", opts.Type, err)
			continue
		}
		subs = append(subs, sub)
	}

	navs := c.src.EntriesByType(TypeNavigation)
	res := c.src.EntriesByType(TypeResource)

	c.mu.Lock()
	if c.gen != gen { // stopped or restarted concurrently
		c.mu.Unlock()
		for _, s := range subs {
			s.Disconnect()
		}
		return
	}
	c.subs = subs
	if len(navs) > 0 {
		nav := navs[len(navs)-1] // latest page load
		c.navigation = &nav
		c.update(TTFB, nav.ResponseStart-nav.RequestStart, nil)
	}
	c.resources = topResources(res)
	c.mu.Unlock()
	log.Printf("[DEBUG] vitals collector started, %d subscriptions", len(subs))
}

// Stop detaches all subscriptions, the state is kept frozen until the next Start
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.gen++
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		s.Disconnect()
	}
	log.Printf("[DEBUG] vitals collector stopped")
}

// Active reports whether the collector is attached
func (c *Collector) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Collector) handle(gen uint64, entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.active {
		return
	}

	inpMax, inpEntry := 0.0, Entry{}
	for _, e := range entries {
		switch e.EntryType {
		case TypeLCP:
			c.update(LCP, e.StartTime, []Entry{e})
		case TypeFirstInput:
			c.update(FID, e.ProcessingStart-e.StartTime, []Entry{e})
		case TypeLayout:
			if e.HadRecentInput {
				continue
			}
			c.accumulateCLS(e)
		case TypePaint:
			if e.Name == "first-contentful-paint" {
				c.update(FCP, e.StartTime, []Entry{e})
			}
		case TypeLongTask:
			c.longTasks = append(c.longTasks, e)
		case TypeEvent:
			if e.Duration > inpMax {
				inpMax, inpEntry = e.Duration, e
			}
		}
	}
	if inpMax > 0 {
		if prev, ok := c.metrics[INP]; !ok || inpMax > prev.Value {
			c.update(INP, inpMax, []Entry{inpEntry})
		}
	}
}

// update replaces a point metric, caller holds the lock
func (c *Collector) update(name MetricName, value float64, entries []Entry) {
	prev := 0.0
	if m, ok := c.metrics[name]; ok {
		prev = m.Value
	}
	c.metrics[name] = &Metric{Name: name, Value: value, Rating: Rate(name, value), Display: Format(name, value),
		Delta: value - prev, Entries: entries}
}

func (c *Collector) accumulateCLS(e Entry) {
	m, ok := c.metrics[CLS]
	if !ok {
		m = &Metric{Name: CLS}
		c.metrics[CLS] = m
	}
	m.Value += e.Value
	m.Delta = e.Value
	m.Rating = Rate(CLS, m.Value)
	m.Display = Format(CLS, m.Value)
	m.Entries = append(m.Entries, e)
}

// Snapshot returns a copy of the current state with derived long tasks, resources and navigation
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := Snapshot{
		Active:    c.active,
		TakenAt:   time.Now(),
		Metrics:   make(map[MetricName]Metric, len(c.metrics)),
		LongTasks: []Entry{},
		Resources: append([]Resource{}, c.resources...),
	}
	for k, m := range c.metrics {
		cp := *m
		cp.Entries = append([]Entry{}, m.Entries...)
		res.Metrics[k] = cp
	}
	for _, e := range c.longTasks {
		if e.Duration > longTaskThreshold {
			res.LongTasks = append(res.LongTasks, e)
		}
	}
	sort.SliceStable(res.LongTasks, func(i, j int) bool { return res.LongTasks[i].Duration > res.LongTasks[j].Duration })
	if c.navigation != nil {
		res.Navigation = Breakdown(*c.navigation)
	}
	return res
}

// Breakdown splits a navigation entry into load phases
func Breakdown(nav Entry) []Phase {
	phases := []Phase{
		{Label: "DNS Lookup", Value: nav.DomainLookupEnd - nav.DomainLookupStart},
		{Label: "TCP Connection", Value: nav.ConnectEnd - nav.ConnectStart},
		{Label: "Request Time", Value: nav.ResponseStart - nav.RequestStart},
		{Label: "Response Time", Value: nav.ResponseEnd - nav.ResponseStart},
		{Label: "DOM Processing", Value: nav.DomContentLoadedEventEnd - nav.ResponseEnd},
		{Label: "Load Complete", Value: nav.LoadEventEnd - nav.LoadEventStart},
	}
	for i := range phases {
		phases[i].Display = "N/A"
		if phases[i].Value > 0 {
			phases[i].Display = fmt.Sprintf("%.2fms", phases[i].Value)
		}
	}
	return phases
}

func topResources(entries []Entry) []Resource {
	res := make([]Resource, 0, len(entries))
	for _, e := range entries {
		name := e.Name
		if idx := strings.LastIndex(name, "/"); idx >= 0 && idx < len(name)-1 {
			name = name[idx+1:]
		}
		res = append(res, Resource{Name: name, Duration: e.Duration, Size: e.TransferSize, InitiatorType: e.InitiatorType})
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Duration > res[j].Duration })
	if len(res) > maxResources {
		res = res[:maxResources]
	}
	return res
}

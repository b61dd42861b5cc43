package vitals

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_CLS(t *testing.T) {
	tl := NewTimeline()
	c := NewCollector(tl)
	c.Start()
	defer c.Stop()

	tl.Record(
		Entry{EntryType: TypeLayout, Value: 0.05},
		Entry{EntryType: TypeLayout, Value: 0.5, HadRecentInput: true},
	)
	tl.Record(Entry{EntryType: TypeLayout, Value: 0.08})

	m, ok := c.Snapshot().Metric(CLS)
	require.True(t, ok)
	assert.InDelta(t, 0.13, m.Value, 1e-9)
	assert.InDelta(t, 0.08, m.Delta, 1e-9)
	assert.Equal(t, NeedsImprovement, m.Rating)
	assert.Equal(t, "0.130", m.Display)
	assert.Len(t, m.Entries, 2, "input-driven shift excluded")
}

func TestCollector_CLSGoodBand(t *testing.T) {
	tl := NewTimeline()
	c := NewCollector(tl)
	c.Start()
	defer c.Stop()

	tl.Record(Entry{EntryType: TypeLayout, Value: 0.05}, Entry{EntryType: TypeLayout, Value: 0.03},
		Entry{EntryType: TypeLayout, Value: 0.5, HadRecentInput: true})
	m, ok := c.Snapshot().Metric(CLS)
	require.True(t, ok)
	assert.InDelta(t, 0.08, m.Value, 1e-9)
	assert.Equal(t, Good, m.Rating)
}

func TestCollector_PointMetrics(t *testing.T) {
	tl := NewTimeline()
	c := NewCollector(tl)
	c.Start()
	defer c.Stop()

	snap := c.Snapshot()
	assert.True(t, snap.Active)
	assert.Empty(t, snap.Metrics, "nothing observed yet")

	tl.Record(Entry{EntryType: TypeLCP, StartTime: 2400})
	m, _ := c.Snapshot().Metric(LCP)
	assert.Equal(t, Good, m.Rating)
	assert.InDelta(t, 2400, m.Delta, 1e-9)

	tl.Record(Entry{EntryType: TypeLCP, StartTime: 5000})
	m, _ = c.Snapshot().Metric(LCP)
	assert.InDelta(t, 5000, m.Value, 1e-9)
	assert.InDelta(t, 2600, m.Delta, 1e-9)
	assert.Equal(t, Poor, m.Rating)
	assert.Equal(t, "5.00s", m.Display)
	assert.Len(t, m.Entries, 1)

	tl.Record(Entry{EntryType: TypeFirstInput, StartTime: 1000, ProcessingStart: 1150})
	m, _ = c.Snapshot().Metric(FID)
	assert.InDelta(t, 150, m.Value, 1e-9)
	assert.Equal(t, NeedsImprovement, m.Rating)

	tl.Record(Entry{EntryType: TypePaint, Name: "first-paint", StartTime: 100})
	_, ok := c.Snapshot().Metric(FCP)
	assert.False(t, ok, "first-paint is not FCP")
	tl.Record(Entry{EntryType: TypePaint, Name: "first-contentful-paint", StartTime: 1200})
	m, ok = c.Snapshot().Metric(FCP)
	require.True(t, ok)
	assert.InDelta(t, 1200, m.Value, 1e-9)
	assert.Equal(t, Good, m.Rating)
}

func TestCollector_INP(t *testing.T) {
	tl := NewTimeline()
	tl.Record(Entry{EntryType: TypeEvent, Name: "click", Duration: 120}) // before start, observed buffered
	c := NewCollector(tl)
	c.Start()
	defer c.Stop()

	m, ok := c.Snapshot().Metric(INP)
	require.True(t, ok)
	assert.InDelta(t, 120, m.Value, 1e-9)

	tl.Record(Entry{EntryType: TypeEvent, Name: "keydown", Duration: 80}, Entry{EntryType: TypeEvent, Name: "click", Duration: 260})
	m, _ = c.Snapshot().Metric(INP)
	assert.InDelta(t, 260, m.Value, 1e-9)
	assert.Equal(t, NeedsImprovement, m.Rating)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "click", m.Entries[0].Name)

	tl.Record(Entry{EntryType: TypeEvent, Duration: 90})
	m, _ = c.Snapshot().Metric(INP)
	assert.InDelta(t, 260, m.Value, 1e-9, "running maximum")

	tl.Record(Entry{EntryType: TypeEvent, Duration: 0})
	m, _ = c.Snapshot().Metric(INP)
	assert.InDelta(t, 260, m.Value, 1e-9)
}

func TestCollector_NavigationAndResources(t *testing.T) {
	tl := NewTimeline()
	tl.Record(Entry{EntryType: TypeNavigation, Name: "http://localhost/", RequestStart: 20, ResponseStart: 920,
		DomainLookupStart: 1, DomainLookupEnd: 5, ConnectStart: 5, ConnectEnd: 5, ResponseEnd: 1000,
		DomContentLoadedEventEnd: 1500, LoadEventStart: 1600, LoadEventEnd: 1610.5})
	for i := 0; i < 25; i++ {
		tl.Record(Entry{EntryType: TypeResource, Name: fmt.Sprintf("http://localhost/static/file-%02d.js", i),
			Duration: float64(i * 10), TransferSize: int64(i * 100), InitiatorType: "script"})
	}
	tl.Record(Entry{EntryType: TypeResource, Name: "http://localhost/", Duration: 1000, InitiatorType: "fetch"})

	c := NewCollector(tl)
	c.Start()
	defer c.Stop()

	// resources recorded after activation are not picked up
	tl.Record(Entry{EntryType: TypeResource, Name: "late.js", Duration: 5000})

	snap := c.Snapshot()
	m, ok := snap.Metric(TTFB)
	require.True(t, ok)
	assert.InDelta(t, 900, m.Value, 1e-9)
	assert.Equal(t, NeedsImprovement, m.Rating)

	require.Len(t, snap.Resources, 20)
	assert.Equal(t, Resource{Name: "http://localhost/", Duration: 1000, InitiatorType: "fetch"}, snap.Resources[0])
	assert.Equal(t, Resource{Name: "file-24.js", Duration: 240, Size: 2400, InitiatorType: "script"}, snap.Resources[1])
	assert.Equal(t, "file-06.js", snap.Resources[19].Name)

	require.Len(t, snap.Navigation, 6)
	assert.Equal(t, Phase{Label: "DNS Lookup", Value: 4, Display: "4.00ms"}, snap.Navigation[0])
	assert.Equal(t, Phase{Label: "TCP Connection", Value: 0, Display: "N/A"}, snap.Navigation[1])
	assert.Equal(t, "900.00ms", snap.Navigation[2].Display)
	assert.Equal(t, "80.00ms", snap.Navigation[3].Display)
	assert.Equal(t, "500.00ms", snap.Navigation[4].Display)
	assert.Equal(t, "Load Complete", snap.Navigation[5].Label)
	assert.Equal(t, "10.50ms", snap.Navigation[5].Display)
}

func TestCollector_LatestNavigation(t *testing.T) {
	tl := NewTimeline()
	tl.Record(Entry{EntryType: TypeNavigation, Name: "http://localhost/", RequestStart: 10, ResponseStart: 2010})
	tl.Record(Entry{EntryType: TypeNavigation, Name: "http://localhost/dashboard", RequestStart: 10, ResponseStart: 110})

	c := NewCollector(tl)
	c.Start()
	defer c.Stop()
	m, ok := c.Snapshot().Metric(TTFB)
	require.True(t, ok)
	assert.InDelta(t, 100, m.Value, 1e-9)
	assert.Equal(t, Good, m.Rating)
}

func TestCollector_LongTasks(t *testing.T) {
	tl := NewTimeline()
	c := NewCollector(tl)
	c.Start()
	defer c.Stop()

	tl.Record(
		Entry{EntryType: TypeLongTask, StartTime: 10, Duration: 60},
		Entry{EntryType: TypeLongTask, StartTime: 20, Duration: 50},
		Entry{EntryType: TypeLongTask, StartTime: 30, Duration: 130},
		Entry{EntryType: TypeLongTask, StartTime: 40, Duration: 51},
	)
	snap := c.Snapshot()
	require.Len(t, snap.LongTasks, 3)
	assert.InDelta(t, 130, snap.LongTasks[0].Duration, 1e-9)
	assert.InDelta(t, 60, snap.LongTasks[1].Duration, 1e-9)
	assert.InDelta(t, 51, snap.LongTasks[2].Duration, 1e-9)
}

func TestCollector_Lifecycle(t *testing.T) {
	tl := NewTimeline()
	c := NewCollector(tl)
	assert.False(t, c.Active())

	c.Start()
	assert.True(t, c.Active())
	tl.Record(Entry{EntryType: TypeLayout, Value: 0.2})
	c.Stop()
	assert.False(t, c.Active())
	c.Stop() // no-op

	tl.Record(Entry{EntryType: TypeLayout, Value: 0.2})
	snap := c.Snapshot()
	assert.False(t, snap.Active)
	m, _ := snap.Metric(CLS)
	assert.InDelta(t, 0.2, m.Value, 1e-9, "no accumulation while detached")

	c.Start()
	_, ok := c.Snapshot().Metric(CLS)
	assert.False(t, ok, "restart resets state")
	tl.Record(Entry{EntryType: TypeLayout, Value: 0.01})
	m, _ = c.Snapshot().Metric(CLS)
	assert.InDelta(t, 0.01, m.Value, 1e-9)
	c.Stop()
}

func TestCollector_UnsupportedTypesSkipped(t *testing.T) {
	tl := NewTimeline(TypeLayout) // no lcp, paint, event, navigation
	c := NewCollector(tl)
	c.Start()
	defer c.Stop()

	tl.Record(Entry{EntryType: TypeLCP, StartTime: 100}, Entry{EntryType: TypeLayout, Value: 0.02})
	snap := c.Snapshot()
	_, ok := snap.Metric(LCP)
	assert.False(t, ok)
	_, ok = snap.Metric(CLS)
	assert.True(t, ok)
}

// fakeSource keeps callbacks so tests can deliver entries late
type fakeSource struct {
	mu        sync.Mutex
	callbacks map[EntryType][]func([]Entry)
	failOn    EntryType
}

type fakeSub struct{}

func (fakeSub) Disconnect() {}

func (f *fakeSource) Observe(opts ObserveOptions, fn func([]Entry)) (Subscription, error) {
	if opts.Type == f.failOn {
		return nil, errors.New("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callbacks == nil {
		f.callbacks = map[EntryType][]func([]Entry){}
	}
	f.callbacks[opts.Type] = append(f.callbacks[opts.Type], fn)
	return fakeSub{}, nil
}

func (f *fakeSource) EntriesByType(EntryType) []Entry { return nil }

func TestCollector_LateCallbacksDiscarded(t *testing.T) {
	src := &fakeSource{failOn: TypePaint}
	c := NewCollector(src)
	c.Start()
	src.mu.Lock()
	first := src.callbacks[TypeLayout][0]
	src.mu.Unlock()

	first([]Entry{{EntryType: TypeLayout, Value: 0.1}})
	c.Stop()
	first([]Entry{{EntryType: TypeLayout, Value: 0.3}}) // after stop, disconnect ignored by source

	m, _ := c.Snapshot().Metric(CLS)
	assert.InDelta(t, 0.1, m.Value, 1e-9)

	c.Start()
	first([]Entry{{EntryType: TypeLayout, Value: 0.3}}) // stale attachment
	_, ok := c.Snapshot().Metric(CLS)
	assert.False(t, ok)

	src.mu.Lock()
	second := src.callbacks[TypeLayout][1]
	assert.Empty(t, src.callbacks[TypePaint], "failed subscription skipped")
	src.mu.Unlock()
	second([]Entry{{EntryType: TypeLayout, Value: 0.3}})
	m, _ = c.Snapshot().Metric(CLS)
	assert.InDelta(t, 0.3, m.Value, 1e-9)
	c.Stop()
}

func TestCollector_ConcurrentRecords(t *testing.T) {
	tl := NewTimeline()
	c := NewCollector(tl)
	c.Start()
	defer c.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tl.Record(Entry{EntryType: TypeLayout, Value: 0.001})
			_ = c.Snapshot()
		}()
	}
	wg.Wait()
	m, _ := c.Snapshot().Metric(CLS)
	assert.InDelta(t, 0.05, m.Value, 1e-9)
}

package vitals

import (
	"fmt"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
)

const maxBufferedPerType = 1000

// Timeline is an in-process performance buffer. It records entries, delivers them to observers
// synchronously and keeps the last maxBufferedPerType entries of each type.
type Timeline struct {
	origin    time.Time
	supported map[EntryType]bool

	mu        sync.Mutex
	buffer    map[EntryType][]Entry
	observers map[int]*observer
	nextID    int
}

type observer struct {
	typ EntryType
	fn  func([]Entry)
}

type subscription struct {
	tl *Timeline
	id int
}

func (s subscription) Disconnect() {
	s.tl.mu.Lock()
	defer s.tl.mu.Unlock()
	delete(s.tl.observers, s.id)
}

// NewTimeline makes a timeline supporting given types, all known types if none passed
func NewTimeline(supported ...EntryType) *Timeline {
	if len(supported) == 0 {
		supported = AllTypes
	}
	res := &Timeline{
		origin:    time.Now(),
		supported: make(map[EntryType]bool, len(supported)),
		buffer:    make(map[EntryType][]Entry),
		observers: make(map[int]*observer),
	}
	for _, t := range supported {
		res.supported[t] = true
	}
	return res
}

// Now returns milliseconds since the timeline origin
func (t *Timeline) Now() float64 {
	return float64(time.Since(t.origin).Microseconds()) / 1000
}

// Supports checks if the entry type can be observed
func (t *Timeline) Supports(typ EntryType) bool {
	return t.supported[typ]
}

// Observe attaches fn to entries of a single type
func (t *Timeline) Observe(opts ObserveOptions, fn func([]Entry)) (Subscription, error) {
	if !t.supported[opts.Type] {
		return nil, fmt.Errorf("observe %s: %w", opts.Type, ErrUnsupported)
	}
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = &observer{typ: opts.Type, fn: fn}
	var buffered []Entry
	if opts.Buffered {
		buffered = append(buffered, t.buffer[opts.Type]...)
	}
	t.mu.Unlock()

	if len(buffered) > 0 {
		fn(buffered)
	}
	return subscription{tl: t, id: id}, nil
}

// EntriesByType returns a copy of buffered entries of the type
func (t *Timeline) EntriesByType(typ EntryType) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry{}, t.buffer[typ]...)
}

// Record buffers entries and delivers them to observers, grouped by type.
// Entries of unsupported types are dropped.
func (t *Timeline) Record(entries ...Entry) {
	byType := map[EntryType][]Entry{}
	order := []EntryType{}
	t.mu.Lock()
	for _, e := range entries {
		if !t.supported[e.EntryType] {
			continue
		}
		buf := append(t.buffer[e.EntryType], e)
		if len(buf) > maxBufferedPerType {
			buf = buf[len(buf)-maxBufferedPerType:]
		}
		t.buffer[e.EntryType] = buf
		if _, ok := byType[e.EntryType]; !ok {
			order = append(order, e.EntryType)
		}
		byType[e.EntryType] = append(byType[e.EntryType], e)
	}
	type delivery struct {
		fn      func([]Entry)
		entries []Entry
	}
	deliveries := []delivery{}
	for _, typ := range order {
		for _, o := range t.observers {
			if o.typ == typ {
				deliveries = append(deliveries, delivery{fn: o.fn, entries: byType[typ]})
			}
		}
	}
	t.mu.Unlock()

	for _, d := range deliveries {
		d.fn(d.entries)
	}
}

// Ingest decodes browser entries and records them, returns the number of recorded entries
func (t *Timeline) Ingest(data []byte) (int, error) {
	entries, err := DecodeEntries(data)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if t.supported[e.EntryType] {
			count++
		}
	}
	t.Record(entries...)
	return count, nil
}

// Mark records a mark entry at the current time
func (t *Timeline) Mark(name string) Entry {
	e := Entry{Name: name, EntryType: TypeMark, StartTime: t.Now()}
	t.Record(e)
	return e
}

// Measure records a measure between two marks. Empty end mark measures up to now.
// A missing start mark is an error, logged and returned.
func (t *Timeline) Measure(name, startMark, endMark string) (Entry, error) {
	start, ok := t.lastMark(startMark)
	if !ok {
		log.Printf("[WARN] failed to measure performance: %s, no mark %q", name, startMark)
		return Entry{}, fmt.Errorf("measure %s: no mark %q", name, startMark)
	}
	end := t.Now()
	if endMark != "" {
		if end, ok = t.lastMark(endMark); !ok {
			log.Printf("[WARN] failed to measure performance: %s, no mark %q", name, endMark)
			return Entry{}, fmt.Errorf("measure %s: no mark %q", name, endMark)
		}
	}
	e := Entry{Name: name, EntryType: TypeMeasure, StartTime: start, Duration: end - start}
	t.Record(e)
	return e, nil
}

func (t *Timeline) lastMark(name string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	marks := t.buffer[TypeMark]
	for i := len(marks) - 1; i >= 0; i-- {
		if marks[i].Name == name {
			return marks[i].StartTime, true
		}
	}
	return 0, false
}

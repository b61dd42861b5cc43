package flags

import (
	"sync"

	log "github.com/go-pkgz/lgr"
)

// Backend is a local key-value storage for the persisted flag set
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Event is published on every successful Set. Key and Value mirror a storage-change event,
// Flags is the decoded set and Changed the flag that triggered the event.
type Event struct {
	Key     string
	Value   string
	Flags   FlagSet
	Changed Name
}

// Store is the single source of truth for performance flags.
// Get never fails, storage problems degrade to defaults. Subscribers receive events
// asynchronously, Set doesn't wait for them.
type Store struct {
	backend Backend
	writeMu sync.Mutex // serializes read-modify-write in Set

	mirrorMu sync.RWMutex
	mirror   FlagSet

	subsMu sync.Mutex
	subs   map[int]chan Event
	nextID int
}

const subscriberBuffer = 64

// NewStore makes a store on top of backend. Nil backend means no storage, defaults only.
func NewStore(backend Backend) *Store {
	s := &Store{backend: backend, subs: make(map[int]chan Event)}
	s.mirror = s.Get()
	return s
}

// Get returns defaults merged with persisted overrides
func (s *Store) Get() FlagSet {
	if s.backend == nil {
		return Defaults()
	}
	data, err := s.backend.Get(StorageKey)
	if err != nil {
		log.Printf("[DEBUG] no stored flags, using defaults: %v", err)
		return Defaults()
	}
	res, err := Merge(data)
	if err != nil {
		log.Printf("[WARN] failed to load flags from storage: %v", err)
		return Defaults()
	}
	return res
}

// Set persists a single flag, updates the mirror and publishes the change.
// Unknown names and storage failures are logged and ignored.
func (s *Store) Set(name Name, value bool) {
	if !name.IsValid() {
		log.Printf("[WARN] ignore unknown flag %q", name)
		return
	}
	if s.backend == nil {
		log.Printf("[WARN] failed to save flags, no storage")
		return
	}

	s.writeMu.Lock()
	updated := s.Get()
	updated[name] = value
	encoded := updated.Encode()
	if err := s.backend.Set(StorageKey, encoded); err != nil {
		s.writeMu.Unlock()
		log.Printf("[WARN] failed to save flags to storage: %v", err)
		return
	}
	s.mirrorMu.Lock()
	s.mirror = updated
	s.mirrorMu.Unlock()
	s.writeMu.Unlock()

	log.Printf("[DEBUG] flag %s set to %v", name, value)
	s.publish(Event{Key: StorageKey, Value: encoded, Flags: updated, Changed: name})
}

// Toggle inverts a flag and returns the new value
func (s *Store) Toggle(name Name) bool {
	val := !s.Get()[name]
	s.Set(name, val)
	return val
}

// ActiveFlags returns enabled flags in canonical order
func (s *Store) ActiveFlags() []Name {
	return s.Get().Active()
}

// ActiveCount returns number of enabled flags
func (s *Store) ActiveCount() int {
	return len(s.ActiveFlags())
}

// Mirror returns the in-memory copy of the last known flag set, without touching storage
func (s *Store) Mirror() FlagSet {
	s.mirrorMu.RLock()
	defer s.mirrorMu.RUnlock()
	return s.mirror.Clone()
}

// Subscribe registers fn for change events. Events for a subscriber are delivered in order
// on its own goroutine. The returned func unsubscribes, safe to call multiple times.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	ch := make(chan Event, subscriberBuffer)
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subsMu.Unlock()

	go func() {
		for ev := range ch {
			fn(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(ev Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- Event{Key: ev.Key, Value: ev.Value, Flags: ev.Flags.Clone(), Changed: ev.Changed}:
		default:
			log.Printf("[WARN] flag subscriber is full, dropping event for %s", ev.Changed)
		}
	}
}

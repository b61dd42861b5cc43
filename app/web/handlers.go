package web

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/hypercart/app/catalog"
	"github.com/umputun/hypercart/app/flags"
	"github.com/umputun/hypercart/app/history"
	"github.com/umputun/hypercart/app/probe"
	"github.com/umputun/hypercart/app/vitals"
)

// TemplateData holds data for templates
type TemplateData struct {
	Hostname    string
	Version     string
	AuthEnabled bool
	CurrentYear int

	On          map[string]bool // flag name -> value
	Active      []flags.Name
	ActiveNames []string
	Groups      []flags.Group
	Debug       bool          // show the flag panel
	Head        template.HTML // nodes added by side effects
	PresetNames []string

	Products []catalog.Product
	Snapshot vitals.Snapshot
	Metrics  []vitals.Metric // observed metrics in display order
	Pending  []vitals.MetricName
	History  []history.Record
}

// newTemplateData creates a TemplateData with the current flags
func (s *Server) newTemplateData(r *http.Request) TemplateData {
	fs := s.Flags.Get()
	on := make(map[string]bool, len(fs))
	for name, v := range fs {
		on[string(name)] = v
	}
	active := fs.Active()
	names := make([]string, 0, len(active))
	for _, name := range active {
		names = append(names, string(name))
	}
	return TemplateData{
		Hostname:    s.Hostname,
		Version:     s.Version,
		AuthEnabled: s.PasswordHash != "",
		CurrentYear: time.Now().Year(),
		On:          on,
		Active:      active,
		ActiveNames: names,
		Groups:      flags.Groups,
		Debug:       s.DebugPanel || r.URL.Query().Get("debug") == "1",
		Head:        s.Document.HeadHTML(),
		PresetNames: s.Presets.Names(),
	}
}

// handlePage renders the demo storefront, markup depends on the flags
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	data := s.newTemplateData(r)
	data.Products = catalog.All()
	s.render(w, "page", "base", data)
}

// handleDashboard renders the vitals dashboard. The page attaches the collector while visible.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := s.newTemplateData(r)
	data.Snapshot = s.Collector.Snapshot()
	for _, name := range vitals.Metrics {
		if m, ok := data.Snapshot.Metric(name); ok {
			data.Metrics = append(data.Metrics, m)
			continue
		}
		data.Pending = append(data.Pending, name)
	}
	if s.History != nil {
		recs, err := s.History.Recent(r.Context(), 10)
		if err != nil {
			log.Printf("[WARN] can't load history for dashboard: %v", err)
		}
		data.History = recs
	}
	s.render(w, "dashboard", "base", data)
}

// handleObserverScript serves the script recording performance entries in the page
func (s *Server) handleObserverScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	if _, err := w.Write([]byte(probe.ObserverScript)); err != nil {
		log.Printf("[WARN] failed to write observer script: %v", err)
	}
}

// handleStaticFile serves a single embedded asset at the root path
func (s *Server) handleStaticFile(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, staticFS, "static/"+name)
	}
}

// flagEvent is the wire form of a flag change, mirrors a storage event
type flagEvent struct {
	Key      string `json:"key"`
	NewValue string `json:"newValue"`
	Changed  string `json:"changed,omitempty"`
}

const eventsPingInterval = 15 * time.Second

// handleFlagEvents streams flag changes to every open tab as server-sent events.
// The current state is sent first.
func (s *Server) handleFlagEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Printf("[DEBUG] can't reset write deadline for events stream, %v", err)
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := make(chan flags.Event, 16)
	unsubscribe := s.Flags.Subscribe(func(ev flags.Event) {
		select {
		case events <- ev:
		default:
			log.Printf("[WARN] flag events client is slow, event dropped")
		}
	})
	defer unsubscribe()

	send := func(ev flags.Event) bool {
		data, err := json.Marshal(flagEvent{Key: ev.Key, NewValue: ev.Value, Changed: string(ev.Changed)})
		if err != nil {
			log.Printf("[WARN] can't marshal flag event: %v", err)
			return true
		}
		if _, err := fmt.Fprintf(w, "event: flags\ndata: %s\n\n", data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	if !send(flags.Event{Key: flags.StorageKey, Value: s.Flags.Get().Encode()}) {
		return
	}

	ping := time.NewTicker(eventsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if !send(ev) {
				return
			}
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

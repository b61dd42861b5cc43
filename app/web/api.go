package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/hypercart/app/catalog"
	"github.com/umputun/hypercart/app/flags"
	"github.com/umputun/hypercart/app/history"
	"github.com/umputun/hypercart/app/notify"
	"github.com/umputun/hypercart/app/presets"
	"github.com/umputun/hypercart/app/probe"
	"github.com/umputun/hypercart/app/vitals"
)

// limits for user supplied parameters
const (
	maxBenchRuns        = 1000
	maxBenchConcurrency = 64
	maxHistoryLimit     = 500
)

// APIFlagsResponse is the JSON response for /api/v1/flags
type APIFlagsResponse struct {
	Flags  flags.FlagSet `json:"flags"`
	Active []flags.Name  `json:"active"`
	Count  int           `json:"count"`
	Groups []APIGroup    `json:"groups"`
}

// APIGroup is a flag category with flag descriptions
type APIGroup struct {
	Title string    `json:"title"`
	Flags []APIFlag `json:"flags"`
}

// APIFlag is a single flag state
type APIFlag struct {
	Name        flags.Name `json:"name"`
	Label       string     `json:"label,omitempty"`
	Description string     `json:"description,omitempty"`
	Value       bool       `json:"value"`
	Effect      bool       `json:"effect,omitempty"` // side effect applied or reverted by this change
}

// APISnapshotResponse is the JSON response for saved snapshots
type APISnapshotResponse struct {
	Record      history.Record      `json:"record"`
	Regressions []notify.Regression `json:"regressions"`
}

// APIDashboardResponse is the JSON response for dashboard visibility changes
type APIDashboardResponse struct {
	Active bool `json:"active"`
	Views  int  `json:"views"`
}

// APIIngestResponse is the JSON response for entries ingestion
type APIIngestResponse struct {
	Recorded int                  `json:"recorded"`
	Snapshot *APISnapshotResponse `json:"snapshot,omitempty"`
}

func (s *Server) flagsResponse() APIFlagsResponse {
	fs := s.Flags.Get()
	resp := APIFlagsResponse{Flags: fs, Active: fs.Active(), Groups: make([]APIGroup, 0, len(flags.Groups))}
	resp.Count = len(resp.Active)
	for _, g := range flags.Groups {
		ag := APIGroup{Title: g.Title, Flags: make([]APIFlag, 0, len(g.Flags))}
		for _, f := range g.Flags {
			ag.Flags = append(ag.Flags, APIFlag{Name: f.Name, Label: f.Label, Description: f.Description, Value: fs[f.Name]})
		}
		resp.Groups = append(resp.Groups, ag)
	}
	return resp
}

// handleListFlags returns all flags with the active summary
func (s *Server) handleListFlags(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.flagsResponse())
}

// handleGetFlag returns a single flag
func (s *Server) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	name, err := flags.ParseName(r.PathValue("name"))
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, APIFlag{Name: name, Value: s.Flags.Get()[name]})
}

// handleSetFlag sets a flag to the value from the request body
func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	name, err := flags.ParseName(r.PathValue("name"))
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	var req struct {
		Value *bool `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		s.writeJSONError(w, http.StatusBadRequest, "body must be {\"value\": true|false}")
		return
	}
	s.Flags.Set(name, *req.Value)
	if s.Flags.Get()[name] != *req.Value {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to save flag")
		return
	}
	effect := s.Effects.OnToggle(name, *req.Value)
	log.Printf("[INFO] flag %s set to %v", name, *req.Value)
	s.writeJSON(w, http.StatusOK, APIFlag{Name: name, Value: *req.Value, Effect: effect})
}

// handleToggleFlag flips a flag, side effects are applied before the response
func (s *Server) handleToggleFlag(w http.ResponseWriter, r *http.Request) {
	name, err := flags.ParseName(r.PathValue("name"))
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	value := s.Flags.Toggle(name)
	if s.Flags.Get()[name] != value { // storage rejected the write, keep the document as is
		s.writeJSONError(w, http.StatusInternalServerError, "failed to save flag")
		return
	}
	effect := s.Effects.OnToggle(name, value)
	log.Printf("[INFO] flag %s toggled to %v", name, value)
	s.writeJSON(w, http.StatusOK, APIFlag{Name: name, Value: value, Effect: effect})
}

// handleListPresets returns configured presets
func (s *Server) handleListPresets(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Presets.Presets)
}

// handleApplyPreset sets every flag from the preset and syncs side effects
func (s *Server) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.Presets.Apply(s.Flags, name); err != nil {
		if errors.Is(err, presets.ErrUnknownPreset) {
			s.writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Printf("[ERROR] failed to apply preset %s: %v", name, err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to apply preset")
		return
	}
	s.Effects.Sync(s.Flags.Get())
	log.Printf("[INFO] preset %s applied", name)
	s.writeJSON(w, http.StatusOK, s.flagsResponse())
}

// handleVitals returns the current collector snapshot
func (s *Server) handleVitals(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Collector.Snapshot())
}

// handleIngest records performance entries posted by the page into the timeline.
// With record=true the batch is also replayed into a fresh collector and stored in history.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "can't read body")
		return
	}
	n, err := s.Timeline.Ingest(body)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := APIIngestResponse{Recorded: n}

	if r.URL.Query().Get("record") == "true" && s.History != nil {
		snap, err := probe.Replay(body)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.saveSnapshot(r.Context(), history.SourceIngest, snap)
		if err != nil {
			log.Printf("[ERROR] %v", err)
			s.writeJSONError(w, http.StatusInternalServerError, "failed to save snapshot")
			return
		}
		resp.Snapshot = &saved
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleDashboardState counts visible dashboard views. The first visible view attaches the collector,
// it is detached when the last one is hidden.
func (s *Server) handleDashboardState(w http.ResponseWriter, r *http.Request) {
	s.viewsMu.Lock()
	switch r.PathValue("state") {
	case "visible":
		s.views++
		if !s.Collector.Active() {
			s.Collector.Start()
		}
	case "hidden":
		if s.views > 0 {
			s.views--
		}
		if s.views == 0 {
			s.Collector.Stop()
		}
	default:
		s.viewsMu.Unlock()
		s.writeJSONError(w, http.StatusBadRequest, "state must be visible or hidden")
		return
	}
	resp := APIDashboardResponse{Active: s.Collector.Active(), Views: s.views}
	s.viewsMu.Unlock()
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSearch filters the catalog, execution strategy follows the flags
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	res, err := s.Searcher.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) productFromPath(w http.ResponseWriter, r *http.Request) (catalog.Product, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid product ID")
		return catalog.Product{}, false
	}
	p, ok := catalog.ByID(id)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "product not found")
		return catalog.Product{}, false
	}
	return p, true
}

// handleFormatProduct formats a product for the detail view, in the worker if enabled
func (s *Server) handleFormatProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := s.productFromPath(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.Details.Format(r.Context(), p))
}

// handleAddToCart runs the add to cart interaction
func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	p, ok := s.productFromPath(w, r)
	if !ok {
		return
	}
	d := s.Details.AddToCart(p)
	s.writeJSON(w, http.StatusOK, map[string]any{"id": p.ID, "duration_ms": d.Milliseconds()})
}

// handleBench runs heavy computations concurrently, runs and concurrency come from the query
func (s *Server) handleBench(w http.ResponseWriter, r *http.Request) {
	runs, err := intParam(r, "runs", 10, 1, maxBenchRuns)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	concurrency, err := intParam(r, "concurrency", 4, 1, maxBenchConcurrency)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.Bench.Run(r.Context(), runs, concurrency))
}

// handleHistory returns recent snapshots, newest first
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		s.writeJSONError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	limit, err := intParam(r, "limit", 20, 1, maxHistoryLimit)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.History.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("[ERROR] failed to load history: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

// handleSaveHistory stores the current collector snapshot
func (s *Server) handleSaveHistory(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		s.writeJSONError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	saved, err := s.saveSnapshot(r.Context(), history.SourceManual, s.Collector.Snapshot())
	if err != nil {
		log.Printf("[ERROR] %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to save snapshot")
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

// saveSnapshot records snap and checks it for regressions against the previous record
func (s *Server) saveSnapshot(ctx context.Context, source string, snap vitals.Snapshot) (APISnapshotResponse, error) {
	rec, err := s.History.Save(ctx, source, snap)
	if err != nil {
		return APISnapshotResponse{}, err
	}
	resp := APISnapshotResponse{Record: rec, Regressions: []notify.Regression{}}
	prev, ok, err := s.History.Previous(ctx, rec.ID)
	if err != nil {
		log.Printf("[WARN] can't load previous snapshot, %v", err)
		return resp, nil
	}
	if !ok {
		return resp, nil
	}
	if s.Notifier == nil {
		resp.Regressions = notify.Regressions(prev.Vitals, snap)
		return resp, nil
	}
	regs, err := s.Notifier.NotifyRegressions(ctx, source, rec.Flags, prev.Vitals, snap)
	if err != nil {
		log.Printf("[WARN] %v", err)
	}
	resp.Regressions = regs
	return resp, nil
}

// intParam reads an optional int query parameter within [minVal, maxVal]
func intParam(r *http.Request, name string, def, minVal, maxVal int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	res, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	if res < minVal || res > maxVal {
		return 0, fmt.Errorf("%s must be between %d and %d", name, minVal, maxVal)
	}
	return res, nil
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}

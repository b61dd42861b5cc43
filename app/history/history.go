// Package history records vitals snapshots together with the active flags and host load,
// so runs under different flag combinations can be compared later.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/hypercart/app/conditions"
	"github.com/umputun/hypercart/app/flags"
	"github.com/umputun/hypercart/app/persistence"
	"github.com/umputun/hypercart/app/vitals"
)

// snapshot sources
const (
	SourceProbe  = "probe"
	SourceIngest = "ingest"
	SourceManual = "manual"
)

// Store keeps snapshots
type Store interface {
	SaveSnapshot(ctx context.Context, snap persistence.Snapshot) (int64, error)
	Snapshots(ctx context.Context, limit int) ([]persistence.Snapshot, error)
}

// Sampler returns the current host load
type Sampler interface {
	Sample() (conditions.Load, error)
}

// FlagSource provides the current flag set
type FlagSource interface {
	Get() flags.FlagSet
}

// Record is a stored snapshot with decoded vitals
type Record struct {
	ID         int64           `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	Source     string          `json:"source"`
	Flags      []string        `json:"flags"`
	Vitals     vitals.Snapshot `json:"vitals"`
	CPUPercent float64         `json:"cpu_percent"`
	MemPercent float64         `json:"mem_percent"`
}

// Recorder stores snapshots with flags and host load
type Recorder struct {
	store   Store
	sampler Sampler // optional
	flags   FlagSource
}

// NewRecorder makes a recorder, nil sampler skips host load
func NewRecorder(store Store, sampler Sampler, fs FlagSource) *Recorder {
	return &Recorder{store: store, sampler: sampler, flags: fs}
}

// Save records a vitals snapshot taken from source. A failed host sample is logged and
// the snapshot is stored without load.
func (r *Recorder) Save(ctx context.Context, source string, snap vitals.Snapshot) (Record, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return Record{}, fmt.Errorf("can't marshal vitals snapshot: %w", err)
	}

	active := []string{}
	for _, f := range r.flags.Get().Active() {
		active = append(active, string(f))
	}

	ps := persistence.Snapshot{CreatedAt: time.Now(), Source: source, Flags: active, Metrics: string(data)}
	if r.sampler != nil {
		hl, err := r.sampler.Sample()
		if err != nil {
			log.Printf("[WARN] failed to sample host load: %v", err)
		} else {
			ps.CPUPercent, ps.MemPercent = hl.CPUPercent, hl.MemPercent
		}
	}

	id, err := r.store.SaveSnapshot(ctx, ps)
	if err != nil {
		return Record{}, fmt.Errorf("can't save %s snapshot: %w", source, err)
	}
	log.Printf("[DEBUG] saved %s snapshot %d, flags: %v", source, id, active)
	return Record{ID: id, CreatedAt: ps.CreatedAt, Source: source, Flags: active, Vitals: snap,
		CPUPercent: ps.CPUPercent, MemPercent: ps.MemPercent}, nil
}

// Recent returns up to limit latest records, newest first. Records with undecodable vitals are
// returned with empty vitals.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	snaps, err := r.store.Snapshots(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("can't load snapshots: %w", err)
	}
	res := make([]Record, 0, len(snaps))
	for _, s := range snaps {
		rec := Record{ID: s.ID, CreatedAt: s.CreatedAt, Source: s.Source, Flags: s.Flags,
			CPUPercent: s.CPUPercent, MemPercent: s.MemPercent}
		if err := json.Unmarshal([]byte(s.Metrics), &rec.Vitals); err != nil {
			log.Printf("[WARN] bad vitals in snapshot %d: %v", s.ID, err)
		}
		res = append(res, rec)
	}
	return res, nil
}

// Previous returns the latest record other than id, false if none. Called right after Save
// it gives the record to compare with.
func (r *Recorder) Previous(ctx context.Context, id int64) (Record, bool, error) {
	recs, err := r.Recent(ctx, 2)
	if err != nil {
		return Record{}, false, err
	}
	for _, rec := range recs {
		if rec.ID != id {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

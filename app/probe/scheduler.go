package probe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"github.com/umputun/hypercart/app/conditions"
	"github.com/umputun/hypercart/app/history"
	"github.com/umputun/hypercart/app/notify"
	"github.com/umputun/hypercart/app/vitals"
)

// errors returned by the scheduler
var (
	ErrBusy    = errors.New("probe already running")
	ErrSkipped = errors.New("probe skipped")
)

// Cron interface defines basic robfig/cron methods used by the scheduler
type Cron interface {
	Start()
	Stop() context.Context
	Schedule(schedule cron.Schedule, cmd cron.Job) cron.EntryID
}

// Runner produces a vitals snapshot
type Runner interface {
	Run(ctx context.Context) (vitals.Snapshot, error)
}

// Recorder stores snapshots
type Recorder interface {
	Save(ctx context.Context, source string, snap vitals.Snapshot) (history.Record, error)
	Previous(ctx context.Context, id int64) (history.Record, bool, error)
}

// Notifier alerts on regressions
type Notifier interface {
	NotifyRegressions(ctx context.Context, source string, activeFlags []string,
		prev, cur vitals.Snapshot) ([]notify.Regression, error)
}

// Gate checks host load before a run
type Gate interface {
	Check(cfg conditions.Config) (bool, string)
}

// Scheduler runs the probe on a cron spec. A run is skipped while the previous one is still
// in progress or when the host load is above the configured thresholds.
type Scheduler struct {
	Cron       Cron
	Spec       string
	Probe      Runner
	Recorder   Recorder
	Notifier   Notifier // optional
	Gate       Gate     // optional
	Conditions conditions.Config

	running atomic.Bool
}

// Start schedules the probe and starts cron
func (s *Scheduler) Start(ctx context.Context) error {
	sched, err := cron.ParseStandard(s.Spec)
	if err != nil {
		return fmt.Errorf("can't parse probe spec %q: %w", s.Spec, err)
	}
	s.Cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrBusy) && !errors.Is(err, ErrSkipped) {
			log.Printf("[WARN] scheduled probe failed, %v", err)
		}
	}))
	s.Cron.Start()
	log.Printf("[INFO] probe scheduled with %q", s.Spec)
	return nil
}

// Stop stops cron and waits for a running probe to complete
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
}

// RunOnce runs the probe, records the snapshot and notifies about regressions against the
// previous record
func (s *Scheduler) RunOnce(ctx context.Context) (history.Record, error) {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("[INFO] probe still running, skip")
		return history.Record{}, ErrBusy
	}
	defer s.running.Store(false)

	if s.Gate != nil {
		if ok, reason := s.Gate.Check(s.Conditions); !ok {
			log.Printf("[INFO] probe skipped, %s", reason)
			return history.Record{}, fmt.Errorf("%w: %s", ErrSkipped, reason)
		}
	}

	snap, err := s.Probe.Run(ctx)
	if err != nil {
		return history.Record{}, fmt.Errorf("probe failed: %w", err)
	}
	rec, err := s.Recorder.Save(ctx, history.SourceProbe, snap)
	if err != nil {
		return history.Record{}, err
	}

	if s.Notifier == nil {
		return rec, nil
	}
	prev, ok, err := s.Recorder.Previous(ctx, rec.ID)
	if err != nil {
		log.Printf("[WARN] can't load previous snapshot, %v", err)
		return rec, nil
	}
	if !ok {
		return rec, nil
	}
	if _, err := s.Notifier.NotifyRegressions(ctx, history.SourceProbe, rec.Flags, prev.Vitals, snap); err != nil {
		log.Printf("[WARN] %v", err)
	}
	return rec, nil
}

package actions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-pkgz/syncs"
	log "github.com/go-pkgz/lgr"

	"github.com/umputun/hypercart/app/flags"
	"github.com/umputun/hypercart/app/perf"
	"github.com/umputun/hypercart/app/worker"
)

// BenchReport summarizes a bench run
type BenchReport struct {
	Runs        int           `json:"runs"`
	Concurrency int           `json:"concurrency"`
	Worker      int           `json:"worker"` // runs completed by the worker
	Fallback    int           `json:"fallback"`
	Failed      int           `json:"failed"`
	Min         time.Duration `json:"min"`
	Max         time.Duration `json:"max"`
	Avg         time.Duration `json:"avg"`
	Total       time.Duration `json:"total"`
}

// Bench runs heavy-computation tasks concurrently, through the worker when useWorker is on
type Bench struct {
	Flags      FlagSource
	Executor   Executor // optional
	Iterations int
}

// Run executes runs tasks with at most concurrency of them in flight
func (b *Bench) Run(ctx context.Context, runs, concurrency int) BenchReport {
	if concurrency < 1 {
		concurrency = 1
	}
	rep := BenchReport{Runs: runs, Concurrency: concurrency}
	useWorker := b.Flags.Get()[flags.UseWorker] && b.Executor != nil

	var mu sync.Mutex
	durations := make([]time.Duration, 0, runs)
	st := time.Now()
	gr := syncs.NewSizedGroup(concurrency)
	for i := 0; i < runs; i++ {
		gr.Go(func(context.Context) {
			d, viaWorker, err := b.runOne(ctx, i, useWorker)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				return
			}
			if viaWorker {
				rep.Worker++
			} else {
				rep.Fallback++
			}
			durations = append(durations, d)
		})
	}
	gr.Wait()
	rep.Total = time.Since(st)

	var sum time.Duration
	for i, d := range durations {
		if i == 0 || d < rep.Min {
			rep.Min = d
		}
		if d > rep.Max {
			rep.Max = d
		}
		sum += d
	}
	if len(durations) > 0 {
		rep.Avg = sum / time.Duration(len(durations))
	}
	log.Printf("[INFO] bench completed, runs:%d, worker:%d, fallback:%d, failed:%d, avg:%v, total:%v",
		rep.Runs, rep.Worker, rep.Fallback, rep.Failed, rep.Avg, rep.Total)
	return rep
}

func (b *Bench) runOne(ctx context.Context, seed int, useWorker bool) (time.Duration, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	st := time.Now()
	if useWorker {
		res, err := b.Executor.Execute(ctx, worker.TaskHeavyComputation, map[string]int{"seed": seed})
		switch {
		case err == nil && !res.IsError():
			return time.Since(st), true, nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return 0, false, err
		case err == nil:
			log.Printf("[WARN] worker failed, falling back to main thread: %s", res.Message())
		default:
			log.Printf("[WARN] worker failed, falling back to main thread: %v", err)
		}
	}
	iterations := b.Iterations
	if iterations <= 0 {
		iterations = worker.ComputationIterations
	}
	perf.SinCos(iterations)
	return time.Since(st), false, nil
}

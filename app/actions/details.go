package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/hypercart/app/catalog"
	"github.com/umputun/hypercart/app/flags"
	"github.com/umputun/hypercart/app/perf"
	"github.com/umputun/hypercart/app/worker"
)

// LongTaskDuration is the blocking time injected by simulateLongTask
const LongTaskDuration = 120 * time.Millisecond

// Executor runs background tasks
type Executor interface {
	Execute(ctx context.Context, taskType worker.TaskType, payload any) (worker.Result, error)
}

// FormatResult is a formatted product with the path which produced it
type FormatResult struct {
	catalog.Formatted
	Worker    bool      `json:"worker"`
	Processed time.Time `json:"processed"`
}

// Details formats products for the detail page
type Details struct {
	Flags    FlagSource
	Executor Executor // optional
	Workload *perf.Workload
}

// Format formats p in the worker when useWorker is on, falling back to the calling goroutine
// on any worker failure
func (d *Details) Format(ctx context.Context, p catalog.Product) FormatResult {
	fs := d.Flags.Get()
	if fs[flags.UseWorker] && d.Executor != nil {
		res, err := d.formatInWorker(ctx, p)
		if err == nil {
			return res
		}
		log.Printf("[WARN] worker failed, falling back to main thread: %v", err)
	}
	return d.formatInPlace(p, fs[flags.SimulateLongTask])
}

// AddToCart simulates the add-to-cart interaction, blocking with simulateLongTask
func (d *Details) AddToCart(p catalog.Product) time.Duration {
	d.Workload.Mark("add-to-cart-start")
	st := time.Now()
	if d.Flags.Get()[flags.SimulateLongTask] {
		d.Workload.Block(LongTaskDuration)
	}
	d.Workload.Mark("add-to-cart-end")
	d.Workload.Measure("add-to-cart", "add-to-cart-start", "add-to-cart-end")
	log.Printf("[DEBUG] added %q to cart", p.Name)
	return time.Since(st)
}

func (d *Details) formatInWorker(ctx context.Context, p catalog.Product) (FormatResult, error) {
	res, err := d.Executor.Execute(ctx, worker.TaskFormatProduct, p)
	if err != nil {
		return FormatResult{}, err
	}
	if res.IsError() {
		return FormatResult{}, errors.New(res.Message())
	}
	var formatted catalog.Formatted
	if err := res.Decode("data", &formatted); err != nil {
		return FormatResult{}, fmt.Errorf("bad worker result: %w", err)
	}
	return FormatResult{Formatted: formatted, Worker: true, Processed: time.Now()}, nil
}

func (d *Details) formatInPlace(p catalog.Product, block bool) FormatResult {
	d.Workload.Mark("format-start")
	if block {
		d.Workload.Block(LongTaskDuration)
	}
	res := FormatResult{Formatted: catalog.Format(p), Processed: time.Now()}
	d.Workload.Mark("format-end")
	d.Workload.Measure("product-format", "format-start", "format-end")
	return res
}

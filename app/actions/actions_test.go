package actions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/hypercart/app/catalog"
	"github.com/umputun/hypercart/app/flags"
	"github.com/umputun/hypercart/app/perf"
	"github.com/umputun/hypercart/app/vitals"
	"github.com/umputun/hypercart/app/worker"
)

type staticFlags flags.FlagSet

func (s staticFlags) Get() flags.FlagSet { return flags.FlagSet(s).Clone() }

func withFlags(names ...flags.Name) staticFlags {
	fs := flags.Defaults()
	for _, n := range names {
		fs[n] = true
	}
	return staticFlags(fs)
}

// failingExecutor always fails like a crashed background context
type failingExecutor struct {
	mu    sync.Mutex
	calls int
	err   error
	res   worker.Result
}

func (f *failingExecutor) Execute(context.Context, worker.TaskType, any) (worker.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.res, f.err
}

func testProducts() []catalog.Product {
	return []catalog.Product{
		{ID: 1, Name: "Red Cotton Shirt", Category: "Clothing", Description: "soft shirt"},
		{ID: 2, Name: "Blue Shoe", Category: "Sports", Description: "running shoe"},
	}
}

func TestSearcher_Search(t *testing.T) {
	tbl := []struct {
		name  string
		flags staticFlags
	}{
		{"direct", withFlags()},
		{"chunked", withFlags(flags.MicroYield)},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			tl := vitals.NewTimeline()
			s := NewSearcher(tt.flags, perf.NewWorkload(tl))
			s.Products = testProducts()
			s.Precompute = 10

			res, err := s.Search(context.Background(), "red shirt")
			require.NoError(t, err)
			require.Len(t, res, 1)
			assert.Equal(t, "Red Cotton Shirt", res[0].Name)

			res, err = s.Search(context.Background(), "   ")
			require.NoError(t, err)
			assert.Empty(t, res)

			measures := tl.EntriesByType(vitals.TypeMeasure)
			require.Len(t, measures, 2)
			assert.Equal(t, "search-operation", measures[0].Name)
		})
	}
}

func TestSearcher_ChunkedYields(t *testing.T) {
	yields := 0
	s := NewSearcher(withFlags(flags.MicroYield), nil)
	s.Products = catalog.Generate(230)
	s.Precompute = 10
	s.Limit = 0
	s.Yield = func(ctx context.Context) error {
		yields++
		return ctx.Err()
	}

	res, err := s.Search(context.Background(), "electronics")
	require.NoError(t, err)
	assert.Equal(t, 5, yields, "yield after each of 5 chunks of 50")
	assert.Equal(t, catalog.Search(s.Products, "electronics", 0), res)
}

func TestSearcher_ChunkedCancelled(t *testing.T) {
	s := NewSearcher(withFlags(flags.MicroYield), nil)
	s.Products = catalog.Generate(200)
	s.Precompute = 10
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Search(ctx, "electronics")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSearcher_Limit(t *testing.T) {
	s := NewSearcher(withFlags(), nil)
	s.Products = catalog.Generate(500)
	s.Precompute = 10
	res, err := s.Search(context.Background(), "product")
	require.NoError(t, err)
	assert.Len(t, res, SearchLimit)
}

func TestSearcher_InputImmediate(t *testing.T) {
	s := NewSearcher(withFlags(), nil)
	s.Products = testProducts()
	s.Precompute = 10

	ch := s.Input(context.Background(), "shoe")
	select {
	case res, ok := <-ch:
		require.True(t, ok)
		require.Len(t, res, 1)
		assert.Equal(t, "Blue Shoe", res[0].Name)
	default:
		t.Fatal("search without debounce must complete synchronously")
	}
}

func TestSearcher_InputDebounced(t *testing.T) {
	s := NewSearcher(withFlags(flags.Debounce), nil)
	s.Products = testProducts()
	s.Precompute = 10
	s.debouncer = perf.NewDebouncer(50 * time.Millisecond)

	first := s.Input(context.Background(), "red")
	second := s.Input(context.Background(), "shoe")

	select {
	case res, ok := <-first:
		assert.False(t, ok, "superseded input closed without value, got %v", res)
	case <-time.After(time.Second):
		t.Fatal("superseded input not closed")
	}

	select {
	case res, ok := <-second:
		require.True(t, ok)
		require.Len(t, res, 1)
		assert.Equal(t, "Blue Shoe", res[0].Name)
	case <-time.After(time.Second):
		t.Fatal("debounced search not executed")
	}
}

func TestDetails_FormatInPlace(t *testing.T) {
	tl := vitals.NewTimeline()
	d := &Details{Flags: withFlags(), Workload: perf.NewWorkload(tl)}
	p, ok := catalog.ByID(5)
	require.True(t, ok)

	res := d.Format(context.Background(), p)
	assert.False(t, res.Worker)
	assert.Equal(t, catalog.Format(p), res.Formatted)
	measures := tl.EntriesByType(vitals.TypeMeasure)
	require.Len(t, measures, 1)
	assert.Equal(t, "product-format", measures[0].Name)
	assert.Empty(t, tl.EntriesByType(vitals.TypeLongTask))
}

func TestDetails_FormatSimulatedLongTask(t *testing.T) {
	tl := vitals.NewTimeline()
	d := &Details{Flags: withFlags(flags.SimulateLongTask), Workload: perf.NewWorkload(tl)}
	p, _ := catalog.ByID(1)

	st := time.Now()
	res := d.Format(context.Background(), p)
	assert.GreaterOrEqual(t, time.Since(st), LongTaskDuration)
	assert.Equal(t, catalog.Format(p), res.Formatted)
	require.Len(t, tl.EntriesByType(vitals.TypeLongTask), 1)
}

func TestDetails_FormatInWorker(t *testing.T) {
	tasks := worker.NewTasks(nil)
	tasks.FormatDelay = time.Millisecond
	b := worker.NewBroker(worker.NewLocalFactory(tasks, 4))
	defer b.Terminate()

	d := &Details{Flags: withFlags(flags.UseWorker), Executor: b, Workload: perf.NewWorkload(nil)}
	p, _ := catalog.ByID(12)
	res := d.Format(context.Background(), p)
	assert.True(t, res.Worker)
	assert.Equal(t, catalog.Format(p), res.Formatted)
}

func TestDetails_FallbackEqualsInPlace(t *testing.T) {
	tbl := []struct {
		name string
		exec Executor
	}{
		{"context lost", &failingExecutor{err: worker.ErrContextLost}},
		{"unavailable", worker.NewBroker(nil)},
		{"error result", &failingExecutor{res: worker.Result{Type: worker.ResultError}}},
		{"undecodable result", &failingExecutor{res: worker.Result{Type: worker.ResultFormatted}}},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			d := &Details{Flags: withFlags(flags.UseWorker), Executor: tt.exec, Workload: perf.NewWorkload(nil)}
			for _, p := range catalog.All() {
				res := d.Format(context.Background(), p)
				assert.False(t, res.Worker)
				assert.Equal(t, catalog.Format(p), res.Formatted)
			}
		})
	}
}

func TestDetails_WorkerFlagOff(t *testing.T) {
	exec := &failingExecutor{err: errors.New("must not be called")}
	d := &Details{Flags: withFlags(), Executor: exec, Workload: perf.NewWorkload(nil)}
	p, _ := catalog.ByID(2)
	d.Format(context.Background(), p)
	assert.Equal(t, 0, exec.calls)
}

func TestDetails_AddToCart(t *testing.T) {
	d := &Details{Flags: withFlags(), Workload: perf.NewWorkload(nil)}
	p, _ := catalog.ByID(2)
	assert.Less(t, d.AddToCart(p), LongTaskDuration)

	d.Flags = withFlags(flags.SimulateLongTask)
	assert.GreaterOrEqual(t, d.AddToCart(p), LongTaskDuration)
}

func TestBench_Run(t *testing.T) {
	tasks := worker.NewTasks(nil)
	tasks.Iterations = 1000
	b := worker.NewBroker(worker.NewLocalFactory(tasks, 16))
	defer b.Terminate()

	tbl := []struct {
		name     string
		bench    *Bench
		worker   int
		fallback int
	}{
		{"inline", &Bench{Flags: withFlags(), Executor: b, Iterations: 1000}, 0, 8},
		{"worker", &Bench{Flags: withFlags(flags.UseWorker), Executor: b, Iterations: 1000}, 8, 0},
		{"fallback", &Bench{Flags: withFlags(flags.UseWorker), Executor: &failingExecutor{err: worker.ErrContextLost},
			Iterations: 1000}, 0, 8},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			rep := tt.bench.Run(context.Background(), 8, 3)
			assert.Equal(t, 8, rep.Runs)
			assert.Equal(t, 3, rep.Concurrency)
			assert.Equal(t, tt.worker, rep.Worker)
			assert.Equal(t, tt.fallback, rep.Fallback)
			assert.Equal(t, 0, rep.Failed)
			assert.LessOrEqual(t, rep.Min, rep.Avg)
			assert.LessOrEqual(t, rep.Avg, rep.Max)
			assert.Positive(t, rep.Total)
		})
	}
}

func TestBench_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := (&Bench{Flags: withFlags(), Iterations: 10}).Run(ctx, 5, 0)
	assert.Equal(t, 1, rep.Concurrency)
	assert.Equal(t, 5, rep.Failed)
	assert.Zero(t, rep.Avg)
}

package perf

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/hypercart/app/vitals"
)

func TestWorkload_Block(t *testing.T) {
	tl := vitals.NewTimeline()
	w := NewWorkload(tl)

	elapsed := w.Block(60 * time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)

	marks := tl.EntriesByType(vitals.TypeMark)
	require.Len(t, marks, 2)
	assert.Equal(t, "block-start", marks[0].Name)
	assert.Equal(t, "block-end", marks[1].Name)

	measures := tl.EntriesByType(vitals.TypeMeasure)
	require.Len(t, measures, 1)
	assert.Equal(t, "main-thread-block", measures[0].Name)
	assert.GreaterOrEqual(t, measures[0].Duration, 60.0)

	tasks := tl.EntriesByType(vitals.TypeLongTask)
	require.Len(t, tasks, 1)
	assert.InDelta(t, measures[0].Duration, tasks[0].Duration, 1e-9)
}

func TestWorkload_ShortBlockIsNotLongTask(t *testing.T) {
	tl := vitals.NewTimeline()
	w := NewWorkload(tl)
	w.Block(5 * time.Millisecond)
	assert.Empty(t, tl.EntriesByType(vitals.TypeLongTask))
	assert.Len(t, tl.EntriesByType(vitals.TypeMeasure), 1)
}

func TestWorkload_ObservedByCollector(t *testing.T) {
	tl := vitals.NewTimeline()
	c := vitals.NewCollector(tl)
	c.Start()
	defer c.Stop()

	NewWorkload(tl).Block(120 * time.Millisecond)
	snap := c.Snapshot()
	require.Len(t, snap.LongTasks, 1)
	assert.GreaterOrEqual(t, snap.LongTasks[0].Duration, 120.0)
}

func TestWorkload_NoTimeline(t *testing.T) {
	w := NewWorkload(nil)
	assert.GreaterOrEqual(t, w.Block(time.Millisecond), time.Millisecond)
	w.Mark("x")
	w.Measure("y", "x", "")
}

func TestWorkload_MarkMeasure(t *testing.T) {
	tl := vitals.NewTimeline()
	w := NewWorkload(tl)
	w.Mark("format-start")
	w.Mark("format-end")
	w.Measure("product-format", "format-start", "format-end")
	w.Measure("broken", "missing", "")
	measures := tl.EntriesByType(vitals.TypeMeasure)
	require.Len(t, measures, 1)
	assert.Equal(t, "product-format", measures[0].Name)
}

func TestSinCos(t *testing.T) {
	assert.InDelta(t, 0.0, SinCos(0), 1e-12)
	assert.InDelta(t, SinCos(1000), SinCos(1000), 1e-12)
	assert.NotZero(t, SinCos(10))
}

func TestYielders(t *testing.T) {
	for name, y := range map[string]Yielder{"scheduler": NewYielder(true), "timer": NewYielder(false)} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, y(context.Background()))
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			require.ErrorIs(t, y(ctx), context.Canceled)
		})
	}
}

func TestForEachChunk(t *testing.T) {
	items := make([]int, 120)
	for i := range items {
		items[i] = i
	}
	sizes := []int{}
	yields := 0
	yield := func(context.Context) error { yields++; return nil }
	err := ForEachChunk(context.Background(), items, 50, yield, func(chunk []int) { sizes = append(sizes, len(chunk)) })
	require.NoError(t, err)
	assert.Equal(t, []int{50, 50, 20}, sizes)
	assert.Equal(t, 3, yields)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err = ForEachChunk(ctx, items, 50, Yield, func([]int) { calls++; cancel() })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)

	calls = 0
	require.NoError(t, ForEachChunk(context.Background(), items, 0, Yield, func([]int) { calls++ }))
	assert.Equal(t, 1, calls)
	require.NoError(t, ForEachChunk(context.Background(), []int{}, 10, Yield, func([]int) { calls++ }))
	assert.Equal(t, 1, calls)
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	var last atomic.Int32
	var count atomic.Int32
	for i := 1; i <= 5; i++ {
		v := int32(i)
		d.Trigger(func() { last.Store(v); count.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}
	assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(5), last.Load())

	d.Trigger(func() { count.Add(1) })
	assert.True(t, d.Stop())
	assert.False(t, d.Stop())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

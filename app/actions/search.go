// Package actions implements the heavy page actions. Each action reads the current flags and picks
// the execution strategy: direct, simulated blocking, worker delegation or chunked with yields.
package actions

import (
	"context"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/hypercart/app/catalog"
	"github.com/umputun/hypercart/app/flags"
	"github.com/umputun/hypercart/app/perf"
)

// FlagSource provides the current flag set
type FlagSource interface {
	Get() flags.FlagSet
}

// search parameters
const (
	SearchDebounce   = 300 * time.Millisecond
	SearchChunkSize  = 50
	SearchLimit      = 20
	SearchPrecompute = 50_000
)

// Searcher runs the page search over the catalog
type Searcher struct {
	Flags      FlagSource
	Products   []catalog.Product
	Workload   *perf.Workload
	Yield      perf.Yielder
	Precompute int
	ChunkSize  int
	Limit      int

	debouncer *perf.Debouncer
	mu        sync.Mutex
	pending   chan []catalog.Product
}

// NewSearcher makes a searcher over the fixed catalog with default parameters
func NewSearcher(fs FlagSource, workload *perf.Workload) *Searcher {
	return &Searcher{
		Flags:      fs,
		Products:   catalog.All(),
		Workload:   workload,
		Yield:      perf.Yield,
		Precompute: SearchPrecompute,
		ChunkSize:  SearchChunkSize,
		Limit:      SearchLimit,
		debouncer:  perf.NewDebouncer(SearchDebounce),
	}
}

// Search filters products by the query. With microYield the filter runs in chunks,
// yielding between them, otherwise in one pass.
func (s *Searcher) Search(ctx context.Context, query string) ([]catalog.Product, error) {
	s.mark("search-start")
	defer func() {
		s.mark("search-end")
		s.measure("search-operation", "search-start", "search-end")
	}()

	terms := catalog.Terms(query)
	if len(terms) == 0 {
		return []catalog.Product{}, nil
	}

	perf.SinCos(s.Precompute) // synthetic cost of a search

	res := []catalog.Product{}
	if s.Flags.Get()[flags.MicroYield] {
		yield := s.Yield
		if yield == nil {
			yield = perf.Yield
		}
		err := perf.ForEachChunk(ctx, s.Products, s.ChunkSize, yield, func(chunk []catalog.Product) {
			for _, p := range chunk {
				if catalog.Match(p, terms) {
					res = append(res, p)
				}
			}
		})
		if err != nil {
			return nil, err
		}
	} else {
		for _, p := range s.Products {
			if catalog.Match(p, terms) {
				res = append(res, p)
			}
		}
	}

	if s.Limit > 0 && len(res) > s.Limit {
		res = res[:s.Limit]
	}
	return res, nil
}

// Input handles a keystroke. With debounce the search runs after a quiet period and a newer
// input supersedes the pending one, its channel is closed without a value. Without debounce
// the search runs immediately.
func (s *Searcher) Input(ctx context.Context, query string) <-chan []catalog.Product {
	ch := make(chan []catalog.Product, 1)
	run := func() {
		defer close(ch)
		res, err := s.Search(ctx, query)
		if err != nil {
			log.Printf("[DEBUG] search %q interrupted, %v", query, err)
			return
		}
		ch <- res
	}

	s.mu.Lock()
	if s.pending != nil && s.debouncer.Stop() {
		close(s.pending)
	}
	s.pending = nil

	if !s.Flags.Get()[flags.Debounce] {
		s.mu.Unlock()
		run()
		return ch
	}

	s.pending = ch
	s.debouncer.Trigger(func() {
		s.mu.Lock()
		if s.pending == ch {
			s.pending = nil
		}
		s.mu.Unlock()
		run()
	})
	s.mu.Unlock()
	return ch
}

func (s *Searcher) mark(name string) {
	if s.Workload != nil {
		s.Workload.Mark(name)
	}
}

func (s *Searcher) measure(name, start, end string) {
	if s.Workload != nil {
		s.Workload.Measure(name, start, end)
	}
}

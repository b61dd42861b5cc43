package worker

import (
	"encoding/json"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/hypercart/app/catalog"
	"github.com/umputun/hypercart/app/perf"
)

// default task parameters
const (
	SearchLimit           = 10
	SearchDatasetSize     = 1000
	FormatDelay           = 50 * time.Millisecond
	ComputationIterations = 1_000_000
)

// Computation is the heavy-computation result
type Computation struct {
	Input      json.RawMessage `json:"input"`
	Result     float64         `json:"result"`
	Iterations int             `json:"iterations"`
	Timestamp  float64         `json:"timestamp"` // ms since the context start
}

// Tasks handles requests inside the background context
type Tasks struct {
	Products    []catalog.Product
	FormatDelay time.Duration
	Iterations  int
	Workload    *perf.Workload // optional, worker-start/end marks
	started     time.Time
}

// NewTasks makes a handler with the generated search dataset and default parameters
func NewTasks(workload *perf.Workload) *Tasks {
	return &Tasks{
		Products:    catalog.Generate(SearchDatasetSize),
		FormatDelay: FormatDelay,
		Iterations:  ComputationIterations,
		Workload:    workload,
		started:     time.Now(),
	}
}

// Handle dispatches a request by type. Unknown types and bad payloads produce an error result.
func (t *Tasks) Handle(req Request) Response {
	if t.Workload != nil {
		t.Workload.Mark("worker-start")
		defer func() {
			t.Workload.Mark("worker-end")
			t.Workload.Measure("worker-task", "worker-start", "worker-end")
		}()
	}

	var resp Response
	var err error
	switch req.Type {
	case TaskSearch:
		var query string
		if err = json.Unmarshal(req.Payload, &query); err != nil {
			return errorResponse(fmt.Sprintf("invalid search payload: %v", err))
		}
		resp, err = NewResponse(ResultSearch, map[string]any{"results": catalog.Search(t.Products, query, SearchLimit)})
	case TaskFormatProduct:
		var p catalog.Product
		if err = json.Unmarshal(req.Payload, &p); err != nil {
			return errorResponse(fmt.Sprintf("invalid product payload: %v", err))
		}
		resp, err = NewResponse(ResultFormatted, map[string]any{"data": t.format(p)})
	case TaskHeavyComputation:
		resp, err = NewResponse(ResultComputation, map[string]any{"result": t.compute(req.Payload)})
	default:
		log.Printf("[DEBUG] unknown task type %q", req.Type)
		return errorResponse("Unknown task type")
	}
	if err != nil {
		return errorResponse(err.Error())
	}
	return resp
}

// format spins for FormatDelay re-encoding the product, then formats it
func (t *Tasks) format(p catalog.Product) catalog.Formatted {
	start := time.Now()
	for time.Since(start) < t.FormatDelay {
		_, _ = json.Marshal(p)
	}
	return catalog.Format(p)
}

func (t *Tasks) compute(input json.RawMessage) Computation {
	if len(input) == 0 {
		input = json.RawMessage("null")
	}
	return Computation{
		Input:      input,
		Result:     perf.SinCos(t.Iterations),
		Iterations: t.Iterations,
		Timestamp:  float64(time.Since(t.started).Microseconds()) / 1000,
	}
}

func errorResponse(msg string) Response {
	data, _ := json.Marshal(msg)
	return Response{Type: ResultError, Fields: map[string]json.RawMessage{"message": data}}
}

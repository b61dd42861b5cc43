package vitals

import (
	"fmt"
	"math"
)

// MetricName is one of the tracked web vitals
type MetricName string

// enumeration of tracked metrics
const (
	LCP  MetricName = "LCP"
	FID  MetricName = "FID"
	CLS  MetricName = "CLS"
	INP  MetricName = "INP"
	FCP  MetricName = "FCP"
	TTFB MetricName = "TTFB"
)

// Metrics lists tracked metrics in dashboard order
var Metrics = []MetricName{LCP, FID, CLS, INP, FCP, TTFB}

// Rating is a qualitative assessment of a metric value
type Rating string

// enumeration of ratings
const (
	Good             Rating = "good"
	NeedsImprovement Rating = "needs-improvement"
	Poor             Rating = "poor"
)

// Threshold is the upper bound of the good and needs-improvement bands, both inclusive
type Threshold struct {
	Good float64
	Poor float64
}

// Thresholds per metric
var Thresholds = map[MetricName]Threshold{
	LCP:  {Good: 2500, Poor: 4000},
	FID:  {Good: 100, Poor: 300},
	CLS:  {Good: 0.1, Poor: 0.25},
	INP:  {Good: 200, Poor: 500},
	FCP:  {Good: 1800, Poor: 3000},
	TTFB: {Good: 800, Poor: 1800},
}

// Rate returns rating for the value, unknown metrics rate good
func Rate(name MetricName, value float64) Rating {
	th, ok := Thresholds[name]
	if !ok {
		return Good
	}
	switch {
	case value <= th.Good:
		return Good
	case value <= th.Poor:
		return NeedsImprovement
	default:
		return Poor
	}
}

// Format renders a metric value, CLS unitless with 3 decimals, others as ms or seconds
func Format(name MetricName, value float64) string {
	if name == CLS {
		return fmt.Sprintf("%.3f", value)
	}
	if value >= 1000 {
		return fmt.Sprintf("%.2fs", value/1000)
	}
	return fmt.Sprintf("%dms", int64(math.Round(value)))
}

// Worse reports whether rating a is worse than b
func (r Rating) Worse(b Rating) bool {
	return r.rank() > b.rank()
}

func (r Rating) rank() int {
	switch r {
	case NeedsImprovement:
		return 1
	case Poor:
		return 2
	default:
		return 0
	}
}

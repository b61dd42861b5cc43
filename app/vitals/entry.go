// Package vitals collects performance entries into Core Web Vitals metrics with ratings.
// Entries come from a Source, either the in-process Timeline or a browser through the probe and
// the ingestion API. The Collector is attached only while its view is visible.
package vitals

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupported returned by a source which can't observe the requested entry type
var ErrUnsupported = errors.New("entry type not supported")

// EntryType is a kind of performance entry
type EntryType string

// enumeration of performance entry types
const (
	TypeLCP        EntryType = "largest-contentful-paint"
	TypeFirstInput EntryType = "first-input"
	TypeLayout     EntryType = "layout-shift"
	TypePaint      EntryType = "paint"
	TypeLongTask   EntryType = "longtask"
	TypeEvent      EntryType = "event"
	TypeNavigation EntryType = "navigation"
	TypeResource   EntryType = "resource"
	TypeMark       EntryType = "mark"
	TypeMeasure    EntryType = "measure"
)

// AllTypes lists every known entry type
var AllTypes = []EntryType{TypeLCP, TypeFirstInput, TypeLayout, TypePaint, TypeLongTask, TypeEvent,
	TypeNavigation, TypeResource, TypeMark, TypeMeasure}

// Entry is a single performance observation, field names follow PerformanceEntry.toJSON().
// Times are milliseconds relative to the time origin.
type Entry struct {
	Name      string    `json:"name"`
	EntryType EntryType `json:"entryType"`
	StartTime float64   `json:"startTime"`
	Duration  float64   `json:"duration"`

	ProcessingStart float64 `json:"processingStart,omitempty"` // first-input, event
	Value           float64 `json:"value,omitempty"`           // layout-shift
	HadRecentInput  bool    `json:"hadRecentInput,omitempty"`  // layout-shift
	InitiatorType   string  `json:"initiatorType,omitempty"`   // resource
	TransferSize    int64   `json:"transferSize,omitempty"`    // resource, navigation

	// navigation timing
	DomainLookupStart        float64 `json:"domainLookupStart,omitempty"`
	DomainLookupEnd          float64 `json:"domainLookupEnd,omitempty"`
	ConnectStart             float64 `json:"connectStart,omitempty"`
	ConnectEnd               float64 `json:"connectEnd,omitempty"`
	RequestStart             float64 `json:"requestStart,omitempty"`
	ResponseStart            float64 `json:"responseStart,omitempty"`
	ResponseEnd              float64 `json:"responseEnd,omitempty"`
	DomContentLoadedEventEnd float64 `json:"domContentLoadedEventEnd,omitempty"`
	LoadEventStart           float64 `json:"loadEventStart,omitempty"`
	LoadEventEnd             float64 `json:"loadEventEnd,omitempty"`
}

// DecodeEntries parses a json array of entries, entries with an empty type are dropped
func DecodeEntries(data []byte) ([]Entry, error) {
	var raw []Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("can't decode performance entries: %w", err)
	}
	res := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if e.EntryType == "" {
			continue
		}
		res = append(res, e)
	}
	return res, nil
}

// Subscription is an attached observer
type Subscription interface {
	Disconnect()
}

// ObserveOptions selects a single entry type, Buffered delivers already recorded entries first
type ObserveOptions struct {
	Type     EntryType
	Buffered bool
}

// Source delivers performance entries. Observe returns ErrUnsupported for unknown types.
type Source interface {
	Observe(opts ObserveOptions, fn func([]Entry)) (Subscription, error)
	EntriesByType(t EntryType) []Entry
}

// Package probe measures a page in a real browser. The observer script is injected before any
// page script runs, the collected performance entries are replayed into a fresh timeline and
// aggregated by the vitals collector.
package probe

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/hypercart/app/vitals"
)

// ObserverScript records performance entries in the page, exposes window.__hypercartEntries()
// returning them as JSON and window.__hypercartFlush(url) posting streamed entries to url.
//
//go:embed observer.js
var ObserverScript string

// Browser opens pages with an init script
type Browser interface {
	NewPage(initScript string) (Page, error)
	Close() error
}

// Page is a single browser page
type Page interface {
	Goto(ctx context.Context, url string) error
	Click(selector string) error
	Entries() ([]byte, error)
	Close() error
}

// Repeater retries a func
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Probe loads URL and returns the collected vitals snapshot
type Probe struct {
	Browser  Browser
	URL      string
	Repeater Repeater      // optional, navigation retries
	Click    string        // optional selector clicked after load to produce input entries
	Settle   time.Duration // wait after load for late entries
}

// Run opens a page, navigates with retries, optionally clicks and collects vitals
func (p *Probe) Run(ctx context.Context) (vitals.Snapshot, error) {
	if p.Browser == nil {
		return vitals.Snapshot{}, errors.New("no browser")
	}
	page, err := p.Browser.NewPage(ObserverScript)
	if err != nil {
		return vitals.Snapshot{}, fmt.Errorf("can't open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Printf("[WARN] can't close probe page, %v", err)
		}
	}()

	goTo := func() error { return page.Goto(ctx, p.URL) }
	if p.Repeater != nil {
		err = p.Repeater.Do(ctx, goTo)
	} else {
		err = goTo()
	}
	if err != nil {
		return vitals.Snapshot{}, fmt.Errorf("can't load %s: %w", p.URL, err)
	}

	if p.Click != "" {
		if err := page.Click(p.Click); err != nil {
			log.Printf("[WARN] probe click on %q failed, %v", p.Click, err)
		}
	}

	if p.Settle > 0 {
		select {
		case <-time.After(p.Settle):
		case <-ctx.Done():
			return vitals.Snapshot{}, ctx.Err()
		}
	}

	data, err := page.Entries()
	if err != nil {
		return vitals.Snapshot{}, fmt.Errorf("can't read performance entries: %w", err)
	}
	snap, err := Replay(data)
	if err != nil {
		return vitals.Snapshot{}, err
	}
	log.Printf("[INFO] probe %s completed, %d metrics", p.URL, len(snap.Metrics))
	return snap, nil
}

// Replay feeds browser entries into a fresh timeline and collector. Navigation and resource
// entries are recorded before the collector starts, streamed entries after it.
func Replay(data []byte) (vitals.Snapshot, error) {
	entries, err := vitals.DecodeEntries(data)
	if err != nil {
		return vitals.Snapshot{}, fmt.Errorf("bad performance entries: %w", err)
	}

	once, streamed := []vitals.Entry{}, []vitals.Entry{}
	for _, e := range entries {
		switch e.EntryType {
		case vitals.TypeNavigation, vitals.TypeResource:
			once = append(once, e)
		default:
			streamed = append(streamed, e)
		}
	}

	tl := vitals.NewTimeline()
	tl.Record(once...)
	c := vitals.NewCollector(tl)
	c.Start()
	tl.Record(streamed...)
	c.Stop()
	return c.Snapshot(), nil
}

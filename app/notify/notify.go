// Package notify sends alerts when a web vital degrades to poor between two snapshots.
// Delivery goes through go-pkgz/notify webhook and slack destinations.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"

	"github.com/umputun/hypercart/app/vitals"
)

// Params to make the service
type Params struct {
	WebhookURL   string
	SlackToken   string
	SlackChannel string
	Timeout      time.Duration
	Hostname     string
}

// Regression is a metric which became poor
type Regression struct {
	Metric  vitals.MetricName
	From    vitals.Rating
	To      vitals.Rating
	Display string
}

// Report is the data rendered into the alert message
type Report struct {
	Host        string
	Source      string
	Flags       []string
	Regressions []Regression
	TS          time.Time
}

type target struct {
	notifier    notify.Notifier
	destination string
}

// Service delivers regression alerts to all configured destinations
type Service struct {
	targets  []target
	timeout  time.Duration
	hostname string
	tmpl     *template.Template
}

const defaultMessageTemplate = `Web vitals regression on {{.Host}} at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}
source: {{.Source}}, flags: {{if .Flags}}{{join .Flags ", "}}{{else}}none{{end}}
{{range .Regressions}}- {{.Metric}} {{.From}} -> {{.To}} ({{.Display}})
{{end}}`

// NewService makes a service for the configured destinations, returns nil if none configured
func NewService(p Params) *Service {
	res := &Service{timeout: p.Timeout, hostname: p.Hostname}
	if res.timeout <= 0 {
		res.timeout = 10 * time.Second
	}
	if p.WebhookURL != "" {
		wh := notify.NewWebhook(notify.WebhookParams{Timeout: res.timeout})
		res.targets = append(res.targets, target{notifier: wh, destination: p.WebhookURL})
	}
	if p.SlackToken != "" && p.SlackChannel != "" {
		res.targets = append(res.targets, target{notifier: notify.NewSlack(p.SlackToken),
			destination: "slack:" + p.SlackChannel + "?title=hypercart+vitals"})
	}
	if len(res.targets) == 0 {
		return nil
	}
	res.tmpl = template.Must(template.New("msg").Funcs(template.FuncMap{"join": strings.Join}).Parse(defaultMessageTemplate))
	for _, t := range res.targets {
		log.Printf("[INFO] regression notifications enabled via %s", t.notifier.Schema())
	}
	return res
}

// Regressions lists metrics observed in both snapshots which were not poor and became poor
func Regressions(prev, cur vitals.Snapshot) []Regression {
	res := []Regression{}
	for _, name := range vitals.Metrics {
		before, ok := prev.Metric(name)
		if !ok {
			continue
		}
		after, ok := cur.Metric(name)
		if !ok {
			continue
		}
		if before.Rating != vitals.Poor && after.Rating == vitals.Poor {
			res = append(res, Regression{Metric: name, From: before.Rating, To: after.Rating,
				Display: vitals.Format(name, after.Value)})
		}
	}
	return res
}

// MakeMessage renders the alert text
func (s *Service) MakeMessage(r Report) (string, error) {
	if r.Host == "" {
		r.Host = s.hostname
	}
	if r.TS.IsZero() {
		r.TS = time.Now()
	}
	buf := bytes.Buffer{}
	if err := s.tmpl.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}

// Send delivers text to every destination, errors are collected
func (s *Service) Send(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var errs []error
	for _, t := range s.targets {
		if err := t.notifier.Send(ctx, t.destination, text); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.notifier.Schema(), err))
		}
	}
	return errors.Join(errs...)
}

// NotifyRegressions compares two snapshots and sends an alert if any metric became poor.
// Returns the regressions found.
func (s *Service) NotifyRegressions(ctx context.Context, source string, activeFlags []string,
	prev, cur vitals.Snapshot) ([]Regression, error) {
	regs := Regressions(prev, cur)
	if len(regs) == 0 {
		return regs, nil
	}
	msg, err := s.MakeMessage(Report{Source: source, Flags: activeFlags, Regressions: regs})
	if err != nil {
		return regs, err
	}
	log.Printf("[INFO] %d vitals regressions detected, sending notification", len(regs))
	if err := s.Send(ctx, msg); err != nil {
		return regs, fmt.Errorf("failed to notify: %w", err)
	}
	return regs, nil
}

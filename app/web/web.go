// Package web implements the hypercart web server: the demo page and dashboard driven by the
// flag store, static assets referenced by the side effects and the JSON API
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/umputun/hypercart/app/actions"
	"github.com/umputun/hypercart/app/catalog"
	"github.com/umputun/hypercart/app/effects"
	"github.com/umputun/hypercart/app/flags"
	"github.com/umputun/hypercart/app/history"
	"github.com/umputun/hypercart/app/notify"
	"github.com/umputun/hypercart/app/perf"
	"github.com/umputun/hypercart/app/presets"
	"github.com/umputun/hypercart/app/vitals"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// History stores and lists vitals snapshots
type History interface {
	Save(ctx context.Context, source string, snap vitals.Snapshot) (history.Record, error)
	Recent(ctx context.Context, limit int) ([]history.Record, error)
	Previous(ctx context.Context, id int64) (history.Record, bool, error)
}

// Notifier alerts on vitals regressions
type Notifier interface {
	NotifyRegressions(ctx context.Context, source string, activeFlags []string,
		prev, cur vitals.Snapshot) ([]notify.Regression, error)
}

// Server represents the web server
type Server struct {
	Config
	templates map[string]*template.Template
	registry  *prometheus.Registry

	viewsMu sync.Mutex
	views   int // visible dashboard views
}

// Config holds server dependencies and settings
type Config struct {
	Flags     *flags.Store
	Document  *effects.Document
	Effects   *effects.Dispatcher
	Timeline  *vitals.Timeline
	Collector *vitals.Collector
	Searcher  *actions.Searcher
	Details   *actions.Details
	Bench     *actions.Bench
	Presets   *presets.Config
	History   History  // optional
	Notifier  Notifier // optional

	Version      string
	Hostname     string
	PasswordHash string  // bcrypt hash for basic auth, empty to disable
	DebugPanel   bool    // show the flag panel without ?debug=1
	IngestRate   float64 // max entry batches per second per client, 0 for default
}

// New creates a web server. Registers the vitals prometheus collector in a private registry.
func New(cfg Config) (*Server, error) {
	if cfg.Flags == nil || cfg.Timeline == nil || cfg.Collector == nil {
		return nil, errors.New("web server initialization failed: flags, timeline and collector are required")
	}
	if cfg.Document == nil {
		cfg.Document = effects.NewDocument()
	}
	if cfg.Effects == nil {
		cfg.Effects = effects.NewDispatcher(cfg.Document)
	}
	if cfg.Searcher == nil {
		cfg.Searcher = actions.NewSearcher(cfg.Flags, perf.NewWorkload(cfg.Timeline))
	}
	if cfg.Details == nil {
		cfg.Details = &actions.Details{Flags: cfg.Flags, Workload: perf.NewWorkload(cfg.Timeline)}
	}
	if cfg.Bench == nil {
		cfg.Bench = &actions.Bench{Flags: cfg.Flags}
	}
	if cfg.Presets == nil {
		cfg.Presets = presets.Defaults()
	}
	if cfg.IngestRate <= 0 {
		cfg.IngestRate = 10
	}

	s := &Server{Config: cfg, registry: prometheus.NewRegistry()}
	if err := s.registry.Register(vitals.NewPromCollector(cfg.Collector)); err != nil {
		return nil, fmt.Errorf("web server initialization failed: can't register vitals collector: %w", err)
	}

	templates, err := s.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: failed to parse HTML templates: %w", err)
	}
	s.templates = templates
	return s, nil
}

// Run starts the web server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.AppInfo("hypercart", "umputun", s.Version),
		rest.Ping,
	)
	if s.PasswordHash != "" {
		log.Printf("[INFO] authentication enabled for web UI")
		router.Use(s.authMiddleware)
	}

	// flag events stream stays outside of the access log and size limits, it is long-lived
	router.With(rest.NoCache).HandleFunc("GET /api/v1/flags/events", s.handleFlagEvents)

	router.Group().Route(func(web *routegroup.Bundle) {
		web.Use(
			rest.Throttle(1000),
			rest.Trace,
			rest.SizeLimit(1024*1024), // entry batches from the page can be large
			logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
		)

		if s.PasswordHash != "" {
			web.HandleFunc("GET /login", s.handleLoginForm)
			web.With(tollbooth.HTTPMiddleware(loginLimiter)).HandleFunc("POST /login", s.handleLogin)
			web.HandleFunc("GET /logout", s.handleLogout)
		}

		web.HandleFunc("GET /{$}", s.handlePage)
		web.HandleFunc("GET /dashboard", s.handleDashboard)
		web.HandleFunc("GET /observer.js", s.handleObserverScript)
		web.HandleFunc("GET /thirdparty.js", s.handleStaticFile("thirdparty.js"))
		web.HandleFunc("GET /extra.css", s.handleStaticFile("extra.css"))
		web.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

		web.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
			api.Use(rest.NoCache)
			api.HandleFunc("GET /flags", s.handleListFlags)
			api.HandleFunc("GET /flags/{name}", s.handleGetFlag)
			api.HandleFunc("PUT /flags/{name}", s.handleSetFlag)
			api.HandleFunc("POST /flags/{name}/toggle", s.handleToggleFlag)
			api.HandleFunc("GET /presets", s.handleListPresets)
			api.HandleFunc("POST /presets/{name}", s.handleApplyPreset)
			api.HandleFunc("GET /vitals", s.handleVitals)
			api.With(tollbooth.HTTPMiddleware(s.ingestLimiter())).HandleFunc("POST /vitals/entries", s.handleIngest)
			api.HandleFunc("POST /dashboard/{state}", s.handleDashboardState)
			api.HandleFunc("GET /search", s.handleSearch)
			api.HandleFunc("GET /products/{id}/formatted", s.handleFormatProduct)
			api.HandleFunc("POST /products/{id}/cart", s.handleAddToCart)
			api.HandleFunc("POST /bench", s.handleBench)
			api.HandleFunc("GET /history", s.handleHistory)
			api.HandleFunc("POST /history", s.handleSaveHistory)
		})

		fsys, err := fs.Sub(staticFS, "static")
		if err != nil {
			log.Printf("[ERROR] failed to create static file system: %v", err)
			web.Handle("GET /static/", http.FileServer(http.FS(staticFS)))
			return
		}
		web.HandleFiles("/static/", http.FS(fsys))
	})

	return router
}

// ingestLimiter limits entry batches per client ip
func (s *Server) ingestLimiter() *limiter.Limiter {
	lmt := tollbooth.NewLimiter(s.IngestRate, nil)
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	lmt.SetMessage(`{"error":"too many requests"}`)
	lmt.SetMessageContentType("application/json")
	return lmt
}

// render renders a template
func (s *Server) render(w http.ResponseWriter, page, tmplName string, data any) {
	tmpl, ok := s.templates[page]
	if !ok {
		log.Printf("[WARN] template %s not found", page)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	buf := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(buf, tmplName, data); err != nil {
		log.Printf("[WARN] failed to execute template: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}

// parseTemplates parses page templates, each page with the shared base
func (s *Server) parseTemplates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template)

	funcMap := template.FuncMap{
		"price":     catalog.FormatPrice,
		"imageURL":  imageURL,
		"humanTime": humanTime,
		"join":      strings.Join,
		"percent":   func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
	}

	for _, page := range []string{"page", "dashboard"} {
		tmpl, err := template.New("base.html").Funcs(funcMap).ParseFS(templatesFS,
			"templates/base.html", "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", page, err)
		}
		templates[page] = tmpl
	}

	// login is standalone, doesn't use base
	login, err := template.New("login.html").Funcs(funcMap).ParseFS(templatesFS, "templates/login.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse login template: %w", err)
	}
	templates["login"] = login

	return templates, nil
}

// imageURL returns a placeholder image for the product, images aren't managed by the app
func imageURL(id, width, height int) string {
	return fmt.Sprintf("https://picsum.photos/seed/hypercart-%d/%d/%d", id, width, height)
}

func humanTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format("Jan 2, 15:04:05")
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/robfig/cron/v3"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/hypercart/app/actions"
	"github.com/umputun/hypercart/app/conditions"
	"github.com/umputun/hypercart/app/effects"
	flagstore "github.com/umputun/hypercart/app/flags"
	"github.com/umputun/hypercart/app/history"
	"github.com/umputun/hypercart/app/notify"
	"github.com/umputun/hypercart/app/perf"
	"github.com/umputun/hypercart/app/persistence"
	"github.com/umputun/hypercart/app/presets"
	"github.com/umputun/hypercart/app/probe"
	"github.com/umputun/hypercart/app/vitals"
	"github.com/umputun/hypercart/app/web"
	"github.com/umputun/hypercart/app/worker"
)

var opts struct {
	DB           string  `long:"db" env:"HYPERCART_DB" default:"hypercart.db" description:"sqlite database file"`
	Listen       string  `short:"l" long:"listen" env:"HYPERCART_LISTEN" default:":8080" description:"listen address"`
	DebugPanel   bool    `long:"debug-panel" env:"HYPERCART_DEBUG_PANEL" description:"show the flag panel without ?debug=1"`
	PasswordHash string  `long:"password-hash" env:"HYPERCART_PASSWORD_HASH" description:"bcrypt hash of the UI password"`
	Preset       string  `long:"preset" env:"HYPERCART_PRESET" description:"apply named preset on startup"`
	PresetsFile  string  `long:"presets-file" env:"HYPERCART_PRESETS_FILE" description:"yaml file with flag presets"`
	IngestRate   float64 `long:"ingest-rate" env:"HYPERCART_INGEST_RATE" default:"10" description:"entries ingestion requests per second per client"`
	HostName     string  `long:"host" env:"HYPERCART_HOST" description:"host name shown in the UI and alerts"`
	Dbg          bool    `long:"dbg" env:"HYPERCART_DEBUG" description:"debug mode"`

	Worker struct {
		Enabled bool `long:"enabled" env:"ENABLED" description:"run heavy tasks in the background context"`
		Queue   int  `long:"queue" env:"QUEUE" default:"64" description:"background context queue size"`
	} `group:"worker" namespace:"worker" env-namespace:"HYPERCART_WORKER"`

	Probe struct {
		URL          string        `long:"url" env:"URL" description:"page url to probe, probe disabled if empty"`
		Schedule     string        `long:"schedule" env:"SCHEDULE" default:"*/15 * * * *" description:"probe cron schedule"`
		Headed       bool          `long:"headed" env:"HEADED" description:"run browser with a window"`
		Click        string        `long:"click" env:"CLICK" description:"selector to click after load"`
		Settle       time.Duration `long:"settle" env:"SETTLE" default:"2s" description:"wait for late entries after load"`
		Attempts     int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"navigation attempts"`
		Duration     time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial retry delay"`
		Factor       float64       `long:"factor" env:"FACTOR" default:"2" description:"retry backoff factor"`
		CPUBelow     int           `long:"cpu-below" env:"CPU_BELOW" description:"skip probe when cpu percent is above, 0 disables"`
		MemoryBelow  int           `long:"memory-below" env:"MEMORY_BELOW" description:"skip probe when memory percent is above, 0 disables"`
		LoadAvgBelow float64       `long:"load-avg-below" env:"LOAD_AVG_BELOW" description:"skip probe when load average is above, 0 disables"`
	} `group:"probe" namespace:"probe" env-namespace:"HYPERCART_PROBE"`

	Notify struct {
		Webhook      string        `long:"webhook" env:"WEBHOOK" description:"webhook url for regression alerts"`
		SlackToken   string        `long:"slack-token" env:"SLACK_TOKEN" description:"slack token"`
		SlackChannel string        `long:"slack-channel" env:"SLACK_CHANNEL" description:"slack channel"`
		Timeout      time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"notification timeout"`
	} `group:"notify" namespace:"notify" env-namespace:"HYPERCART_NOTIFY"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"write logs to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"hypercart.log" description:"log file"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max days to keep rotated files"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"HYPERCART_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("hypercart %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	db, err := persistence.NewSQLiteStore(opts.DB)
	if err != nil {
		return fmt.Errorf("can't open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("[WARN] can't close database, %v", err)
		}
	}()

	store := flagstore.NewStore(db)
	pcfg, err := loadPresets()
	if err != nil {
		return err
	}
	if opts.Preset != "" {
		if err := pcfg.Apply(store, opts.Preset); err != nil {
			return fmt.Errorf("can't apply startup preset: %w", err)
		}
		log.Printf("[INFO] preset %s applied", opts.Preset)
	}

	doc := effects.NewDocument()
	dispatcher := effects.NewDispatcher(doc)
	dispatcher.Sync(store.Get())

	timeline := vitals.NewTimeline()
	collector := vitals.NewCollector(timeline)
	workload := perf.NewWorkload(timeline)

	details := &actions.Details{Flags: store, Workload: workload}
	bench := &actions.Bench{Flags: store}
	if opts.Worker.Enabled {
		broker := worker.NewBroker(worker.NewLocalFactory(worker.NewTasks(workload), opts.Worker.Queue))
		defer broker.Terminate()
		details.Executor, bench.Executor = broker, broker
	}

	checker := conditions.NewChecker(time.Second)
	recorder := history.NewRecorder(db, checker, store)
	notifier := makeNotifier()

	if opts.Probe.URL != "" {
		sched, closeFn, err := makeScheduler(recorder, checker, notifier)
		if err != nil {
			log.Printf("[WARN] probe disabled, %v", err)
		} else {
			defer closeFn()
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()
		}
	}

	cfg := web.Config{
		Flags:        store,
		Document:     doc,
		Effects:      dispatcher,
		Timeline:     timeline,
		Collector:    collector,
		Searcher:     actions.NewSearcher(store, workload),
		Details:      details,
		Bench:        bench,
		Presets:      pcfg,
		History:      recorder,
		Version:      revision,
		Hostname:     makeHostName(),
		PasswordHash: opts.PasswordHash,
		DebugPanel:   opts.DebugPanel,
		IngestRate:   opts.IngestRate,
	}
	if notifier != nil {
		cfg.Notifier = notifier
	}
	srv, err := web.New(cfg)
	if err != nil {
		return fmt.Errorf("can't make web server: %w", err)
	}
	return srv.Run(ctx, opts.Listen)
}

func loadPresets() (*presets.Config, error) {
	if opts.PresetsFile == "" {
		return presets.Defaults(), nil
	}
	pcfg, err := presets.LoadFile(opts.PresetsFile)
	if err != nil {
		return nil, fmt.Errorf("can't load presets: %w", err)
	}
	return pcfg, nil
}

// makeScheduler launches the browser and builds the probe scheduler, returned func closes the browser
func makeScheduler(rec *history.Recorder, checker *conditions.Checker, notifier *notify.Service) (*probe.Scheduler, func(), error) {
	browser, err := probe.NewPlaywrightBrowser(!opts.Probe.Headed)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := browser.Close(); err != nil {
			log.Printf("[WARN] can't close browser, %v", err)
		}
	}

	sched := &probe.Scheduler{
		Cron: cron.New(),
		Spec: opts.Probe.Schedule,
		Probe: &probe.Probe{
			Browser: browser,
			URL:     opts.Probe.URL,
			Repeater: repeater.New(&strategy.Backoff{Repeats: opts.Probe.Attempts, Duration: opts.Probe.Duration,
				Factor: opts.Probe.Factor, Jitter: true}),
			Click:  opts.Probe.Click,
			Settle: opts.Probe.Settle,
		},
		Recorder:   rec,
		Gate:       checker,
		Conditions: makeConditions(),
	}
	if notifier != nil {
		sched.Notifier = notifier
	}
	return sched, closeFn, nil
}

// makeConditions converts zero thresholds to unset ones
func makeConditions() conditions.Config {
	var res conditions.Config
	if opts.Probe.CPUBelow > 0 {
		res.CPUBelow = &opts.Probe.CPUBelow
	}
	if opts.Probe.MemoryBelow > 0 {
		res.MemoryBelow = &opts.Probe.MemoryBelow
	}
	if opts.Probe.LoadAvgBelow > 0 {
		res.LoadAvgBelow = &opts.Probe.LoadAvgBelow
	}
	return res
}

func makeNotifier() *notify.Service {
	return notify.NewService(notify.Params{
		WebhookURL:   opts.Notify.Webhook,
		SlackToken:   opts.Notify.SlackToken,
		SlackChannel: opts.Notify.SlackChannel,
		Timeout:      opts.Notify.Timeout,
		Hostname:     makeHostName(),
	})
}

func makeHostName() string {
	if opts.HostName != "" {
		return opts.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// setupLogs configures lgr and returns the writer logs go to
func setupLogs() io.Writer {
	logOpts := []log.Option{log.Msec}
	if opts.Dbg {
		logOpts = []log.Option{log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile}
	}

	if !opts.Log.Enabled {
		log.Setup(logOpts...)
		return os.Stdout
	}

	out := &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
	log.Setup(append(logOpts, log.Out(out), log.Err(out))...)
	return out
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] signal %s received, shutting down", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}

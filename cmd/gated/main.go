package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/shadowgate/config"
	"github.com/alejandrodnm/shadowgate/internal/adapters/marketdata"
	"github.com/alejandrodnm/shadowgate/internal/adapters/notify"
	"github.com/alejandrodnm/shadowgate/internal/adapters/storage"
	"github.com/alejandrodnm/shadowgate/internal/application/analytics"
	"github.com/alejandrodnm/shadowgate/internal/application/ingress"
	"github.com/alejandrodnm/shadowgate/internal/application/learning"
	"github.com/alejandrodnm/shadowgate/internal/application/producer"
	"github.com/alejandrodnm/shadowgate/internal/application/shadow"
	"github.com/alejandrodnm/shadowgate/internal/application/tracker"
	"github.com/alejandrodnm/shadowgate/internal/bus"
	"github.com/alejandrodnm/shadowgate/internal/domain"
	"github.com/alejandrodnm/shadowgate/internal/health"
	"github.com/alejandrodnm/shadowgate/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	report := flag.Bool("report", false, "print the analytics report from the durable DB and exit")
	replay := flag.Bool("replay", false, "re-print every decision in the event log and exit")
	dryRun := flag.Bool("dry-run", false, "use the seeded replay feed instead of the live exchange")
	once := flag.Duration("once", 0, "run the pipeline for this long, print the report and exit (implies -dry-run)")
	verbose := flag.Bool("verbose", false, "set log level to debug and print approved decisions")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	metricsAddr := flag.String("metrics", "", "address to serve Prometheus metrics on (empty disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("failed to load config", "err", err, "path", *configPath)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if *once > 0 {
		*dryRun = true
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	status := health.NewRecorder(registry)
	b := bus.New(store, status)
	console := notify.NewConsole(*verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		runReport(ctx, b, store, console)
		return
	}
	if *replay {
		runReplay(ctx, b, console)
		return
	}

	slog.Info("shadowgate starting",
		"config", *configPath,
		"dsn", cfg.Storage.DSN,
		"symbols", cfg.Feed.Symbols,
		"dry_run", *dryRun,
	)

	var prices ports.PriceProvider
	if *dryRun {
		start := make(map[string]float64, len(cfg.Feed.Symbols))
		for i, sym := range cfg.Feed.Symbols {
			start[sym] = 1000 * float64(i+1)
		}
		prices = marketdata.NewReplayFeed(time.Now().UnixNano(), 500*time.Millisecond, start)
	} else {
		prices = marketdata.NewClient(marketdata.Config{
			BaseURL:   cfg.Feed.BaseURL,
			StreamURL: cfg.Feed.StreamURL,
			Symbols:   cfg.Feed.Symbols,
		})
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, registry)
	}

	trackerCfg := tracker.DefaultConfig()
	trackerCfg.SweepEvery = cfg.GateSweep()
	trackerCfg.Guards.MinCompositeScore = cfg.Gate.MinCompositeScore
	trackerCfg.Guards.MaxSpreadBps = cfg.Gate.MaxSpreadBps
	trackerCfg.Guards.MaxSnapshotAge = time.Duration(cfg.Gate.MaxSnapshotAgeSecs) * time.Second
	trackerCfg.Guards.MaxPerSymbol = cfg.Gate.MaxPerSymbol

	shadowCfg := shadow.DefaultConfig()
	shadowCfg.Exits = domain.ExitRules{
		StopLossPct:     cfg.Shadow.StopLossPct,
		ProfitTargetPct: cfg.Shadow.ProfitTargetPct,
		MaxHold:         cfg.MaxHold(),
	}
	shadowCfg.MaxHold = cfg.MaxHold()
	shadowCfg.SweepEvery = cfg.ShadowSweep()

	learnCfg := learning.Config{
		Cadence:      cfg.LearningCadence(),
		MinSamples:   cfg.Learning.MinSamples,
		LearningRate: cfg.Learning.LearningRate,
	}

	ingressCfg := ingress.DefaultConfig()
	ingressCfg.DefaultTTL = cfg.DefaultTTL()
	ingressCfg.MaxHold = cfg.MaxHold()

	in := ingress.New(ingressCfg, b, store, status)
	gate := tracker.New(trackerCfg, b, store, store, prices, status)
	engine := shadow.New(shadowCfg, b, store, prices, status)
	learner := learning.New(learnCfg, b, store, store, store, status)
	reporter := analytics.New(analytics.DefaultConfig(), b, store, console, status)
	prod := producer.New(producer.Config{EmitEvery: 20 * time.Second, TTL: cfg.DefaultTTL()}, in, prices)

	runCtx := ctx
	if *once > 0 {
		var onceCancel context.CancelFunc
		runCtx, onceCancel = context.WithTimeout(ctx, *once)
		defer onceCancel()
	}

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil {
				slog.Error("component exited with error", "component", name, "err", err)
				cancel()
			}
		}()
	}

	run("tracker", gate.Run)
	run("shadow", engine.Run)
	run("learning", learner.Run)
	run("analytics", reporter.Run)
	run("producer", prod.Run)
	run("console", func(ctx context.Context) error {
		return streamDecisions(ctx, b, console)
	})

	wg.Wait()

	if *once > 0 {
		runReport(context.Background(), b, store, console)
	}
	slog.Info("shadowgate stopped cleanly")
}

// streamDecisions prints decisions as they happen.
func streamDecisions(ctx context.Context, b *bus.Bus, console *notify.Console) error {
	sub := b.Subscribe("console", 256)
	defer b.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if ev.Kind != domain.EventDecision || ev.Decision == nil {
				continue
			}
			if err := console.NotifyDecision(ctx, *ev.Decision); err != nil {
				slog.Warn("console notify failed", "err", err)
			}
		}
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	slog.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics server stopped", "err", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

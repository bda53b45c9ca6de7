package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/aggregator"
	"github.com/atikulmunna/warden/internal/hub"
	"github.com/atikulmunna/warden/internal/model"
	"github.com/atikulmunna/warden/internal/output"
	"github.com/atikulmunna/warden/internal/parser"
	"github.com/atikulmunna/warden/internal/pipeline"
	"github.com/atikulmunna/warden/internal/server"
	"github.com/atikulmunna/warden/internal/settings"
	"github.com/atikulmunna/warden/internal/signature"
	"github.com/atikulmunna/warden/internal/store"
	"github.com/atikulmunna/warden/internal/tailer"
	"github.com/atikulmunna/warden/internal/updater"
	"github.com/atikulmunna/warden/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch [paths...]",
	Short: "Tail access logs and classify every request",
	Long: `Watch one or more access logs (or glob patterns), classify each request
against the attack catalogue, correlate ModSecurity block notices and persist
the results to the configured sink. Paths may also come from the "paths"
config key.

Examples:
  warden watch /var/log/nginx/access.log
  warden watch "/var/log/nginx/**/*.log" --sink file --sink-path warden.jsonl
  warden watch access.log --dashboard :8080 --attacks-only`,
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.String("dashboard", "", "serve the live dashboard on this address (e.g. :8080)")
	f.String("sink", "memory", "persistence backend: memory, file, mysql")
	f.String("dsn", "", "MySQL DSN for the mysql sink")
	f.String("sink-path", "warden.jsonl", "journal file for the file sink")
	f.Int("history", store.DefaultHistory, "access and alert rows kept in memory by the memory and file sinks")
	f.Int("workers", 4, "persistence workers")
	f.Bool("updates", true, "check the remote catalogue for updates")
	f.Bool("attacks-only", false, "only print attacks and blocked requests")
	f.String("whitelist-ip", "", "client address whose URLs are registered as whitelisted")

	for key, flag := range map[string]string{
		"dashboard.addr":    "dashboard",
		"sink.driver":       "sink",
		"sink.dsn":          "dsn",
		"sink.path":         "sink-path",
		"sink.history":      "history",
		"sink.workers":      "workers",
		"catalogue.updates": "updates",
		"attacks_only":      "attacks-only",
		"whitelist.ip":      "whitelist-ip",
	} {
		cobra.CheckErr(viper.BindPFlag(key, f.Lookup(flag)))
	}
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(viper.GetViper())
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Paths = args
	}
	if cmd.Flags().Changed("whitelist-ip") {
		cfg.Whitelist.Enabled = true
	}

	paths := watcher.Expand(cfg.Paths, logger)
	if len(paths) == 0 {
		return fmt.Errorf("no log paths given (args or the paths config key)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Signature engine ---
	engine := signature.NewEngine(logger)
	if err := engine.LoadFile(cfg.CataloguePath); err != nil {
		logger.Info("classifying as unknown until a catalogue update succeeds",
			zap.String("path", cfg.CataloguePath))
	}

	// --- Persistence ---
	sink, err := store.Open(ctx, cfg.Sink, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	// --- Whitelist settings ---
	provider, err := settingsProvider(cfg, sink)
	if err != nil {
		return err
	}
	snap := &settings.Snapshot{}
	snap.Store(cfg.Whitelist)
	refresher := settings.NewRefresher(provider, snap, cfg.SettingsInterval, logger)

	// --- Observation ---
	h := hub.New(logger)
	aggEvents, _ := h.Subscribe()
	agg := aggregator.New(aggEvents, aggregator.Sources{
		Dropped:          h.Dropped,
		FilesTailed:      func() int { return len(paths) },
		CatalogueVersion: engine.Version,
	})

	writer := pipeline.NewWriter(sink, cfg.Workers, logger)
	writer.Start()
	emit := func(ev model.Event) {
		writer.Submit(ev)
		h.Publish(ev)
	}

	var bg sync.WaitGroup
	goBG := func(f func(context.Context)) {
		bg.Add(1)
		go func() {
			defer bg.Done()
			f(ctx)
		}()
	}

	goBG(refresher.Run)
	goBG(agg.Start)

	var upd *updater.Updater
	if cfg.CatalogueUpdates {
		upd = updater.New(engine, updater.Config{
			URL:      cfg.CatalogueURL,
			Path:     cfg.CataloguePath,
			Interval: cfg.CatalogueInterval,
			OnUpdate: reclassifyRegistry(sink),
		}, logger)
		goBG(upd.Run)
	}

	renderer, err := output.New(cfg.Output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if renderer != nil {
		if cfg.AttacksOnly {
			renderer = output.AttacksOnly(renderer)
		}
		events, _ := h.Subscribe()
		goBG(func(ctx context.Context) { output.Run(ctx, events, renderer, logger) })
	}

	if cfg.DashboardAddr != "" {
		deps := server.Deps{Hub: h, Aggregator: agg, Engine: engine, Logger: logger}
		if upd != nil {
			deps.Updater = upd
		}
		if reg, ok := sink.(server.Registry); ok {
			deps.Registry = reg
		}
		srv := server.New(cfg.DashboardAddr, deps)
		goBG(func(ctx context.Context) {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("dashboard stopped", zap.Error(err))
			}
		})
	}

	// --- Tailing ---
	w, err := watcher.New(logger)
	if err != nil {
		logger.Warn("filesystem notifications unavailable, polling only", zap.Error(err))
	} else {
		goBG(w.Start)
	}

	cascade := parser.NewCascade(logger)
	var tails sync.WaitGroup
	for _, p := range paths {
		proc := pipeline.NewProcessor(pipeline.Options{
			Parser:     cascade,
			Classifier: engine,
			Whitelist:  snap,
			Emit:       emit,
			Observer:   agg,
			Logger:     logger,
		})
		var wake <-chan struct{}
		if w != nil {
			wake = w.Add(p)
		}
		t := tailer.New(p, cfg.Tail, proc, wake, logger)
		tails.Add(1)
		go func() {
			defer tails.Done()
			t.Run(ctx)
		}()
	}
	logger.Info("warden started",
		zap.Strings("paths", paths), zap.String("sink", cfg.Sink.Driver),
		zap.String("catalogue_version", engine.Version()))

	<-ctx.Done()
	logger.Info("shutting down")

	tails.Wait()
	writer.Close()
	h.Close()
	bg.Wait()

	st := agg.Snapshot()
	logger.Info("stopped",
		zap.Int64("events", st.TotalEvents), zap.Int64("attacks", st.Attacks),
		zap.Int64("persisted", writer.Persisted()), zap.Int64("persist_failed", writer.Failed()))
	return nil
}

// settingsProvider selects where whitelist settings are refreshed from.
func settingsProvider(cfg Config, sink store.Sink) (settings.Provider, error) {
	switch cfg.SettingsSource {
	case "file":
		return settings.FileProvider{Path: cfg.SettingsFile}, nil
	case "store":
		p, ok := sink.(settings.Provider)
		if !ok {
			return nil, fmt.Errorf("sink %q does not provide settings", cfg.Sink.Driver)
		}
		if m, ok := sink.(interface{ SetWhitelist(settings.Whitelist) }); ok {
			m.SetWhitelist(cfg.Whitelist)
		}
		return p, nil
	default:
		return settings.Static(cfg.Whitelist), nil
	}
}

// reclassifyRegistry relabels stored URLs with a freshly activated catalogue.
func reclassifyRegistry(sink store.Sink) func(context.Context, *signature.Catalogue) {
	r, ok := sink.(store.Reclassifier)
	if !ok {
		return nil
	}
	return func(ctx context.Context, c *signature.Catalogue) {
		n, err := r.Reclassify(ctx, func(e store.RegistryEntry) string {
			if e.RawURL != "" {
				return c.Classify(e.RawURL).Classification
			}
			return c.ClassifyDecoded(e.URL).Classification
		})
		if err != nil {
			logger.Error("registry reclassification failed", zap.Int("updated", n), zap.Error(err))
			return
		}
		logger.Info("registry reclassified", zap.String("version", c.Version()), zap.Int("updated", n))
	}
}

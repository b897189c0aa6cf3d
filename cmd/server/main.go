package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/tcsched/internal/api"
	"github.com/gyaneshwarpardhi/tcsched/internal/config"
	"github.com/gyaneshwarpardhi/tcsched/internal/downlink"
	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
	"github.com/gyaneshwarpardhi/tcsched/internal/persist"
	"github.com/gyaneshwarpardhi/tcsched/internal/release"
	"github.com/gyaneshwarpardhi/tcsched/internal/scheduler"
	"github.com/gyaneshwarpardhi/tcsched/internal/verify"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	cfgPath := flag.String("config", "configs/tcsched.yaml", "Path to YAML config")
	flag.Parse()

	bootLog := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath, bootLog)
	if err != nil {
		bootLog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	epoch, _ := cfg.Clock.EpochTime()
	clock := obtime.NewSystemClock(epoch)
	slog.Info("config loaded", "version", cfg.Version, "epoch", epoch, "onboard_time", clock.Now().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Downlink stream and release sinks ─────────────────────────────────────
	hub := downlink.NewHub(logger.With("component", "downlink"))
	reg := release.NewRegistry()
	reg.Register(release.NewLogSink(logger.With("component", "release")))
	reg.Register(hub)
	sink, err := reg.Select(cfg.Release.Sinks)
	if err != nil {
		slog.Error("release sinks", "err", err, "available", reg.Names())
		os.Exit(1)
	}

	// ── Scheduler ─────────────────────────────────────────────────────────────
	emitter := verify.NewEmitter(hub, logger.With("component", "verify"))
	opts := []scheduler.Option{
		scheduler.WithCapacity(cfg.Scheduler.Capacity),
		scheduler.WithMinLead(cfg.Scheduler.MinLeadSeconds),
		scheduler.WithReportPublisher(hub),
	}

	var journal *persist.Journal
	if cfg.Persistence.Enabled {
		journal, err = persist.Open(ctx, cfg.Persistence.Path)
		if err != nil {
			slog.Error("failed to open journal", "err", err)
			os.Exit(1)
		}
		defer journal.Close()
		opts = append(opts, scheduler.WithJournal(journal))
	}

	sched := scheduler.New(clock, sink, emitter, logger.With("component", "scheduler"), opts...)
	if journal != nil {
		snap, err := journal.Load(ctx)
		if err != nil {
			slog.Error("failed to load journal", "err", err)
			os.Exit(1)
		}
		if err := sched.Restore(snap); err != nil {
			slog.Error("failed to restore schedule", "err", err)
			os.Exit(1)
		}
		slog.Info("schedule restored", "activities", len(snap.Activities), "enabled", snap.Enabled)
	}

	svc := scheduler.NewService(ctx, sched, cfg.Scheduler, logger.With("component", "service"))
	pollCtx, stopPoll := context.WithCancel(ctx)
	go svc.Run(pollCtx)

	// ── HTTP handler ──────────────────────────────────────────────────────────
	handler := api.New(svc, loader, hub, emitter, logger.With("component", "api"))

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := svc.Apply(ctx, newCfg.Scheduler); err != nil {
			slog.Warn("hot-reload: scheduler settings not applied", "err", err)
			return
		}
		handler.SetRateLimit(newCfg.Server)
		slog.Info("config hot-reloaded",
			"version", newCfg.Version,
			"capacity", newCfg.Scheduler.Capacity,
			"min_lead_s", newCfg.Scheduler.MinLeadSeconds,
			"tick_ms", newCfg.Scheduler.TickMs,
		)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	stopPoll()
	svc.Shutdown() // drain queued requests before the journal closes
	cancel()
	slog.Info("goodbye")
}

func newLogger(conf config.LogConf) *slog.Logger {
	level, _ := conf.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if conf.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

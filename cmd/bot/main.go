package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mention_bot/internal/agent"
	"mention_bot/internal/alert"
	"mention_bot/internal/config"
	"mention_bot/internal/health"
	"mention_bot/internal/ledger"
	"mention_bot/internal/poller"
	"mention_bot/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	if cfg.AgentURL == "" {
		slog.Error("load config", "error", "AGENT_URL is required")
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	led, err := ledger.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("open ledger", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = led.Close() }()

	store := queue.NewStore(cfg.QueueDir, cfg.ErrorDir, cfg.NoReplyDir, log)

	// Repair leftovers from a previous crash before consuming anything.
	if stats, err := store.Repair(cfg.QueueDir); err != nil {
		log.Error("repair queue", "error", err)
	} else if stats.Corrupted > 0 {
		log.Warn("startup repair", "corrupted", stats.Corrupted, "repaired", stats.Repaired, "quarantined", stats.MovedToErrors)
	}

	monitor := health.NewMonitor(store, log)
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := monitor.Register(reg); err != nil {
			log.Error("register metrics", "error", err)
			os.Exit(1)
		}
		go serveMetrics(cfg.MetricsAddr, reg, log)
	}

	var alerts alert.Notifier
	if cfg.TelegramBotToken != "" {
		tg, err := alert.NewTelegram(cfg.TelegramBotToken, cfg.AlertChatID, log)
		if err != nil {
			log.Error("create telegram alerter", "error", err)
			os.Exit(1)
		}
		alerts = tg
	} else {
		alerts = alert.NewLog(log)
	}

	client := agent.New(cfg.AgentURL, http.DefaultClient)

	p := poller.New(led, store, client, client, monitor, alerts, log)
	p.SetTickInterval(cfg.PollInterval)
	p.SetCleanupDays(cfg.CleanupDays)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "queue_dir", cfg.QueueDir, "poll_interval", cfg.PollInterval)

	p.Run(ctx)

	log.Info("bot stopped")
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server", "addr", addr, "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.RFC3339,
	}))
}

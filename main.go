package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evdnx/gofx/blackout"
	"github.com/evdnx/gofx/config"
	"github.com/evdnx/gofx/engine"
	"github.com/evdnx/gofx/executor"
	"github.com/evdnx/gofx/license"
	"github.com/evdnx/gofx/logger"
	"github.com/evdnx/gofx/marketdata"
	"github.com/evdnx/gofx/notify"
	"github.com/evdnx/gofx/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	var log logger.Logger
	if cfg.LogPath != "" {
		log = logger.NewRotating(cfg.LogPath, 50, 5)
	} else {
		l, err := logger.New()
		if err != nil {
			os.Stderr.WriteString("logger: " + err.Error() + "\n")
			os.Exit(1)
		}
		log = l
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
				log.Error("metrics server failed", logger.Err(err))
			}
		}()
	}

	feed, err := marketdata.NewFeedClient(cfg.FeedURL, 0, log)
	if err != nil {
		log.Error("feed connect failed", logger.Err(err))
		os.Exit(1)
	}
	defer feed.Close()

	journal, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("journal open failed", logger.Err(err))
		os.Exit(1)
	}
	defer journal.Close()

	calendar, err := blackout.LoadFile(cfg.CalendarCSV, log)
	if err != nil {
		log.Error("calendar load failed", logger.Err(err))
		os.Exit(1)
	}

	var lic *license.Checker
	if cfg.LicenseURL != "" {
		lic = license.New(cfg.LicenseURL, cfg.LicenseEmail, log)
		if _, err := lic.Check(ctx); err != nil {
			log.Warn("initial license check failed", logger.Err(err))
		}
	}

	notifier := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, log)

	// Live order routing is not wired yet; the paper executor fills
	// everything at the requested price.
	exec := executor.NewPaperExecutor()
	if !cfg.DryRun {
		log.Warn("live mode requested but no broker adapter configured, using paper fills")
	}

	eng, err := engine.New(cfg, feed, exec, journal, notifier, lic, calendar, log)
	if err != nil {
		log.Error("engine init failed", logger.Err(err))
		os.Exit(1)
	}

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("engine exited", logger.Err(err))
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Spok95/venue-counter/internal/bot"
	"github.com/Spok95/venue-counter/internal/config"
	"github.com/Spok95/venue-counter/internal/dialog"
	"github.com/Spok95/venue-counter/internal/domain/catalog"
	"github.com/Spok95/venue-counter/internal/domain/counter"
	"github.com/Spok95/venue-counter/internal/domain/users"
	"github.com/Spok95/venue-counter/internal/infra/db"
	httpx "github.com/Spok95/venue-counter/internal/infra/http"
	"github.com/Spok95/venue-counter/internal/infra/logger"
	"github.com/Spok95/venue-counter/internal/infra/metrics"
)

func runMigrations(dsn, dir string, log *slog.Logger) error {
	sqlDB, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	goose.SetLogger(goose.NopLogger())
	if err := goose.Up(sqlDB, dir); err != nil {
		return err
	}
	v, err := goose.GetDBVersion(sqlDB)
	if err == nil {
		log.Info("schema version", "version", v)
	}
	return nil
}

func main() {
	cfg := config.MustLoad("config/example.yaml")

	log := logger.New(cfg.App.Env)

	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		log.Error("bad timezone, using UTC", "tz", cfg.App.Timezone, "err", err)
		loc = time.UTC
	}

	if err := runMigrations(cfg.Postgres.DSN, cfg.Postgres.Migrations, log); err != nil {
		log.Error("migrations failed", "err", err)
		return
	}
	log.Info("migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()
	log.Info("db connected")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	stats := metrics.NewCounterMetrics(reg)

	countersRepo := counter.NewRepo(pool)
	catalogRepo := catalog.NewRepo(pool)
	usersRepo := users.NewRepo(pool)
	statesRepo := dialog.NewRepo(pool)

	deps := httpx.Deps{Counters: countersRepo, Catalog: catalogRepo, Log: log}
	if cfg.Metrics.Enabled {
		deps.Gatherer = reg
	}
	srv := httpx.New(cfg.HTTP.Addr, deps)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Error("telegram init failed", "err", err)
		return
	}
	api.Debug = cfg.App.Env == "dev"
	log.Info("telegram authorized", "bot", api.Self.UserName)

	b := bot.New(api, log, usersRepo, statesRepo, countersRepo, catalogRepo, stats, cfg.Telegram.AdminChatID, loc)
	if err := b.Run(ctx, cfg.Telegram.Timeout); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("bot stopped", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"jobwatch/internal/api"
	"jobwatch/internal/bot"
	"jobwatch/internal/config"
	"jobwatch/internal/ingest"
	"jobwatch/internal/model"
	"jobwatch/internal/normalize"
	"jobwatch/internal/notify"
	"jobwatch/internal/scheduler"
	"jobwatch/internal/scraper"
	"jobwatch/internal/stats"
	"jobwatch/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("jobwatch stopped", "error", err)
		os.Exit(1)
	}
	log.Info("jobwatch stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	recorder, closeRecorder, err := openRecorder(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRecorder()

	sources := make([]scraper.SourceConfig, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, scraper.SourceConfig{Source: s.Name, Enabled: s.Enabled, BaseURL: s.BaseURL})
	}
	registry, err := scraper.NewRegistry(sources, &http.Client{}, scraper.Options{
		MaxRetries:     cfg.MaxRetries,
		RequestDelay:   cfg.RequestDelay,
		RequestTimeout: cfg.RequestTimeout,
		UserAgent:      cfg.UserAgent,
	})
	if err != nil {
		return err
	}
	if len(registry.Sources()) == 0 {
		log.Warn("no sources enabled, runs will fetch nothing")
	}

	engine := ingest.New(registry, normalize.New(), store, cfg.FetchWorkers, log.With("component", "ingest"))

	dispatcher := notify.NewDispatcher(store, cfg.DeliveryTimeout, log.With("component", "notify"))
	email := notify.EmailConfig{
		SMTPHost:     cfg.SMTP.Host,
		SMTPPort:     cfg.SMTP.Port,
		SMTPUsername: cfg.SMTP.Username,
		SMTPPassword: cfg.SMTP.Password,
		FromEmail:    cfg.SMTP.From,
	}
	if email.Enabled() {
		dispatcher.Register(model.ChannelEmail, notify.NewEmailSender(email))
	} else {
		log.Warn("SMTP not configured, email notifications will fail")
	}

	state := scheduler.NewState(cfg.ScrapeInterval)
	sched := scheduler.New(engine, dispatcher, store, recorder, state, scheduler.Config{
		Interval:              cfg.ScrapeInterval,
		DefaultCriteria:       cfg.DefaultCriteria,
		ListingRetention:      cfg.ListingRetention,
		NotificationRetention: cfg.NotificationRetention,
	}, log.With("component", "scheduler"))
	defer sched.Close()

	var b *bot.Bot
	if cfg.TelegramBotToken != "" {
		b, err = bot.New(cfg.TelegramBotToken, store, sched, state, cfg, log.With("component", "bot"))
		if err != nil {
			return err
		}
		dispatcher.Register(model.ChannelTelegram, b)
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, bot disabled")
	}

	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(sched, recorder, store, state, registry), log.With("component", "api"))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Both loops return before sched.Close and store.Close run.
	var loops sync.WaitGroup
	defer loops.Wait()
	loops.Add(1)
	go func() {
		defer loops.Done()
		sched.Run(ctx)
	}()
	if b != nil {
		loops.Add(1)
		go func() {
			defer loops.Done()
			b.Run(ctx)
		}()
	}

	log.Info("starting jobwatch", "interval", cfg.ScrapeInterval, "sources", registry.Sources())

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error("shutdown http server", "error", serr)
	}
	return err
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	if cfg.DatabaseURL != "" {
		store, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info("using postgres storage")
		return store, nil
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	log.Info("using sqlite storage", "path", cfg.DatabasePath)
	return store, nil
}

func openRecorder(ctx context.Context, cfg *config.Config, log *slog.Logger) (stats.Recorder, func(), error) {
	if cfg.RedisURL == "" {
		return stats.NewMemory(stats.DefaultCapacity), func() {}, nil
	}
	rdb, err := stats.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Info("recording run history in redis")
	return stats.NewRedis(rdb, "", stats.DefaultCapacity), func() { _ = rdb.Close() }, nil
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
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

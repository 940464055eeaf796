package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/park285/duel-chess-bot/internal/archive"
	"github.com/park285/duel-chess-bot/internal/command"
	appcfg "github.com/park285/duel-chess-bot/internal/config"
	"github.com/park285/duel-chess-bot/internal/httpapi"
	"github.com/park285/duel-chess-bot/internal/inbox"
	"github.com/park285/duel-chess-bot/internal/match"
	"github.com/park285/duel-chess-bot/internal/msgcat"
	"github.com/park285/duel-chess-bot/internal/obslog"
	"github.com/park285/duel-chess-bot/internal/reaper"
	"github.com/park285/duel-chess-bot/internal/store"
	"github.com/park285/duel-chess-bot/internal/transport"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore := openStore(ctx, cfg)
	defer closeStore()

	var archiver match.Archiver
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("archive_init_error", zap.Error(err))
		}
		defer func() { _ = repo.Close() }()
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Fatal("archive_schema_error", zap.Error(err))
		}
		archiver = repo
	}

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_load_error", zap.Error(err))
	}

	tg, err := transport.NewTelegram(cfg.BotToken, cfg.BotDebug)
	if err != nil {
		logger.Fatal("telegram_init_error", zap.Error(err))
	}

	matches := match.New(match.Deps{
		Store:     st,
		Transport: tg,
		Messages:  msgs,
		Archiver:  archiver,
	})
	disp := command.New(command.Deps{
		Store:     st,
		Matches:   matches,
		Transport: tg,
		AdminPass: cfg.AdminPass,
	})

	pool := inbox.New(cfg.Workers, 0)
	handle := func(ev transport.Event) {
		err := pool.Submit(ev.UserID, func() {
			if err := disp.HandleEvent(ctx, ev); err != nil {
				logger.Error("event_failed", zap.Int64("user_id", ev.UserID), zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("event_dropped", zap.Int64("user_id", ev.UserID), zap.Error(err))
		}
	}

	rp := reaper.New(st, matches, reaper.Config{
		UserTimeout:          cfg.UserTimeout,
		StaleProposalTimeout: cfg.StaleProposalTimeout,
	})
	if cfg.MaintainInterval > 0 {
		if err := rp.Start(ctx, cfg.MaintainInterval); err != nil {
			logger.Fatal("reaper_start_error", zap.Error(err))
		}
	}

	srv := httpapi.New(ctx, httpapi.Options{
		HookPath:   cfg.BotHook,
		WebhookURL: cfg.WebhookURL(),
		Events:     handle,
		Sweeper:    rp,
		Webhook:    tg,
	})
	go func() {
		if err := srv.ListenAndServe(cfg.ListenAddr); err != nil {
			logger.Error("http_serve_error", zap.Error(err))
			stop()
		}
	}()

	if url := cfg.WebhookURL(); url != "" {
		if err := tg.SetWebhook(url); err != nil {
			logger.Error("webhook_register_failed", zap.String("url", url), zap.Error(err))
		} else {
			logger.Info("webhook_registered", zap.String("url", url))
		}
	} else {
		go tg.Listen(ctx, handle)
	}

	<-ctx.Done()
	logger.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	if err := rp.Stop(); err != nil {
		logger.Warn("reaper_stop_error", zap.Error(err))
	}
	pool.Close()
}

// openStore picks Redis when REDIS_URL is set, otherwise an in-memory store.
func openStore(ctx context.Context, cfg *appcfg.AppConfig) (store.Store, func()) {
	if cfg.RedisURL == "" {
		obslog.L().Warn("store_in_memory", zap.String("hint", "set REDIS_URL to keep state across restarts"))
		return store.NewMemory(), func() {}
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rs, err := store.OpenRedis(pctx, cfg.RedisURL)
	if err != nil {
		obslog.L().Fatal("redis_init_error", zap.Error(err))
	}
	return rs, func() { _ = rs.Close() }
}

package main

import (
	"context"
	"errors"
	"fundchat/backend/internal/api/handler"
	"fundchat/backend/internal/chathub"
	"fundchat/backend/internal/config"
	"fundchat/backend/internal/directory"
	"fundchat/backend/internal/funding"
	"fundchat/backend/internal/metrics"
	"fundchat/backend/internal/storage"
	"fundchat/backend/internal/telegram"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDirectory(cfg *config.Config, log zerolog.Logger) (directory.Service, *gorm.DB) {
	if cfg.RemoteDirectory() {
		var opts []directory.ClientOption
		if cfg.DirectoryPublicKey != "" {
			opts = append(opts, directory.WithStaticCredentials(directory.Credentials{
				PublicKey: cfg.DirectoryPublicKey,
				Signature: cfg.DirectorySignature,
			}))
		}
		log.Info().Str("url", cfg.DirectoryURL).Msg("using remote project directory")
		return directory.NewClient(cfg.DirectoryURL, cfg.DirectoryTimeout, log, opts...), nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect PostgreSQL")
	}
	s := storage.NewStorageService(db)
	if err := s.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("database connected, migrations complete")
	return directory.NewLocal(s, log), db
}

func setupChannelStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.ChannelStore, *redis.Client) {
	if cfg.StoreBackend == config.StoreMemory {
		log.Warn().Msg("channel store is in-memory, chat history is lost on restart")
		return storage.NewMemoryChannelStore(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect Redis")
	}
	return storage.NewRedisChannelStore(rdb, log), rdb
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("store", cfg.StoreBackend).
		Bool("telegram_enabled", cfg.TelegramEnabled()).
		Msg("starting fundchat backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dir, db := setupDirectory(cfg, logger)
	store, rdb := setupChannelStore(ctx, cfg, logger)

	m := metrics.New()
	hub := chathub.NewManagerService(store, dir, cfg.FreezeThreshold, m, logger)
	rail := funding.NewCallbackRail()
	fund := funding.NewService(dir, rail, cfg.StacksNetwork, logger, m)
	tickets := handler.NewTicketIssuer(cfg.JWTSecret, cfg.TicketTTL)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	if cfg.TelegramEnabled() {
		bot, err := telegram.NewBotService(cfg.TelegramBotToken, hub, logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram bot disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bot.Run(ctx)
			}()
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	handler.NewHandler(hub, dir, fund, rail, tickets, m, logger).Register(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	wg.Wait()

	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	logger.Info().Msg("stopped")
}

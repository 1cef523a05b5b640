package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "livecast/internal/adapters/http"
	"livecast/internal/adapters/queue"
	"livecast/internal/adapters/rtc"
	signaladapter "livecast/internal/adapters/signal"
	"livecast/internal/adapters/store"
	"livecast/internal/app"
	"livecast/internal/config"
	"livecast/internal/core"
	"livecast/internal/metrics"
	"livecast/internal/recording"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	pingCancel()
	defer redisClient.Close()
	log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connection established")

	met := metrics.New()
	streamStore := store.NewRedis(redisClient)
	jobQueue := queue.NewRedisQueue(redisClient, queue.DefaultJobsKey)
	recordings := recording.NewService(
		cfg.RecordingDir,
		cfg.RecordingMinBytes,
		recording.NewFFProbe(cfg.FFProbeBin),
		jobQueue,
		met,
	)

	registry := core.NewRegistry()
	engine := rtc.NewPionEngine(ctx, rtc.DefaultConfiguration(cfg.StunServers))
	hub := signaladapter.NewHub()

	presence := &app.Presence{
		Registry: registry,
		Roster:   hub,
		Bcast:    hub,
		Store:    streamStore,
	}
	orch := &app.Orchestrator{
		Registry:   registry,
		Engine:     engine,
		Presence:   presence,
		Store:      streamStore,
		Recordings: recordings,
		Bcast:      hub,
		Timeout:    cfg.AdapterTimeout,
	}
	ctl := &signaladapter.Controller{
		Orch:       orch,
		Hub:        hub,
		Recordings: recordings,
		Store:      streamStore,
		Metrics:    met,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	}

	r := router.SetupRouter(ctx, cfg, ctl, registry, met)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("livecast server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}

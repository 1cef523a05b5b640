// The transcoder is the worker side of the transcode queue: it pulls one
// job at a time and runs ffmpeg over the raw artifact. A failing job is
// dropped, not requeued.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"livecast/internal/adapters/queue"
	"livecast/internal/config"
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

	consumer := &queue.Consumer{
		Client:  redisClient,
		Handler: transcodeHandler(cfg.FFMpegBin),
	}

	log.Info().Msg("transcoder started")
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("consumer stopped")
	}
	log.Info().Msg("transcoder exited")
}

func transcodeHandler(ffmpegBin string) func(ctx context.Context, job recording.Job) error {
	return func(ctx context.Context, job recording.Job) error {
		outPath := strings.TrimSuffix(job.ArtifactPath, ".webm") + ".mp4"
		log.Info().Str("room", string(job.RoomID)).Str("in", job.ArtifactPath).Str("out", outPath).Msg("transcoding")

		cmd := exec.CommandContext(ctx, ffmpegBin,
			"-y",
			"-i", job.ArtifactPath,
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-c:a", "aac",
			"-movflags", "+faststart",
			outPath,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("ffmpeg: %w: %s", err, out)
		}
		if err := os.Remove(job.ArtifactPath); err != nil {
			log.Warn().Err(err).Str("path", job.ArtifactPath).Msg("raw artifact remove failed")
		}
		log.Info().Str("room", string(job.RoomID)).Str("out", outPath).Msg("transcode done")
		return nil
	}
}

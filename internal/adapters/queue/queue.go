// Package queue is the durable transcode job queue between the capture
// boundary and the transcoding worker: at-least-once delivery, one job in
// flight per consumer, and a job whose handler fails is dropped without
// requeue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"livecast/internal/metrics"
	"livecast/internal/recording"
)

const (
	DefaultJobsKey       = "transcode:jobs"
	DefaultProcessingKey = "transcode:processing"

	popTimeout = 5 * time.Second
)

type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultJobsKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job recording.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Consumer pulls jobs one at a time. Each job is moved to a processing key
// before handling (at-least-once across a consumer crash) and removed from
// it afterwards whether the handler succeeded or not.
type Consumer struct {
	Client     *redis.Client
	Key        string
	Processing string
	Handler    func(ctx context.Context, job recording.Job) error
	Metrics    *metrics.Metrics
}

func (c *Consumer) Run(ctx context.Context) error {
	key := c.Key
	if key == "" {
		key = DefaultJobsKey
	}
	processing := c.Processing
	if processing == "" {
		processing = DefaultProcessingKey
	}
	log.Info().Str("module", "queue").Str("key", key).Msg("transcode consumer started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := c.Client.BLMove(ctx, key, processing, "RIGHT", "LEFT", popTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			log.Error().Err(err).Str("module", "queue").Msg("pop failed")
			time.Sleep(time.Second)
			continue
		}

		var job recording.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			log.Error().Err(err).Str("module", "queue").Msg("malformed job, dropping")
			c.remove(ctx, processing, raw)
			continue
		}
		if err := c.Handler(ctx, job); err != nil {
			// No requeue: a failing job is dropped.
			log.Error().Err(err).Str("module", "queue").Str("room", string(job.RoomID)).Msg("job failed, dropping")
			if c.Metrics != nil {
				c.Metrics.IncJobsDropped()
			}
		}
		c.remove(ctx, processing, raw)
	}
}

func (c *Consumer) remove(ctx context.Context, processing, raw string) {
	if err := c.Client.LRem(context.WithoutCancel(ctx), processing, 1, raw).Err(); err != nil {
		log.Warn().Err(err).Str("module", "queue").Msg("processing entry remove failed")
	}
}

// Package store is the stream/user store collaborator. Everything here is
// fire-and-forget or read-only from the core's perspective; the store is
// an eventually consistent mirror of what the hub already broadcast.
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"livecast/internal/domain"
)

type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func streamKey(roomID domain.RoomID, field string) string {
	return fmt.Sprintf("stream:%s:%s", roomID, field)
}

func (s *Redis) UpdateViewerStats(ctx context.Context, roomID domain.RoomID, count int) error {
	return s.client.Set(ctx, streamKey(roomID, "viewers"), count, 0).Err()
}

func (s *Redis) IncrementChatCounter(ctx context.Context, roomID domain.RoomID) error {
	return s.client.Incr(ctx, streamKey(roomID, "chat_count")).Err()
}

func (s *Redis) MarkLive(ctx context.Context, roomID domain.RoomID) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, streamKey(roomID, "live"), 1, 0)
	pipe.SetNX(ctx, streamKey(roomID, "started_at"), time.Now().Unix(), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Redis) MarkEnded(ctx context.Context, roomID domain.RoomID) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, streamKey(roomID, "live"), 0, 0)
	pipe.Set(ctx, streamKey(roomID, "ended_at"), time.Now().Unix(), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Redis) GetStartedAt(ctx context.Context, roomID domain.RoomID) (time.Time, error) {
	v, err := s.client.Get(ctx, streamKey(roomID, "started_at")).Result()
	if err != nil {
		return time.Time{}, err
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse started_at: %w", err)
	}
	return time.Unix(unix, 0), nil
}

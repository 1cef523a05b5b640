package app

import (
	"context"
	"time"

	"livecast/internal/domain"
)

// Roster exposes broadcast-group membership. The signal hub is the single
// source of truth for who is connected right now; nothing here is cached.
type Roster interface {
	Identities(group string) []domain.Identity
}

// Broadcaster fans an event out to every channel in a group.
type Broadcaster interface {
	Broadcast(group string, event any)
}

// StreamStore is the external stream/user store collaborator. All writes
// are fire-and-forget from this core's perspective: failures are logged,
// never surfaced to clients, never retried inline.
type StreamStore interface {
	UpdateViewerStats(ctx context.Context, roomID domain.RoomID, count int) error
	IncrementChatCounter(ctx context.Context, roomID domain.RoomID) error
	MarkLive(ctx context.Context, roomID domain.RoomID) error
	MarkEnded(ctx context.Context, roomID domain.RoomID) error
	GetStartedAt(ctx context.Context, roomID domain.RoomID) (time.Time, error)
}

// Recorder finalizes a room's open recording session, if any.
type Recorder interface {
	EndRecording(ctx context.Context, roomID domain.RoomID) error
}

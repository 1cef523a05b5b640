package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"livecast/internal/core"
	"livecast/internal/domain"
)

// Presence computes unique-viewer counts from broadcast-group membership.
// Counts are recomputed on every membership-affecting event and never
// cached: membership is the source of truth, and a cached counter would
// drift under reconnects and duplicated tabs.
type Presence struct {
	Registry *core.Registry
	Roster   Roster
	Bcast    Broadcaster
	Store    StreamStore
}

type viewerCountEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Count  int           `json:"count"`
}

// ViewerCount is the distinct identities attached to the room's group,
// minus the broadcaster when its channel is among them, clamped at zero.
// Multiple channels for one identity count once.
func (p *Presence) ViewerCount(roomID domain.RoomID) int {
	ids := p.Roster.Identities(domain.RoomGroup(roomID))
	count := len(ids)
	owner, ok := p.Registry.Owner(roomID)
	if ok {
		for _, id := range ids {
			if id == owner {
				count--
				break
			}
		}
	}
	if count < 0 {
		count = 0
	}
	return count
}

// Recompute recomputes the count, broadcasts it to the room group, and
// persists it to the stream store in the background. The broadcast is the
// authoritative "now" value; the store is an eventually consistent mirror.
func (p *Presence) Recompute(ctx context.Context, roomID domain.RoomID) int {
	count := p.ViewerCount(roomID)
	p.Bcast.Broadcast(domain.RoomGroup(roomID), viewerCountEvent{
		Type:   "viewer-count",
		RoomID: roomID,
		Count:  count,
	})
	if p.Store != nil {
		go func() {
			if err := p.Store.UpdateViewerStats(context.WithoutCancel(ctx), roomID, count); err != nil {
				log.Warn().Err(err).Str("module", "app.presence").Str("room", string(roomID)).Msg("viewer stats persist failed")
			}
		}()
	}
	return count
}

package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"livecast/internal/domain"
)

type producerClosedEvent struct {
	Type       string `json:"type"`
	ProducerID string `json:"producerId"`
}

type viewerLeftEvent struct {
	Type     string          `json:"type"`
	Identity domain.Identity `json:"identity"`
}

// OnDisconnect runs once per channel teardown, after the channel left its
// groups. Cleanup is best-effort per room: one room failing never stops
// cleanup of the others and never crashes the coordinator.
func (o *Orchestrator) OnDisconnect(ctx context.Context, identity domain.Identity, roomIDs []domain.RoomID) {
	for _, roomID := range roomIDs {
		o.cleanupRoom(ctx, identity, roomID)
	}
}

func (o *Orchestrator) cleanupRoom(ctx context.Context, identity domain.Identity, roomID domain.RoomID) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.disconnect").Str("room", string(roomID)).Any("panic", r).Msg("room cleanup panicked")
		}
	}()

	// Owner has to be read before removal can destroy the room.
	owner, hadRoom := o.Registry.Owner(roomID)
	wasOwner := hadRoom && owner == identity

	removed := o.Registry.RemoveParticipant(roomID, identity)

	bg := context.WithoutCancel(ctx)
	group := domain.RoomGroup(roomID)
	for _, producerID := range removed.ProducerIDs {
		if err := o.Engine.CloseProducer(bg, producerID); err != nil {
			log.Warn().Err(err).Str("module", "app.disconnect").Str("producer", producerID).Msg("engine close producer failed")
		}
		o.Bcast.Broadcast(group, producerClosedEvent{Type: "producer-closed", ProducerID: producerID})
	}
	for _, consumerID := range removed.ConsumerIDs {
		if err := o.Engine.CloseConsumer(bg, consumerID); err != nil {
			log.Warn().Err(err).Str("module", "app.disconnect").Str("consumer", consumerID).Msg("engine close consumer failed")
		}
	}
	for _, transportID := range removed.TransportIDs {
		if err := o.Engine.CloseTransport(bg, transportID); err != nil {
			log.Warn().Err(err).Str("module", "app.disconnect").Str("transport", transportID).Msg("engine close transport failed")
		}
	}

	// Only the broadcaster's departure ends the room's recording and its
	// live flag; a viewer dropping must not cut the stream's artifact.
	if wasOwner {
		if o.Recordings != nil {
			if err := o.Recordings.EndRecording(bg, roomID); err != nil {
				log.Warn().Err(err).Str("module", "app.disconnect").Str("room", string(roomID)).Msg("finalize recording failed")
			}
		}
		if o.Store != nil {
			go func() {
				if err := o.Store.MarkEnded(bg, roomID); err != nil {
					log.Warn().Err(err).Str("module", "app.disconnect").Str("room", string(roomID)).Msg("mark ended failed")
				}
			}()
		}
	}

	if o.Presence != nil {
		o.Presence.Recompute(ctx, roomID)
	}
	o.Bcast.Broadcast(group, viewerLeftEvent{Type: "viewer-left", Identity: identity})

	log.Info().Str("module", "app.disconnect").Str("room", string(roomID)).Str("identity", string(identity)).
		Int("producers_closed", len(removed.ProducerIDs)).Msg("disconnect cleanup done")
}

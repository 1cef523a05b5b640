// Package app coordinates the registry, the media engine and the signal
// hub: multi-step signaling flows, presence recomputation and disconnect
// cleanup. Engine calls happen outside the registry lock with a bounded
// timeout; a registry entry appears only after the engine reported success.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"livecast/internal/adapters/rtc"
	"livecast/internal/core"
	"livecast/internal/domain"
)

type Orchestrator struct {
	Registry   *core.Registry
	Engine     rtc.Engine
	Presence   *Presence
	Store      StreamStore
	Recordings Recorder
	Bcast      Broadcaster
	Timeout    time.Duration
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// translate maps engine-deadline failures onto the local timeout error so
// clients never see context internals.
func translate(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTimeout
	}
	return err
}

// GetCapabilities returns the room's capability set; the room must have
// been created by the producing side.
func (o *Orchestrator) GetCapabilities(roomID domain.RoomID) (domain.CapabilitySet, error) {
	return o.Registry.Capabilities(roomID)
}

// CreateTransport creates (or returns the existing) transport for the
// participant in the given direction. direction=send creates the room on
// first use, making the caller its owner.
func (o *Orchestrator) CreateTransport(ctx context.Context, roomID domain.RoomID, identity domain.Identity, direction domain.Direction) (json.RawMessage, error) {
	if roomID == "" {
		return nil, core.ErrInvalidArgument
	}
	if !direction.Valid() {
		return nil, core.ErrInvalidDirection
	}

	if direction == domain.DirectionSend && !o.Registry.RoomExists(roomID) {
		tctx, cancel := o.withTimeout(ctx)
		caps, err := o.Engine.Capabilities(tctx)
		cancel()
		if err != nil {
			return nil, translate(err)
		}
		o.Registry.EnsureRoom(roomID, identity, caps)
		if o.Store != nil {
			go func() {
				if err := o.Store.MarkLive(context.WithoutCancel(ctx), roomID); err != nil {
					log.Warn().Err(err).Str("module", "app.orch").Str("room", string(roomID)).Msg("mark live failed")
				}
			}()
		}
	}
	if err := o.Registry.AddParticipant(roomID, identity); err != nil {
		return nil, err
	}

	if id, params, ok, err := o.Registry.TransportParams(roomID, identity, direction); err != nil {
		return nil, err
	} else if ok {
		log.Info().Str("module", "app.orch").Str("transport", id).Msg("returning existing transport")
		return params, nil
	}

	tctx, cancel := o.withTimeout(ctx)
	defer cancel()
	handle, err := o.Engine.CreateTransport(tctx, direction)
	if err != nil {
		return nil, translate(err)
	}
	attachedID, err := o.Registry.AttachTransport(roomID, identity, direction, handle.ID, handle.Params)
	if err != nil || attachedID != handle.ID {
		// Participant vanished mid-flight or lost an attach race; the
		// fresh engine transport must not leak.
		_ = o.Engine.CloseTransport(context.WithoutCancel(ctx), handle.ID)
		if err != nil {
			return nil, err
		}
		_, params, _, perr := o.Registry.TransportParams(roomID, identity, direction)
		return params, perr
	}
	return handle.Params, nil
}

// ConnectTransport drives the transport through connecting to connected.
// A handshake failure closes the transport; that transition is a valid
// path, not a registry error.
func (o *Orchestrator) ConnectTransport(ctx context.Context, roomID domain.RoomID, identity domain.Identity, transportID string, clientParams json.RawMessage) (json.RawMessage, error) {
	if err := o.Registry.SetTransportState(roomID, identity, transportID, domain.TransportConnecting); err != nil {
		return nil, err
	}
	tctx, cancel := o.withTimeout(ctx)
	defer cancel()
	answer, err := o.Engine.ConnectTransport(tctx, transportID, clientParams)
	if err != nil {
		_ = o.Registry.SetTransportState(roomID, identity, transportID, domain.TransportClosed)
		return nil, translate(err)
	}
	if err := o.Registry.SetTransportState(roomID, identity, transportID, domain.TransportConnected); err != nil {
		return nil, err
	}
	return answer, nil
}

// Produce creates a producer on the participant's send transport. The
// registry entry exists only if the engine call succeeded; on a registry
// failure the engine producer is torn down again.
func (o *Orchestrator) Produce(ctx context.Context, roomID domain.RoomID, identity domain.Identity, transportID string, kind domain.MediaKind, clientParams json.RawMessage, screenShare bool) (string, error) {
	if !kind.Valid() {
		return "", core.ErrInvalidArgument
	}
	if err := o.Registry.ValidateSendTransport(roomID, identity, transportID); err != nil {
		return "", err
	}
	tctx, cancel := o.withTimeout(ctx)
	defer cancel()
	handle, err := o.Engine.Produce(tctx, transportID, kind, clientParams)
	if err != nil {
		return "", translate(err)
	}
	if err := o.Registry.RegisterProducer(roomID, identity, transportID, handle.ID, kind, screenShare); err != nil {
		_ = o.Engine.CloseProducer(context.WithoutCancel(ctx), handle.ID)
		return "", err
	}
	return handle.ID, nil
}

// Consume creates a paused consumer on the participant's recv transport
// for the given producer.
func (o *Orchestrator) Consume(ctx context.Context, roomID domain.RoomID, identity domain.Identity, producerID string, remoteCaps json.RawMessage) (json.RawMessage, error) {
	transportID, _, ok, err := o.Registry.TransportParams(roomID, identity, domain.DirectionRecv)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrTransportNotFound
	}
	tctx, cancel := o.withTimeout(ctx)
	defer cancel()
	handle, err := o.Engine.Consume(tctx, transportID, producerID, remoteCaps)
	if err != nil {
		return nil, translate(err)
	}
	if err := o.Registry.RegisterConsumer(roomID, identity, handle.ID, producerID, transportID); err != nil {
		_ = o.Engine.CloseConsumer(context.WithoutCancel(ctx), handle.ID)
		return nil, err
	}
	return handle.Params, nil
}

// ResumeConsumer activates a paused consumer. Engine first: the registry
// never shows an active consumer whose engine resume failed.
func (o *Orchestrator) ResumeConsumer(ctx context.Context, roomID domain.RoomID, identity domain.Identity, consumerID string) error {
	tctx, cancel := o.withTimeout(ctx)
	defer cancel()
	if err := o.Engine.ResumeConsumer(tctx, consumerID); err != nil {
		return translate(err)
	}
	return o.Registry.ResumeConsumer(roomID, identity, consumerID)
}

// CloseProducer closes a producer owned by the caller. Idempotent: closing
// an absent producer reports found=false and is not an error.
func (o *Orchestrator) CloseProducer(ctx context.Context, roomID domain.RoomID, identity domain.Identity, producerID string) bool {
	removedConsumers, found := o.Registry.CloseProducer(roomID, identity, producerID)
	if !found {
		return false
	}
	bg := context.WithoutCancel(ctx)
	if err := o.Engine.CloseProducer(bg, producerID); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("producer", producerID).Msg("engine close producer failed")
	}
	for _, id := range removedConsumers {
		if err := o.Engine.CloseConsumer(bg, id); err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("consumer", id).Msg("engine close consumer failed")
		}
	}
	return true
}

// GetProducers is best-effort: any internal error yields an empty list,
// never a client-visible failure.
func (o *Orchestrator) GetProducers(roomID domain.RoomID, identity domain.Identity) []domain.ProducerInfo {
	out, err := o.Registry.ListOtherProducers(roomID, identity)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("room", string(roomID)).Msg("get producers failed")
		return []domain.ProducerInfo{}
	}
	if out == nil {
		out = []domain.ProducerInfo{}
	}
	return out
}

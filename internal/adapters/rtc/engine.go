// Package rtc is the facade over the media transport engine. The rest of
// the system talks to the Engine interface; engine-internal types and
// errors never cross this boundary.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"livecast/internal/domain"
)

// ErrAdapter wraps every engine-level failure. Callers match with
// errors.Is and report the flattened message to clients.
var ErrAdapter = errors.New("media engine failure")

func adapterErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrAdapter, op, err)
}

// TransportHandle carries the engine id and the serialized connection
// parameters a client needs to set up its side.
type TransportHandle struct {
	ID     string
	Params json.RawMessage
}

type ProducerHandle struct {
	ID string
}

// ConsumerHandle is created paused; media flows only after an explicit
// resume from the owning participant.
type ConsumerHandle struct {
	ID     string
	Params json.RawMessage
}

type Engine interface {
	// Capabilities returns the negotiated capability set, fetched once
	// per room.
	Capabilities(ctx context.Context) (domain.CapabilitySet, error)
	CreateTransport(ctx context.Context, direction domain.Direction) (TransportHandle, error)
	// ConnectTransport applies the client's handshake parameters and
	// returns the local ones, completing the round-trip that drives the
	// transport to connected.
	ConnectTransport(ctx context.Context, transportID string, clientParams json.RawMessage) (json.RawMessage, error)
	Produce(ctx context.Context, transportID string, kind domain.MediaKind, clientParams json.RawMessage) (ProducerHandle, error)
	Consume(ctx context.Context, transportID, producerID string, remoteCaps json.RawMessage) (ConsumerHandle, error)
	ResumeConsumer(ctx context.Context, consumerID string) error
	CloseProducer(ctx context.Context, producerID string) error
	CloseConsumer(ctx context.Context, consumerID string) error
	CloseTransport(ctx context.Context, transportID string) error
}

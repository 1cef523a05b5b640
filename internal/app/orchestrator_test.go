package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"livecast/internal/adapters/rtc"
	"livecast/internal/core"
	"livecast/internal/domain"
)

// fakeEngine hands out sequential ids and records close calls. Any of the
// fail* hooks force the corresponding call to error.
type fakeEngine struct {
	mu               sync.Mutex
	nextID           int
	failProduce      bool
	failCreate       bool
	failConnect      bool
	closedProducers  []string
	closedConsumers  []string
	closedTransports []string
}

func (f *fakeEngine) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeEngine) Capabilities(ctx context.Context) (domain.CapabilitySet, error) {
	return []byte(`{"codecs":[]}`), nil
}

func (f *fakeEngine) CreateTransport(ctx context.Context, direction domain.Direction) (rtc.TransportHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return rtc.TransportHandle{}, errors.New("create failed")
	}
	id := f.id("t")
	return rtc.TransportHandle{ID: id, Params: []byte(`{"id":"` + id + `"}`)}, nil
}

func (f *fakeEngine) ConnectTransport(ctx context.Context, transportID string, clientParams json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConnect {
		return nil, errors.New("handshake failed")
	}
	return nil, nil
}

func (f *fakeEngine) Produce(ctx context.Context, transportID string, kind domain.MediaKind, clientParams json.RawMessage) (rtc.ProducerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failProduce {
		return rtc.ProducerHandle{}, errors.New("produce failed")
	}
	return rtc.ProducerHandle{ID: f.id("p")}, nil
}

func (f *fakeEngine) Consume(ctx context.Context, transportID, producerID string, remoteCaps json.RawMessage) (rtc.ConsumerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id("c")
	return rtc.ConsumerHandle{ID: id, Params: []byte(`{"id":"` + id + `"}`)}, nil
}

func (f *fakeEngine) ResumeConsumer(ctx context.Context, consumerID string) error { return nil }

func (f *fakeEngine) CloseProducer(ctx context.Context, producerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedProducers = append(f.closedProducers, producerID)
	return nil
}

func (f *fakeEngine) CloseConsumer(ctx context.Context, consumerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedConsumers = append(f.closedConsumers, consumerID)
	return nil
}

func (f *fakeEngine) CloseTransport(ctx context.Context, transportID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedTransports = append(f.closedTransports, transportID)
	return nil
}

// fakeHub implements Roster and Broadcaster with fixed memberships and a
// recorded event log.
type fakeHub struct {
	mu      sync.Mutex
	members map[string][]domain.Identity
	events  []broadcastRecord
}

type broadcastRecord struct {
	group string
	event any
}

func (f *fakeHub) Identities(group string) []domain.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[domain.Identity]struct{}{}
	var out []domain.Identity
	for _, id := range f.members[group] {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (f *fakeHub) Broadcast(group string, event any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, broadcastRecord{group: group, event: event})
}

func (f *fakeHub) eventsOfType(typ string) []broadcastRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broadcastRecord
	for _, rec := range f.events {
		switch e := rec.event.(type) {
		case producerClosedEvent:
			if e.Type == typ {
				out = append(out, rec)
			}
		case viewerLeftEvent:
			if e.Type == typ {
				out = append(out, rec)
			}
		case viewerCountEvent:
			if e.Type == typ {
				out = append(out, rec)
			}
		}
	}
	return out
}

type fakeRecorder struct {
	mu    sync.Mutex
	ended []domain.RoomID
}

func (f *fakeRecorder) EndRecording(ctx context.Context, roomID domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, roomID)
	return nil
}

func newTestOrchestrator() (*Orchestrator, *fakeEngine, *fakeHub, *fakeRecorder) {
	reg := core.NewRegistry()
	eng := &fakeEngine{}
	hub := &fakeHub{members: map[string][]domain.Identity{}}
	rec := &fakeRecorder{}
	o := &Orchestrator{
		Registry:   reg,
		Engine:     eng,
		Presence:   &Presence{Registry: reg, Roster: hub, Bcast: hub},
		Recordings: rec,
		Bcast:      hub,
	}
	return o, eng, hub, rec
}

func TestCreateTransport_invalidDirection(t *testing.T) {
	o, _, _, _ := newTestOrchestrator()
	if _, err := o.CreateTransport(context.Background(), "room-1", "alice", "sideways"); !errors.Is(err, core.ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
	// A rejected direction must not have created the room.
	if o.Registry.RoomExists("room-1") {
		t.Error("invalid request must not create the room")
	}
}

func TestCreateTransport_sendCreatesRoomWithOwner(t *testing.T) {
	o, _, _, _ := newTestOrchestrator()
	params, err := o.CreateTransport(context.Background(), "room-1", "alice", domain.DirectionSend)
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	if len(params) == 0 {
		t.Error("expected transport params")
	}
	owner, ok := o.Registry.Owner("room-1")
	if !ok || owner != "alice" {
		t.Errorf("expected owner alice, got %q ok=%v", owner, ok)
	}
}

func TestCreateTransport_recvRequiresRoom(t *testing.T) {
	o, _, _, _ := newTestOrchestrator()
	if _, err := o.CreateTransport(context.Background(), "room-1", "bob", domain.DirectionRecv); !errors.Is(err, core.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestCreateTransport_idempotentPerDirection(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator()
	first, err := o.CreateTransport(context.Background(), "room-1", "alice", domain.DirectionSend)
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	second, err := o.CreateTransport(context.Background(), "room-1", "alice", domain.DirectionSend)
	if err != nil {
		t.Fatalf("CreateTransport repeat: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("repeated create must return the same transport, got %s then %s", first, second)
	}
	if len(eng.closedTransports) != 0 {
		t.Errorf("idempotent path must not close anything, closed %v", eng.closedTransports)
	}
}

func TestCreateTransport_retryAfterHandshakeFailure(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator()
	ctx := context.Background()
	first, err := o.CreateTransport(ctx, "room-1", "alice", domain.DirectionSend)
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}

	eng.failConnect = true
	if _, err := o.ConnectTransport(ctx, "room-1", "alice", "t-1", []byte(`{}`)); err == nil {
		t.Fatal("expected handshake failure")
	}
	eng.failConnect = false

	// The closed transport must not be served again; the retry gets a
	// fresh one.
	second, err := o.CreateTransport(ctx, "room-1", "alice", domain.DirectionSend)
	if err != nil {
		t.Fatalf("CreateTransport retry: %v", err)
	}
	if string(first) == string(second) {
		t.Errorf("retry after handshake failure must create a new transport, got %s twice", second)
	}
	if _, err := o.ConnectTransport(ctx, "room-1", "alice", "t-2", []byte(`{}`)); err != nil {
		t.Errorf("fresh transport should connect: %v", err)
	}
}

func TestProduce_engineFailureLeavesNoRegistryEntry(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator()
	if _, err := o.CreateTransport(context.Background(), "room-1", "alice", domain.DirectionSend); err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	eng.failProduce = true
	_, err := o.Produce(context.Background(), "room-1", "alice", "t-1", domain.KindAudio, nil, false)
	if err == nil {
		t.Fatal("expected produce failure")
	}
	prods := o.GetProducers("room-1", "someone-else")
	if len(prods) != 0 {
		t.Errorf("failed produce must not register a producer, got %+v", prods)
	}
}

func TestProduce_invalidKind(t *testing.T) {
	o, _, _, _ := newTestOrchestrator()
	if _, err := o.Produce(context.Background(), "room-1", "alice", "t-1", "smell", nil, false); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestGetProducers_neverNil(t *testing.T) {
	o, _, _, _ := newTestOrchestrator()
	prods := o.GetProducers("missing-room", "bob")
	if prods == nil {
		t.Fatal("GetProducers must return an empty slice, not nil")
	}
	if len(prods) != 0 {
		t.Errorf("expected empty, got %+v", prods)
	}
}

func TestCloseProducer_idempotentAndCleansEngine(t *testing.T) {
	o, eng, _, _ := newTestOrchestrator()
	ctx := context.Background()
	if _, err := o.CreateTransport(ctx, "room-1", "alice", domain.DirectionSend); err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	producerID, err := o.Produce(ctx, "room-1", "alice", "t-1", domain.KindAudio, nil, false)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}

	if !o.CloseProducer(ctx, "room-1", "alice", producerID) {
		t.Fatal("first close should report found")
	}
	if o.CloseProducer(ctx, "room-1", "alice", producerID) {
		t.Error("second close should report not found")
	}
	if len(eng.closedProducers) != 1 || eng.closedProducers[0] != producerID {
		t.Errorf("engine should have closed %s exactly once, saw %v", producerID, eng.closedProducers)
	}
}

func TestOnDisconnect_ownerTeardown(t *testing.T) {
	o, eng, hub, rec := newTestOrchestrator()
	ctx := context.Background()
	if _, err := o.CreateTransport(ctx, "room-1", "alice", domain.DirectionSend); err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	p1, err := o.Produce(ctx, "room-1", "alice", "t-1", domain.KindAudio, nil, false)
	if err != nil {
		t.Fatalf("Produce audio: %v", err)
	}
	p2, err := o.Produce(ctx, "room-1", "alice", "t-1", domain.KindVideo, nil, false)
	if err != nil {
		t.Fatalf("Produce video: %v", err)
	}

	o.OnDisconnect(ctx, "alice", []domain.RoomID{"room-1"})

	if o.Registry.RoomExists("room-1") {
		t.Error("room should be gone after its last participant left")
	}
	if len(eng.closedProducers) != 2 {
		t.Errorf("expected both producers closed, saw %v", eng.closedProducers)
	}
	closed := hub.eventsOfType("producer-closed")
	if len(closed) != 2 {
		t.Fatalf("expected one producer-closed per producer, got %d", len(closed))
	}
	seen := map[string]bool{}
	for _, ev := range closed {
		seen[ev.event.(producerClosedEvent).ProducerID] = true
	}
	if !seen[p1] || !seen[p2] {
		t.Errorf("producer-closed ids %v missing %s or %s", seen, p1, p2)
	}
	if len(hub.eventsOfType("viewer-left")) != 1 {
		t.Error("expected one viewer-left event")
	}
	if len(hub.eventsOfType("viewer-count")) == 0 {
		t.Error("expected a viewer-count recompute after disconnect")
	}
	if len(rec.ended) != 1 || rec.ended[0] != "room-1" {
		t.Errorf("owner departure should finalize the recording, got %v", rec.ended)
	}
}

func TestOnDisconnect_viewerKeepsRecordingOpen(t *testing.T) {
	o, _, _, rec := newTestOrchestrator()
	ctx := context.Background()
	if _, err := o.CreateTransport(ctx, "room-1", "alice", domain.DirectionSend); err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	if _, err := o.CreateTransport(ctx, "room-1", "bob", domain.DirectionRecv); err != nil {
		t.Fatalf("CreateTransport recv: %v", err)
	}

	o.OnDisconnect(ctx, "bob", []domain.RoomID{"room-1"})

	if len(rec.ended) != 0 {
		t.Errorf("viewer departure must not finalize the recording, got %v", rec.ended)
	}
	if !o.Registry.RoomExists("room-1") {
		t.Error("room should survive while the owner stays")
	}
}

func TestOnDisconnect_missingRoomIsNoop(t *testing.T) {
	o, _, _, _ := newTestOrchestrator()
	// Must not panic or error on a room that never existed.
	o.OnDisconnect(context.Background(), "ghost", []domain.RoomID{"nope"})
}

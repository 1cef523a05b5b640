// Package core owns the in-memory state model of live rooms: participants,
// transports, producers and consumers. Pure state plus invariants, no I/O.
// Mutations happen only through the Registry; every operation completes
// under one critical section so callers never observe a half-applied change.
package core

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"livecast/internal/domain"
)

type transport struct {
	id        string
	direction domain.Direction
	state     domain.TransportState
	params    json.RawMessage
}

type producer struct {
	id          string
	kind        domain.MediaKind
	screenShare bool
}

type consumer struct {
	id          string
	producerID  string
	transportID string
	paused      bool
}

type participant struct {
	identity   domain.Identity
	transports map[domain.Direction]*transport
	producers  map[string]*producer
	prodOrder  []string
	consumers  map[string]*consumer
}

type room struct {
	id           domain.RoomID
	owner        domain.Identity
	caps         domain.CapabilitySet
	participants map[domain.Identity]*participant
	order        []domain.Identity
}

// Registry is the single owner of room state in this process. A multi-node
// deployment would promote it to a sharded store with per-room ownership;
// here one RWMutex serializes all mutations.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*room)}
}

// EnsureRoom returns the room or creates it with the negotiated capability
// set. Idempotent: a second call keeps the first capabilities and owner.
func (r *Registry) EnsureRoom(id domain.RoomID, owner domain.Identity, caps domain.CapabilitySet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[id]; ok {
		return
	}
	r.rooms[id] = &room{
		id:           id,
		owner:        owner,
		caps:         caps,
		participants: make(map[domain.Identity]*participant),
	}
	log.Info().Str("module", "core.registry").Str("room", string(id)).Str("owner", string(owner)).Msg("room created")
}

func (r *Registry) RoomExists(id domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[id]
	return ok
}

// Capabilities returns the room's capability set, fetched once at creation
// and immutable for the room's lifetime.
func (r *Registry) Capabilities(id domain.RoomID) (domain.CapabilitySet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return rm.caps, nil
}

// Owner returns the identity that created the room by producing into it.
func (r *Registry) Owner(id domain.RoomID) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	if !ok {
		return "", false
	}
	return rm.owner, true
}

// AddParticipant registers an identity in the room, returning without error
// if it is already present. The room must have been created by the
// producing side first.
func (r *Registry) AddParticipant(roomID domain.RoomID, identity domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if _, ok := rm.participants[identity]; ok {
		return nil
	}
	rm.participants[identity] = &participant{
		identity:   identity,
		transports: make(map[domain.Direction]*transport),
		producers:  make(map[string]*producer),
		consumers:  make(map[string]*consumer),
	}
	rm.order = append(rm.order, identity)
	log.Info().Str("module", "core.registry").Str("room", string(roomID)).Str("identity", string(identity)).Msg("participant added")
	return nil
}

// TransportParams returns the id and serialized connection parameters of
// the participant's transport for a direction, if one was already attached.
// Used for the idempotent-by-direction create-transport path.
func (r *Registry) TransportParams(roomID domain.RoomID, identity domain.Identity, direction domain.Direction) (string, json.RawMessage, bool, error) {
	if !direction.Valid() {
		return "", nil, false, ErrInvalidDirection
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.participantLocked(roomID, identity)
	if err != nil {
		return "", nil, false, err
	}
	t, ok := p.transports[direction]
	if !ok || t.state == domain.TransportClosed {
		return "", nil, false, nil
	}
	return t.id, t.params, true, nil
}

// AttachTransport records an engine-created transport for the participant.
// At most one live transport per (participant, direction): if one is already
// attached its id is returned and the caller must tear the new one down. A
// closed transport is not reusable and is replaced by the new one.
func (r *Registry) AttachTransport(roomID domain.RoomID, identity domain.Identity, direction domain.Direction, transportID string, params json.RawMessage) (string, error) {
	if !direction.Valid() {
		return "", ErrInvalidDirection
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.participantLocked(roomID, identity)
	if err != nil {
		return "", err
	}
	if t, ok := p.transports[direction]; ok && t.state != domain.TransportClosed {
		return t.id, nil
	}
	p.transports[direction] = &transport{id: transportID, direction: direction, state: domain.TransportCreated, params: params}
	log.Info().Str("module", "core.registry").Str("room", string(roomID)).Str("identity", string(identity)).
		Str("transport", transportID).Str("direction", string(direction)).Msg("transport attached")
	return transportID, nil
}

// SetTransportState drives a transport's connection state. Closed is
// terminal; connecting->closed is a valid failure path, not an error here.
func (r *Registry) SetTransportState(roomID domain.RoomID, identity domain.Identity, transportID string, state domain.TransportState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.participantLocked(roomID, identity)
	if err != nil {
		return err
	}
	t := p.transportByID(transportID)
	if t == nil {
		return ErrTransportNotFound
	}
	if t.state == domain.TransportClosed {
		return nil
	}
	t.state = state
	return nil
}

// RegisterProducer records an engine-created producer on the participant's
// send transport. Call only after the engine reported success.
func (r *Registry) RegisterProducer(roomID domain.RoomID, identity domain.Identity, transportID, producerID string, kind domain.MediaKind, screenShare bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.participantLocked(roomID, identity)
	if err != nil {
		return err
	}
	t := p.transportByID(transportID)
	if t == nil {
		return ErrTransportNotFound
	}
	if t.direction != domain.DirectionSend {
		return ErrNotSendTransport
	}
	p.producers[producerID] = &producer{id: producerID, kind: kind, screenShare: screenShare}
	p.prodOrder = append(p.prodOrder, producerID)
	log.Info().Str("module", "core.registry").Str("room", string(roomID)).Str("identity", string(identity)).
		Str("producer", producerID).Str("kind", string(kind)).Bool("screen", screenShare).Msg("producer registered")
	return nil
}

// ValidateSendTransport checks the produce preconditions without mutating
// anything, so the gateway can fail before calling the engine.
func (r *Registry) ValidateSendTransport(roomID domain.RoomID, identity domain.Identity, transportID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.participantLocked(roomID, identity)
	if err != nil {
		return err
	}
	t := p.transportByID(transportID)
	if t == nil {
		return ErrTransportNotFound
	}
	if t.direction != domain.DirectionSend {
		return ErrNotSendTransport
	}
	return nil
}

// CloseProducer removes the producer and every consumer in the room fed by
// it. Idempotent: closing an absent producer is a no-op. Returns the ids of
// removed consumers so the caller can tear down their engine handles, and
// whether the producer was actually present.
func (r *Registry) CloseProducer(roomID domain.RoomID, identity domain.Identity, producerID string) (removedConsumers []string, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	p, ok := rm.participants[identity]
	if !ok {
		return nil, false
	}
	if _, ok := p.producers[producerID]; !ok {
		return nil, false
	}
	delete(p.producers, producerID)
	p.prodOrder = removeID(p.prodOrder, producerID)
	removedConsumers = rm.dropConsumersOf(producerID)
	log.Info().Str("module", "core.registry").Str("room", string(roomID)).Str("producer", producerID).Msg("producer closed")
	return removedConsumers, true
}

// RegisterConsumer records an engine-created consumer. Consumers start
// paused and reference exactly one producer and one recv transport.
func (r *Registry) RegisterConsumer(roomID domain.RoomID, identity domain.Identity, consumerID, producerID, transportID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.participantLocked(roomID, identity)
	if err != nil {
		return err
	}
	t := p.transportByID(transportID)
	if t == nil {
		return ErrTransportNotFound
	}
	p.consumers[consumerID] = &consumer{id: consumerID, producerID: producerID, transportID: transportID, paused: true}
	return nil
}

// ResumeConsumer marks a consumer active after the client's explicit resume.
func (r *Registry) ResumeConsumer(roomID domain.RoomID, identity domain.Identity, consumerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.participantLocked(roomID, identity)
	if err != nil {
		return err
	}
	c, ok := p.consumers[consumerID]
	if !ok {
		return ErrConsumerNotFound
	}
	c.paused = false
	return nil
}

// ListOtherProducers returns descriptors of every producer in the room not
// owned by exclude, in room insertion order. Always recomputed from current
// state.
func (r *Registry) ListOtherProducers(roomID domain.RoomID, exclude domain.Identity) ([]domain.ProducerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	var out []domain.ProducerInfo
	for _, identity := range rm.order {
		if identity == exclude {
			continue
		}
		p := rm.participants[identity]
		for _, pid := range p.prodOrder {
			pr := p.producers[pid]
			out = append(out, domain.ProducerInfo{
				ID:          pr.id,
				Identity:    identity,
				Kind:        pr.kind,
				ScreenShare: pr.screenShare,
			})
		}
	}
	return out, nil
}

// Removed describes everything torn out of the registry for a departing
// participant, so the caller can close engine handles and notify peers.
type Removed struct {
	ProducerIDs  []string
	ConsumerIDs  []string
	TransportIDs []string
}

// RemoveParticipant closes all of the participant's producers and
// transports and removes it from the room. The room itself is destroyed
// when its last participant leaves.
func (r *Registry) RemoveParticipant(roomID domain.RoomID, identity domain.Identity) Removed {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rem Removed
	rm, ok := r.rooms[roomID]
	if !ok {
		return rem
	}
	p, ok := rm.participants[identity]
	if !ok {
		return rem
	}
	rem.ProducerIDs = append(rem.ProducerIDs, p.prodOrder...)
	for _, pid := range p.prodOrder {
		rem.ConsumerIDs = append(rem.ConsumerIDs, rm.dropConsumersOf(pid)...)
	}
	for _, c := range p.consumers {
		rem.ConsumerIDs = append(rem.ConsumerIDs, c.id)
	}
	for _, t := range p.transports {
		t.state = domain.TransportClosed
		rem.TransportIDs = append(rem.TransportIDs, t.id)
	}
	delete(rm.participants, identity)
	rm.order = removeIdentity(rm.order, identity)
	if len(rm.participants) == 0 {
		delete(r.rooms, roomID)
		log.Info().Str("module", "core.registry").Str("room", string(roomID)).Msg("room destroyed")
	}
	log.Info().Str("module", "core.registry").Str("room", string(roomID)).Str("identity", string(identity)).
		Int("producers", len(rem.ProducerIDs)).Msg("participant removed")
	return rem
}

// RoomSnapshot is a read-only view for the HTTP surface.
type RoomSnapshot struct {
	ID           domain.RoomID         `json:"roomId"`
	Owner        domain.Identity       `json:"owner"`
	Participants int                   `json:"participants"`
	Producers    []domain.ProducerInfo `json:"producers"`
}

func (r *Registry) Snapshot(roomID domain.RoomID) (RoomSnapshot, error) {
	prods, err := r.ListOtherProducers(roomID, "")
	if err != nil {
		return RoomSnapshot{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return RoomSnapshot{}, ErrRoomNotFound
	}
	return RoomSnapshot{ID: rm.id, Owner: rm.owner, Participants: len(rm.participants), Producers: prods}, nil
}

// RoomCount reports how many rooms are live, for the metrics gauge.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) participantLocked(roomID domain.RoomID, identity domain.Identity) (*participant, error) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	p, ok := rm.participants[identity]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	return p, nil
}

func (p *participant) transportByID(id string) *transport {
	for _, t := range p.transports {
		if t.id == id {
			return t
		}
	}
	return nil
}

// dropConsumersOf removes every consumer in the room fed by producerID.
func (rm *room) dropConsumersOf(producerID string) []string {
	var removed []string
	for _, p := range rm.participants {
		for id, c := range p.consumers {
			if c.producerID == producerID {
				delete(p.consumers, id)
				removed = append(removed, id)
			}
		}
	}
	return removed
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func removeIdentity(ids []domain.Identity, id domain.Identity) []domain.Identity {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

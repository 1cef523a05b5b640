package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"livecast/internal/domain"
)

var errNotFound = errors.New("not found")

// pionTransport is one peer connection, directional. Send transports
// receive remote tracks; recv transports carry consumers' local tracks.
type pionTransport struct {
	id        string
	direction domain.Direction
	pc        *webrtc.PeerConnection

	mu      sync.Mutex
	pending []*pionProducer // produce intents waiting for their track
}

type pionProducer struct {
	id          string
	kind        domain.MediaKind
	transportID string
	relay       *relay
}

type pionConsumer struct {
	id          string
	producerID  string
	transportID string
	kind        domain.MediaKind
	sender      *webrtc.RTPSender
}

// PionEngine implements Engine over pion peer connections, relaying RTP
// from each producer's remote track to per-consumer local tracks.
type PionEngine struct {
	ctx  context.Context
	cfg  webrtc.Configuration
	caps domain.CapabilitySet

	mu         sync.RWMutex
	transports map[string]*pionTransport
	producers  map[string]*pionProducer
	consumers  map[string]*pionConsumer
}

// DefaultConfiguration mirrors a plain STUN-only setup; TURN and bandwidth
// estimation are the engine's own business, not this core's.
func DefaultConfiguration(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	}
}

func NewPionEngine(ctx context.Context, cfg webrtc.Configuration) *PionEngine {
	caps, _ := json.Marshal(map[string]any{
		"codecs": []map[string]any{
			{"mimeType": webrtc.MimeTypeOpus, "clockRate": 48000, "channels": 2},
			{"mimeType": webrtc.MimeTypeVP8, "clockRate": 90000},
		},
	})
	return &PionEngine{
		ctx:        ctx,
		cfg:        cfg,
		caps:       caps,
		transports: make(map[string]*pionTransport),
		producers:  make(map[string]*pionProducer),
		consumers:  make(map[string]*pionConsumer),
	}
}

func (e *PionEngine) Capabilities(ctx context.Context) (domain.CapabilitySet, error) {
	return e.caps, nil
}

func (e *PionEngine) CreateTransport(ctx context.Context, direction domain.Direction) (TransportHandle, error) {
	pc, err := webrtc.NewPeerConnection(e.cfg)
	if err != nil {
		return TransportHandle{}, adapterErr("create transport", err)
	}
	t := &pionTransport{
		id:        uuid.NewString(),
		direction: direction,
		pc:        pc,
	}

	if direction == domain.DirectionSend {
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			e.onTrack(t, track)
		})
	}
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("transport", t.id).Str("ice_state", s.String()).Msg("ICE state")
	})

	e.mu.Lock()
	e.transports[t.id] = t
	e.mu.Unlock()

	var iceServers []string
	for _, s := range e.cfg.ICEServers {
		iceServers = append(iceServers, s.URLs...)
	}
	params, _ := json.Marshal(map[string]any{
		"transportId": t.id,
		"direction":   direction,
		"iceServers":  iceServers,
	})
	log.Info().Str("module", "rtc").Str("transport", t.id).Str("direction", string(direction)).Msg("transport created")
	return TransportHandle{ID: t.id, Params: params}, nil
}

// ConnectTransport applies the client's session description. An offer
// yields our answer (initial handshake and post-consume renegotiation); an
// answer completes a server-initiated exchange and yields no payload.
func (e *PionEngine) ConnectTransport(ctx context.Context, transportID string, clientParams json.RawMessage) (json.RawMessage, error) {
	t, err := e.transport(transportID)
	if err != nil {
		return nil, adapterErr("connect transport", err)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(clientParams, &desc); err != nil {
		return nil, adapterErr("connect transport: bad description", err)
	}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return nil, adapterErr("connect transport", err)
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return nil, nil
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, adapterErr("connect transport", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, adapterErr("connect transport", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, adapterErr("connect transport", ctx.Err())
	}
	local, err := json.Marshal(t.pc.LocalDescription())
	if err != nil {
		return nil, adapterErr("connect transport", err)
	}
	log.Info().Str("module", "rtc").Str("transport", transportID).Msg("transport connected")
	return local, nil
}

// Produce registers the intent to publish one track on a send transport.
// The relay starts as soon as the matching remote track arrives.
func (e *PionEngine) Produce(ctx context.Context, transportID string, kind domain.MediaKind, clientParams json.RawMessage) (ProducerHandle, error) {
	t, err := e.transport(transportID)
	if err != nil {
		return ProducerHandle{}, adapterErr("produce", err)
	}
	if t.direction != domain.DirectionSend {
		return ProducerHandle{}, adapterErr("produce", errors.New("transport is not send"))
	}
	p := &pionProducer{
		id:          uuid.NewString(),
		kind:        kind,
		transportID: transportID,
		relay:       newRelay(),
	}

	t.mu.Lock()
	t.pending = append(t.pending, p)
	t.mu.Unlock()

	e.mu.Lock()
	e.producers[p.id] = p
	e.mu.Unlock()

	log.Info().Str("module", "rtc").Str("producer", p.id).Str("kind", string(kind)).Msg("producer created")
	return ProducerHandle{ID: p.id}, nil
}

// onTrack claims the oldest pending producer of the track's kind and starts
// its relay loop.
func (e *PionEngine) onTrack(t *pionTransport, track *webrtc.TrackRemote) {
	kind := domain.MediaKind(track.Kind().String())

	t.mu.Lock()
	var claimed *pionProducer
	for i, p := range t.pending {
		if p.kind == kind {
			claimed = p
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	if claimed == nil {
		log.Warn().Str("module", "rtc").Str("transport", t.id).Str("kind", string(kind)).Msg("track without pending producer, ignoring")
		return
	}
	logger := log.With().Str("module", "rtc.relay").Str("producer", claimed.id).Logger()
	relayCtx, cancel := context.WithCancel(e.ctx)
	claimed.relay.cancel = cancel
	logger.Info().Str("track_id", track.ID()).Msg("starting relay loop")
	go claimed.relay.loop(relayCtx, track, &logger)
}

// Consume attaches a paused out-track for producerID on a recv transport.
func (e *PionEngine) Consume(ctx context.Context, transportID, producerID string, remoteCaps json.RawMessage) (ConsumerHandle, error) {
	t, err := e.transport(transportID)
	if err != nil {
		return ConsumerHandle{}, adapterErr("consume", err)
	}
	if t.direction != domain.DirectionRecv {
		return ConsumerHandle{}, adapterErr("consume", errors.New("transport is not recv"))
	}
	e.mu.RLock()
	p, ok := e.producers[producerID]
	e.mu.RUnlock()
	if !ok {
		return ConsumerHandle{}, adapterErr("consume", errNotFound)
	}

	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if p.kind == domain.KindVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	consumerID := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(codec, consumerID, "livecast")
	if err != nil {
		return ConsumerHandle{}, adapterErr("consume", err)
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return ConsumerHandle{}, adapterErr("consume", err)
	}

	c := &pionConsumer{
		id:          consumerID,
		producerID:  producerID,
		transportID: transportID,
		kind:        p.kind,
		sender:      sender,
	}
	p.relay.addOutTrack(consumerID, newOutTrack(local))
	e.mu.Lock()
	e.consumers[consumerID] = c
	e.mu.Unlock()

	params, _ := json.Marshal(map[string]any{
		"consumerId": consumerID,
		"producerId": producerID,
		"kind":       p.kind,
		"paused":     true,
	})
	log.Info().Str("module", "rtc").Str("consumer", consumerID).Str("producer", producerID).Msg("consumer created paused")
	return ConsumerHandle{ID: consumerID, Params: params}, nil
}

func (e *PionEngine) ResumeConsumer(ctx context.Context, consumerID string) error {
	e.mu.RLock()
	c, ok := e.consumers[consumerID]
	var p *pionProducer
	if ok {
		p = e.producers[c.producerID]
	}
	e.mu.RUnlock()
	if !ok || p == nil {
		return adapterErr("resume consumer", errNotFound)
	}
	ot, ok := p.relay.outTrackOf(consumerID)
	if !ok {
		return adapterErr("resume consumer", errNotFound)
	}
	ot.markActive()
	log.Info().Str("module", "rtc").Str("consumer", consumerID).Msg("consumer resumed")
	return nil
}

func (e *PionEngine) CloseProducer(ctx context.Context, producerID string) error {
	e.mu.Lock()
	p, ok := e.producers[producerID]
	if ok {
		delete(e.producers, producerID)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	p.relay.stop()
	log.Info().Str("module", "rtc").Str("producer", producerID).Msg("producer closed")
	return nil
}

func (e *PionEngine) CloseConsumer(ctx context.Context, consumerID string) error {
	e.mu.Lock()
	c, ok := e.consumers[consumerID]
	var p *pionProducer
	if ok {
		delete(e.consumers, consumerID)
		p = e.producers[c.producerID]
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if p != nil {
		if ot, ok := p.relay.outTrackOf(consumerID); ok {
			ot.markDelete()
		}
	}
	if t, err := e.transport(c.transportID); err == nil {
		_ = t.pc.RemoveTrack(c.sender)
	}
	return nil
}

func (e *PionEngine) CloseTransport(ctx context.Context, transportID string) error {
	e.mu.Lock()
	t, ok := e.transports[transportID]
	if ok {
		delete(e.transports, transportID)
	}
	var orphaned []*pionProducer
	for id, p := range e.producers {
		if p.transportID == transportID {
			orphaned = append(orphaned, p)
			delete(e.producers, id)
		}
	}
	for id, c := range e.consumers {
		if c.transportID == transportID {
			delete(e.consumers, id)
		}
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	for _, p := range orphaned {
		p.relay.stop()
	}
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("transport", transportID).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("transport", transportID).Msg("transport closed")
	}
	return nil
}

func (e *PionEngine) transport(id string) (*pionTransport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.transports[id]
	if !ok {
		return nil, errNotFound
	}
	return t, nil
}

package signal

import (
	"context"
	"encoding/json"

	"livecast/internal/core"
	"livecast/internal/domain"
)

func (ctl *Controller) handleGetCapabilities(c *Conn, requestID string, data []byte) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.respondErr(c, requestID, core.ErrInvalidArgument)
		return
	}
	caps, err := ctl.Orch.GetCapabilities(domain.RoomID(p.RoomID))
	if err != nil {
		ctl.respondErr(c, requestID, err)
		return
	}
	ctl.respond(c, requestID, json.RawMessage(caps))
}

func (ctl *Controller) handleCreateTransport(ctx context.Context, c *Conn, requestID string, data []byte) {
	var p struct {
		RoomID    string `json:"roomId"`
		Direction string `json:"direction"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.respondErr(c, requestID, core.ErrInvalidArgument)
		return
	}
	// Direction is validated before any state is touched.
	direction := domain.Direction(p.Direction)
	if !direction.Valid() {
		ctl.respondErr(c, requestID, core.ErrInvalidDirection)
		return
	}
	roomID := domain.RoomID(p.RoomID)
	params, err := ctl.Orch.CreateTransport(ctx, roomID, c.identity, direction)
	if err != nil {
		ctl.respondErr(c, requestID, err)
		return
	}
	if direction == domain.DirectionSend {
		// The producing side is part of its own room group and owns the
		// channel recording chunks arrive on.
		ctl.Hub.Join(domain.RoomGroup(roomID), c)
		c.setRecordingRoom(roomID)
	}
	ctl.respond(c, requestID, json.RawMessage(params))
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, c *Conn, requestID string, data []byte) {
	var p struct {
		RoomID      string          `json:"roomId"`
		TransportID string          `json:"transportId"`
		Params      json.RawMessage `json:"dtlsParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" || p.TransportID == "" {
		ctl.respondErr(c, requestID, core.ErrInvalidArgument)
		return
	}
	answer, err := ctl.Orch.ConnectTransport(ctx, domain.RoomID(p.RoomID), c.identity, p.TransportID, p.Params)
	if err != nil {
		ctl.respondErr(c, requestID, err)
		return
	}
	resp := map[string]any{"success": true}
	if answer != nil {
		resp["params"] = json.RawMessage(answer)
	}
	ctl.respond(c, requestID, resp)
}

func (ctl *Controller) handleProduce(ctx context.Context, c *Conn, requestID string, data []byte) {
	var p struct {
		RoomID      string          `json:"roomId"`
		TransportID string          `json:"transportId"`
		Kind        string          `json:"kind"`
		Params      json.RawMessage `json:"rtpParameters"`
		ScreenShare bool            `json:"isScreenShare"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" || p.TransportID == "" {
		ctl.respondErr(c, requestID, core.ErrInvalidArgument)
		return
	}
	roomID := domain.RoomID(p.RoomID)
	producerID, err := ctl.Orch.Produce(ctx, roomID, c.identity, p.TransportID, domain.MediaKind(p.Kind), p.Params, p.ScreenShare)
	if err != nil {
		ctl.respondErr(c, requestID, err)
		return
	}
	if ctl.Metrics != nil {
		ctl.Metrics.IncProducersCreated()
	}
	ctl.respond(c, requestID, map[string]any{"producerId": producerID})
	ctl.Hub.BroadcastExcept(domain.RoomGroup(roomID), struct {
		Type        string          `json:"type"`
		Identity    domain.Identity `json:"identity"`
		ProducerID  string          `json:"producerId"`
		Kind        string          `json:"kind"`
		ScreenShare bool            `json:"isScreenShare"`
	}{
		Type:        "new-producer",
		Identity:    c.identity,
		ProducerID:  producerID,
		Kind:        p.Kind,
		ScreenShare: p.ScreenShare,
	}, c)
}

func (ctl *Controller) handleConsume(ctx context.Context, c *Conn, requestID string, data []byte) {
	var p struct {
		RoomID     string          `json:"roomId"`
		ProducerID string          `json:"producerId"`
		Caps       json.RawMessage `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" || p.ProducerID == "" {
		ctl.respondErr(c, requestID, core.ErrInvalidArgument)
		return
	}
	params, err := ctl.Orch.Consume(ctx, domain.RoomID(p.RoomID), c.identity, p.ProducerID, p.Caps)
	if err != nil {
		ctl.respondErr(c, requestID, err)
		return
	}
	ctl.respond(c, requestID, json.RawMessage(params))
}

func (ctl *Controller) handleResumeConsumer(ctx context.Context, c *Conn, requestID string, data []byte) {
	var p struct {
		RoomID     string `json:"roomId"`
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" || p.ConsumerID == "" {
		ctl.respondErr(c, requestID, core.ErrInvalidArgument)
		return
	}
	if err := ctl.Orch.ResumeConsumer(ctx, domain.RoomID(p.RoomID), c.identity, p.ConsumerID); err != nil {
		ctl.respondErr(c, requestID, err)
		return
	}
	ctl.respond(c, requestID, map[string]any{"success": true})
}

// handleGetProducers is best-effort: it always replies with a list, empty
// on any internal error.
func (ctl *Controller) handleGetProducers(c *Conn, requestID string, data []byte) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.respond(c, requestID, []domain.ProducerInfo{})
		return
	}
	ctl.respond(c, requestID, ctl.Orch.GetProducers(domain.RoomID(p.RoomID), c.identity))
}

// handleCloseProducer always replies success, even when the producer was
// already gone.
func (ctl *Controller) handleCloseProducer(ctx context.Context, c *Conn, requestID string, data []byte) {
	var p struct {
		RoomID     string `json:"roomId"`
		ProducerID string `json:"producerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.respondErr(c, requestID, core.ErrInvalidArgument)
		return
	}
	roomID := domain.RoomID(p.RoomID)
	if ctl.Orch.CloseProducer(ctx, roomID, c.identity, p.ProducerID) {
		ctl.Hub.Broadcast(domain.RoomGroup(roomID), struct {
			Type       string `json:"type"`
			ProducerID string `json:"producerId"`
		}{Type: "producer-closed", ProducerID: p.ProducerID})
	}
	ctl.respond(c, requestID, map[string]any{"success": true})
}

package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"livecast/internal/domain"
)

const writeDeadline = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	pingPeriod := ctl.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", c.sid).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Str("sid", c.sid).Msg("writePump channel closed")
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump is the sole dispatcher for its channel: every message is handled
// to completion before the next is read, so requests from one connection
// never interleave their state mutations.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, c *Conn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", c.sid).Msg("readPump closing")
		ctl.teardown(ctx, c)
		cancel()
		c.Close()
	}()

	if ctl.ReadLimit > 0 {
		c.ws.SetReadLimit(ctl.ReadLimit)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("sid", c.sid).Msg("readPump read error")
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			ctl.handleChunk(c, data)
			continue
		}
		ctl.handleRequest(ctx, c, data)
	}
}

// teardown is the disconnect coordinator's entry point: the channel leaves
// all its groups first, then each room it belonged to is unwound.
func (ctl *Controller) teardown(ctx context.Context, c *Conn) {
	groups := ctl.Hub.LeaveAll(c)
	var roomIDs []domain.RoomID
	for _, g := range groups {
		if id, ok := roomIDFromGroup(g); ok {
			roomIDs = append(roomIDs, id)
		}
	}
	ctl.Orch.OnDisconnect(context.WithoutCancel(ctx), c.identity, roomIDs)
}

func roomIDFromGroup(group string) (domain.RoomID, bool) {
	const prefix = "room:"
	if len(group) > len(prefix) && group[:len(prefix)] == prefix {
		return domain.RoomID(group[len(prefix):]), true
	}
	return "", false
}

func (ctl *Controller) handleRequest(ctx context.Context, c *Conn, data []byte) {
	var env struct {
		Type      string `json:"type"`
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", c.sid).Msg("bad json")
		return
	}
	if ctl.Metrics != nil {
		ctl.Metrics.IncSignalRequests()
	}

	switch env.Type {
	case "get-capabilities":
		ctl.handleGetCapabilities(c, env.RequestID, data)
	case "create-transport":
		ctl.handleCreateTransport(ctx, c, env.RequestID, data)
	case "connect-transport":
		ctl.handleConnectTransport(ctx, c, env.RequestID, data)
	case "produce":
		ctl.handleProduce(ctx, c, env.RequestID, data)
	case "consume":
		ctl.handleConsume(ctx, c, env.RequestID, data)
	case "resume-consumer":
		ctl.handleResumeConsumer(ctx, c, env.RequestID, data)
	case "get-producers":
		ctl.handleGetProducers(c, env.RequestID, data)
	case "close-producer":
		ctl.handleCloseProducer(ctx, c, env.RequestID, data)
	case "join-room", "join-chat":
		ctl.handleJoinRoom(ctx, c, env.RequestID, data)
	case "subscribe-viewer-count":
		ctl.handleSubscribeViewerCount(ctx, c, env.RequestID, data)
	case "chat-message":
		ctl.handleChatMessage(ctx, c, env.RequestID, data)
	case "end-recording":
		ctl.handleEndRecording(ctx, c, env.RequestID, data)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) sendJSON(c *Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", c.sid).Msg("send dropped")
	}
}

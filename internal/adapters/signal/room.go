package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"livecast/internal/core"
	"livecast/internal/domain"
)

// handleJoinRoom serves both join-room and join-chat: it attaches the
// channel to the room's broadcast group without requiring any media role.
func (ctl *Controller) handleJoinRoom(ctx context.Context, c *Conn, requestID string, data []byte) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.respondErr(c, requestID, core.ErrInvalidArgument)
		return
	}
	roomID := domain.RoomID(p.RoomID)
	ctl.Hub.Join(domain.RoomGroup(roomID), c)
	count := ctl.Orch.Presence.Recompute(ctx, roomID)
	ctl.respond(c, requestID, map[string]any{"success": true, "viewerCount": count})
}

func (ctl *Controller) handleSubscribeViewerCount(ctx context.Context, c *Conn, requestID string, data []byte) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.respondErr(c, requestID, core.ErrInvalidArgument)
		return
	}
	count := ctl.Orch.Presence.Recompute(ctx, domain.RoomID(p.RoomID))
	ctl.respond(c, requestID, map[string]any{"count": count})
}

// handleChatMessage relays to the room group; persistence is the chat
// collaborator's business, only the per-stream counter is touched here.
func (ctl *Controller) handleChatMessage(ctx context.Context, c *Conn, requestID string, data []byte) {
	var p struct {
		RoomID string `json:"roomId"`
		Text   string `json:"text"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" || p.Text == "" {
		ctl.respondErr(c, requestID, core.ErrInvalidArgument)
		return
	}
	roomID := domain.RoomID(p.RoomID)
	ctl.Hub.BroadcastExcept(domain.RoomGroup(roomID), struct {
		Type     string          `json:"type"`
		Identity domain.Identity `json:"identity"`
		Text     string          `json:"text"`
	}{Type: "chat-message", Identity: c.identity, Text: p.Text}, c)
	if ctl.Store != nil {
		go func() {
			if err := ctl.Store.IncrementChatCounter(context.WithoutCancel(ctx), roomID); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("chat counter failed")
			}
		}()
	}
	ctl.respond(c, requestID, map[string]any{"success": true})
}

package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"livecast/internal/core"
	"livecast/internal/domain"
)

// handleChunk appends a raw media chunk for the room this channel produces
// into. Chunks share the channel with signaling but never touch media
// state; they are appended strictly in arrival order.
func (ctl *Controller) handleChunk(c *Conn, data []byte) {
	if ctl.Recordings == nil {
		return
	}
	roomID := c.recordingRoom()
	if roomID == "" {
		log.Warn().Str("module", "signal").Str("sid", c.sid).Msg("chunk from channel without a send transport, dropped")
		return
	}
	if err := ctl.Recordings.AppendChunk(roomID, c.identity, data); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("append chunk failed")
	}
}

// handleEndRecording finalizes the room's recording. Same gate as chunk
// ingest: only the channel producing into the room may cut its artifact.
func (ctl *Controller) handleEndRecording(ctx context.Context, c *Conn, requestID string, data []byte) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.respondErr(c, requestID, core.ErrInvalidArgument)
		return
	}
	roomID := domain.RoomID(p.RoomID)
	if c.recordingRoom() != roomID {
		ctl.respondErr(c, requestID, core.ErrNotRoomOwner)
		return
	}
	if ctl.Recordings != nil {
		if err := ctl.Recordings.EndRecording(context.WithoutCancel(ctx), roomID); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("room", p.RoomID).Msg("end recording failed")
		}
	}
	ctl.respond(c, requestID, map[string]any{"success": true})
}

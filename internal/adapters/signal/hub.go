package signal

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"livecast/internal/domain"
)

// Hub multiplexes broadcast messages to channel groups. Group names are
// deterministic ("room:<roomId>", "user:<identity>") so the external
// notifier can target the same groups.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Conn]struct{}
	byConn map[*Conn]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		groups: make(map[string]map[*Conn]struct{}),
		byConn: make(map[*Conn]map[string]struct{}),
	}
}

func (h *Hub) Join(group string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.groups[group] == nil {
		h.groups[group] = make(map[*Conn]struct{})
	}
	h.groups[group][c] = struct{}{}
	if h.byConn[c] == nil {
		h.byConn[c] = make(map[string]struct{})
	}
	h.byConn[c][group] = struct{}{}
	log.Debug().Str("module", "signal.hub").Str("group", group).Str("sid", c.sid).Msg("joined group")
}

func (h *Hub) Leave(group string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(group, c)
}

// LeaveAll detaches the channel from every group and returns the groups it
// belonged to, so the disconnect coordinator can unwind each room.
func (h *Hub) LeaveAll(c *Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	groups := make([]string, 0, len(h.byConn[c]))
	for group := range h.byConn[c] {
		groups = append(groups, group)
		h.leaveLocked(group, c)
	}
	return groups
}

func (h *Hub) leaveLocked(group string, c *Conn) {
	if members, ok := h.groups[group]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	if groups, ok := h.byConn[c]; ok {
		delete(groups, group)
		if len(groups) == 0 {
			delete(h.byConn, c)
		}
	}
}

// Identities returns the distinct identities attached to a group; several
// channels (tabs) of one identity collapse to a single entry.
func (h *Hub) Identities(group string) []domain.Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[domain.Identity]struct{})
	var out []domain.Identity
	for c := range h.groups[group] {
		if _, ok := seen[c.identity]; ok {
			continue
		}
		seen[c.identity] = struct{}{}
		out = append(out, c.identity)
	}
	return out
}

// Broadcast fans an event out to every channel in the group. Slow channels
// drop the frame; delivery is never awaited.
func (h *Hub) Broadcast(group string, event any) {
	h.broadcast(group, event, nil)
}

// BroadcastExcept skips the originating channel, for events like
// new-producer that only peers should receive.
func (h *Hub) BroadcastExcept(group string, event any, except *Conn) {
	h.broadcast(group, event, except)
}

func (h *Hub) broadcast(group string, event any, except *Conn) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.hub").Str("group", group).Msg("broadcast marshal")
		return
	}
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.groups[group]))
	for c := range h.groups[group] {
		if c != except {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range members {
		if err := c.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "signal.hub").Str("group", group).Str("sid", c.sid).Msg("broadcast dropped")
		}
	}
}

// ConnCount reports the number of channels attached to any group, for the
// metrics gauge.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byConn)
}

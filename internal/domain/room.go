// Package domain contains entity types without logic, just meta-data.
package domain

import "encoding/json"

type (
	RoomID   string
	Identity string
)

// CapabilitySet is the media engine's negotiated capability blob. The core
// never inspects it, it is fetched once per room and echoed to clients.
type CapabilitySet = json.RawMessage

// Room is the meta of a live session: one broadcaster, any number of viewers.
type Room struct {
	ID    RoomID
	Owner Identity
}

// RoomGroup names the broadcast group for a room's channels.
func RoomGroup(id RoomID) string { return "room:" + string(id) }

// UserGroup names the broadcast group targeting a single identity.
func UserGroup(id Identity) string { return "user:" + string(id) }

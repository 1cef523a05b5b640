package app

import (
	"context"
	"testing"

	"livecast/internal/core"
	"livecast/internal/domain"
)

func newTestPresence(members map[string][]domain.Identity) (*Presence, *fakeHub) {
	reg := core.NewRegistry()
	reg.EnsureRoom("room-1", "alice", nil)
	hub := &fakeHub{members: members}
	return &Presence{Registry: reg, Roster: hub, Bcast: hub}, hub
}

func TestViewerCount(t *testing.T) {
	group := domain.RoomGroup("room-1")
	cases := []struct {
		name    string
		members []domain.Identity
		want    int
	}{
		{"empty room", nil, 0},
		{"owner alone", []domain.Identity{"alice"}, 0},
		{"owner and two viewers", []domain.Identity{"alice", "bob", "carol"}, 2},
		{"owner absent", []domain.Identity{"bob", "carol"}, 2},
		{"one viewer two tabs", []domain.Identity{"bob", "bob"}, 1},
		{"owner two tabs", []domain.Identity{"alice", "alice"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newTestPresence(map[string][]domain.Identity{group: tc.members})
			if got := p.ViewerCount("room-1"); got != tc.want {
				t.Errorf("ViewerCount = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestViewerCount_unknownRoomCountsEveryone(t *testing.T) {
	// Without a registered owner there is nobody to subtract.
	reg := core.NewRegistry()
	hub := &fakeHub{members: map[string][]domain.Identity{
		domain.RoomGroup("ghost"): {"bob", "carol"},
	}}
	p := &Presence{Registry: reg, Roster: hub, Bcast: hub}
	if got := p.ViewerCount("ghost"); got != 2 {
		t.Errorf("ViewerCount = %d, want 2", got)
	}
}

func TestRecompute_broadcastsToRoomGroup(t *testing.T) {
	group := domain.RoomGroup("room-1")
	p, hub := newTestPresence(map[string][]domain.Identity{
		group: {"alice", "bob"},
	})

	count := p.Recompute(context.Background(), "room-1")
	if count != 1 {
		t.Fatalf("Recompute = %d, want 1", count)
	}
	events := hub.eventsOfType("viewer-count")
	if len(events) != 1 {
		t.Fatalf("expected one viewer-count broadcast, got %d", len(events))
	}
	ev := events[0].event.(viewerCountEvent)
	if events[0].group != group || ev.RoomID != "room-1" || ev.Count != 1 {
		t.Errorf("unexpected broadcast %q %+v", events[0].group, ev)
	}
}

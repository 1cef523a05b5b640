package signal

import (
	"sort"
	"testing"

	"livecast/internal/domain"
)

func testConn(sid string, identity domain.Identity) *Conn {
	return newConn(nil, sid, identity)
}

func drain(c *Conn) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_joinLeave(t *testing.T) {
	h := NewHub()
	c := testConn("s1", "alice")

	h.Join("room:r1", c)
	if got := h.ConnCount(); got != 1 {
		t.Fatalf("ConnCount = %d, want 1", got)
	}

	h.Leave("room:r1", c)
	if got := h.ConnCount(); got != 0 {
		t.Errorf("ConnCount after leave = %d, want 0", got)
	}
	if ids := h.Identities("room:r1"); len(ids) != 0 {
		t.Errorf("left group should be empty, got %v", ids)
	}
}

func TestHub_leaveAllReturnsGroups(t *testing.T) {
	h := NewHub()
	c := testConn("s1", "alice")
	h.Join("room:r1", c)
	h.Join("user:alice", c)

	groups := h.LeaveAll(c)
	sort.Strings(groups)
	if len(groups) != 2 || groups[0] != "room:r1" || groups[1] != "user:alice" {
		t.Errorf("LeaveAll = %v, want [room:r1 user:alice]", groups)
	}
	if h.ConnCount() != 0 {
		t.Errorf("channel should be fully detached, count=%d", h.ConnCount())
	}
	// A second LeaveAll finds nothing.
	if again := h.LeaveAll(c); len(again) != 0 {
		t.Errorf("repeat LeaveAll = %v, want empty", again)
	}
}

func TestHub_identitiesDistinct(t *testing.T) {
	h := NewHub()
	tab1 := testConn("s1", "alice")
	tab2 := testConn("s2", "alice")
	other := testConn("s3", "bob")
	h.Join("room:r1", tab1)
	h.Join("room:r1", tab2)
	h.Join("room:r1", other)

	ids := h.Identities("room:r1")
	if len(ids) != 2 {
		t.Fatalf("two tabs of one identity must collapse, got %v", ids)
	}
	seen := map[domain.Identity]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Errorf("expected alice and bob, got %v", ids)
	}
}

func TestHub_broadcastReachesAllMembers(t *testing.T) {
	h := NewHub()
	a := testConn("s1", "alice")
	b := testConn("s2", "bob")
	h.Join("room:r1", a)
	h.Join("room:r1", b)
	outsider := testConn("s3", "carol")
	h.Join("room:r2", outsider)

	h.Broadcast("room:r1", map[string]string{"type": "hello"})

	if msgs := drain(a); len(msgs) != 1 {
		t.Errorf("alice got %d frames, want 1", len(msgs))
	}
	if msgs := drain(b); len(msgs) != 1 {
		t.Errorf("bob got %d frames, want 1", len(msgs))
	}
	if msgs := drain(outsider); len(msgs) != 0 {
		t.Errorf("other group got %d frames, want 0", len(msgs))
	}
}

func TestHub_broadcastExceptSkipsOrigin(t *testing.T) {
	h := NewHub()
	origin := testConn("s1", "alice")
	peer := testConn("s2", "bob")
	h.Join("room:r1", origin)
	h.Join("room:r1", peer)

	h.BroadcastExcept("room:r1", map[string]string{"type": "new-producer"}, origin)

	if msgs := drain(origin); len(msgs) != 0 {
		t.Errorf("origin must be skipped, got %d frames", len(msgs))
	}
	if msgs := drain(peer); len(msgs) != 1 {
		t.Errorf("peer got %d frames, want 1", len(msgs))
	}
}

func TestHub_broadcastDropsOnBackpressure(t *testing.T) {
	h := NewHub()
	slow := testConn("s1", "alice")
	h.Join("room:r1", slow)
	for i := 0; i < cap(slow.send); i++ {
		slow.send <- []byte("x")
	}

	// Must not block even though the buffer is full.
	h.Broadcast("room:r1", map[string]string{"type": "hello"})

	if got := len(drain(slow)); got != cap(slow.send) {
		t.Errorf("expected only the pre-filled frames, got %d", got)
	}
}

func TestConn_trySendAfterClose(t *testing.T) {
	c := testConn("s1", "alice")
	// Close on a nil websocket would panic; swap in a closed state directly.
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if err := c.TrySend([]byte("x")); err == nil {
		t.Error("send on a closed channel must fail")
	}
}

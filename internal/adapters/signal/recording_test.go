package signal

import (
	"context"
	"encoding/json"
	"testing"

	"livecast/internal/domain"
	"livecast/internal/recording"
)

type stubQueue struct {
	jobs []recording.Job
}

func (s *stubQueue) Enqueue(ctx context.Context, job recording.Job) error {
	s.jobs = append(s.jobs, job)
	return nil
}

func lastResponse(t *testing.T, c *Conn) response {
	t.Helper()
	msgs := drain(c)
	if len(msgs) == 0 {
		t.Fatal("expected a reply")
	}
	var resp response
	if err := json.Unmarshal(msgs[len(msgs)-1], &resp); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	return resp
}

func TestHandleEndRecording_onlyProducingChannel(t *testing.T) {
	q := &stubQueue{}
	svc := recording.NewService(t.TempDir(), 0, nil, q, nil)
	ctl := &Controller{Recordings: svc}
	ctx := context.Background()

	owner := testConn("s1", "alice")
	owner.setRecordingRoom("room-1")
	ctl.handleChunk(owner, []byte("0123456789"))

	// A channel that does not produce into the room cannot cut its artifact.
	viewer := testConn("s2", "mallory")
	ctl.handleEndRecording(ctx, viewer, "req-1", []byte(`{"type":"end-recording","requestId":"req-1","roomId":"room-1"}`))
	if resp := lastResponse(t, viewer); resp.Error == "" {
		t.Error("foreign channel must get an error reply")
	}
	if len(q.jobs) != 0 {
		t.Fatalf("foreign channel must not finalize, got jobs %+v", q.jobs)
	}

	ctl.handleEndRecording(ctx, owner, "req-2", []byte(`{"type":"end-recording","requestId":"req-2","roomId":"room-1"}`))
	if resp := lastResponse(t, owner); resp.Error != "" {
		t.Errorf("producing channel should finalize, got error %q", resp.Error)
	}
	if len(q.jobs) != 1 || q.jobs[0].RoomID != domain.RoomID("room-1") || q.jobs[0].Owner != domain.Identity("alice") {
		t.Errorf("expected one job for room-1 owned by alice, got %+v", q.jobs)
	}
}

func TestHandleChunk_ignoredWithoutSendTransport(t *testing.T) {
	q := &stubQueue{}
	svc := recording.NewService(t.TempDir(), 0, nil, q, nil)
	ctl := &Controller{Recordings: svc}

	c := testConn("s1", "alice")
	ctl.handleChunk(c, []byte("0123456789"))
	c.setRecordingRoom("room-1")
	if err := ctl.Recordings.EndRecording(context.Background(), "room-1"); err != nil {
		t.Fatalf("EndRecording: %v", err)
	}
	if len(q.jobs) != 0 {
		t.Errorf("chunk before a send transport must be dropped, got jobs %+v", q.jobs)
	}
}

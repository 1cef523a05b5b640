// Package recording accumulates raw media chunks per room and, when a
// session ends, validates the artifact and hands it to the transcoding
// collaborator through a durable queue. It runs independently of media
// state, sharing only the room id and the disconnect cleanup trigger.
package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"livecast/internal/domain"
	"livecast/internal/metrics"
)

// Job is what the transcoding collaborator consumes. The handoff is
// fire-and-forget; transcoding outcomes are entirely its concern.
type Job struct {
	RoomID       domain.RoomID   `json:"roomId"`
	ArtifactPath string          `json:"artifactPath"`
	Owner        domain.Identity `json:"ownerIdentity"`
}

// Queue is the durable handoff to the transcoding collaborator.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Prober is the lightweight container check run before handoff.
type Prober interface {
	Probe(ctx context.Context, path string) error
}

type session struct {
	file  *os.File
	path  string
	owner domain.Identity
	bytes int64
}

// Service holds at most one open sink per room: a second chunk stream for
// the same room id appends to the same sink, never opens a second one.
type Service struct {
	dir      string
	minBytes int64
	prober   Prober
	queue    Queue
	metrics  *metrics.Metrics

	mu       sync.Mutex
	sessions map[domain.RoomID]*session
}

func NewService(dir string, minBytes int64, prober Prober, queue Queue, met *metrics.Metrics) *Service {
	return &Service{
		dir:      dir,
		minBytes: minBytes,
		prober:   prober,
		queue:    queue,
		metrics:  met,
		sessions: make(map[domain.RoomID]*session),
	}
}

// AppendChunk opens the room's session lazily on the first chunk and
// appends in arrival order.
func (s *Service) AppendChunk(roomID domain.RoomID, owner domain.Identity, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[roomID]
	if !ok {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("create recording dir: %w", err)
		}
		path := filepath.Join(s.dir, fmt.Sprintf("%s.webm", roomID))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("open recording sink: %w", err)
		}
		sess = &session{file: f, path: path, owner: owner}
		s.sessions[roomID] = sess
		log.Info().Str("module", "recording").Str("room", string(roomID)).Str("path", path).Msg("recording session opened")
	}
	n, err := sess.file.Write(chunk)
	sess.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("append chunk: %w", err)
	}
	return nil
}

// EndRecording closes the sink if open, validates the artifact and
// enqueues a transcode job for it. Undersized or unprobeable artifacts are
// deleted and never handed off. Ending a room without an open session is a
// no-op.
func (s *Service) EndRecording(ctx context.Context, roomID domain.RoomID) error {
	s.mu.Lock()
	sess, ok := s.sessions[roomID]
	if ok {
		delete(s.sessions, roomID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := sess.file.Close(); err != nil {
		log.Warn().Err(err).Str("module", "recording").Str("room", string(roomID)).Msg("sink close error")
	}

	if sess.bytes < s.minBytes {
		log.Info().Str("module", "recording").Str("room", string(roomID)).
			Int64("bytes", sess.bytes).Int64("min_bytes", s.minBytes).Msg("artifact below threshold, discarding")
		s.discard(sess.path)
		return nil
	}
	if s.prober != nil {
		if err := s.prober.Probe(ctx, sess.path); err != nil {
			log.Warn().Err(err).Str("module", "recording").Str("room", string(roomID)).Msg("artifact failed probe, discarding")
			s.discard(sess.path)
			return nil
		}
	}

	job := Job{RoomID: roomID, ArtifactPath: sess.path, Owner: sess.owner}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue transcode job: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncRecordingsFinished()
	}
	log.Info().Str("module", "recording").Str("room", string(roomID)).
		Int64("bytes", sess.bytes).Str("path", sess.path).Msg("transcode job enqueued")
	return nil
}

func (s *Service) discard(path string) {
	if s.metrics != nil {
		s.metrics.IncRecordingsRejected()
	}
	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("module", "recording").Str("path", path).Msg("artifact remove failed")
	}
}

package broker

import (
	"sync"

	"pkt.systems/glimt/internal/protocol"
	"pkt.systems/pslog"
)

// FrameRelay fans agent frames out to authorized viewers. Delivery is
// at-most-once and best-effort: a viewer whose outbound path is busy gets
// the newest frame instead of a queue (the connection's frame mailbox
// holds a single slot). Frames are never retained past one fan-out pass.
type FrameRelay struct {
	registry *Registry
	sessions *Sessions
	logger   pslog.Logger

	mu      sync.Mutex
	lastSeq map[string]uint64
}

// NewFrameRelay returns a relay over the given registry and session table.
func NewFrameRelay(registry *Registry, sessions *Sessions, logger pslog.Logger) *FrameRelay {
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &FrameRelay{
		registry: registry,
		sessions: sessions,
		logger:   logger,
		lastSeq:  make(map[string]uint64),
	}
}

// Publish routes one frame from an agent to every viewer holding a live
// control session against it. Out-of-order frames (sequence at or below
// the last accepted one) are discarded silently; the next frame
// supersedes them anyway. A zero sequence marks the frame unsequenced:
// it is always delivered and leaves the watermark untouched.
func (fr *FrameRelay) Publish(agentID string, frame *protocol.Frame) error {
	p, err := fr.registry.Lookup(agentID)
	if err != nil || p.Role != protocol.RoleAgent || p.RoomID == "" {
		return ErrUnknownAgent
	}

	if frame.Seq != 0 {
		fr.mu.Lock()
		if frame.Seq <= fr.lastSeq[agentID] {
			fr.mu.Unlock()
			return nil
		}
		fr.lastSeq[agentID] = frame.Seq
		fr.mu.Unlock()
	}

	frame.AgentID = agentID
	for _, viewerID := range fr.sessions.ViewersOf(agentID) {
		conn, ok := fr.registry.Conn(viewerID)
		if !ok {
			continue
		}
		if err := conn.SendFrame(frame); err != nil {
			fr.logger.Debug("frame send dropped", "viewer", viewerID, "err", err)
		}
	}
	return nil
}

// Forget clears the sequence watermark for an agent that disconnected so
// a reconnecting capture source can restart its counter.
func (fr *FrameRelay) Forget(agentID string) {
	fr.mu.Lock()
	delete(fr.lastSeq, agentID)
	fr.mu.Unlock()
}

package broker

import (
	"pkt.systems/glimt/internal/protocol"
	"pkt.systems/pslog"
)

// InputRelay forwards control events from authorized viewers to agents.
// Unauthorized input is dropped without a user-visible error so session
// state never leaks to a party without a valid grant.
type InputRelay struct {
	registry *Registry
	sessions *Sessions
	logger   pslog.Logger
}

// NewInputRelay returns a relay over the given registry and session table.
func NewInputRelay(registry *Registry, sessions *Sessions, logger pslog.Logger) *InputRelay {
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &InputRelay{registry: registry, sessions: sessions, logger: logger}
}

// Forward delivers one control event to the designated agent. Events from
// a single viewer reach the agent in submission order (the caller invokes
// Forward synchronously from the connection's reader, and the agent's
// event queue is ordered). Reports whether the event was forwarded; the
// caller must not surface a drop to the viewer.
func (ir *InputRelay) Forward(viewerID string, event protocol.ControlPayload) bool {
	agentID := event.AgentID
	if agentID == "" {
		resolved, ok := ir.sessions.AgentFor(viewerID)
		if !ok {
			return false
		}
		agentID = resolved
	}
	if !ir.sessions.IsAuthorized(viewerID, agentID) {
		ir.logger.Debug("unauthorized input dropped", "viewer", viewerID, "agent", agentID)
		return false
	}
	conn, ok := ir.registry.Conn(agentID)
	if !ok {
		return false
	}
	event.AgentID = agentID
	out := protocol.MustEvent(protocol.EventControl, event)
	out.From = viewerID
	if err := conn.SendEvent(out); err != nil {
		ir.logger.Debug("input send dropped", "agent", agentID, "err", err)
		return false
	}
	return true
}

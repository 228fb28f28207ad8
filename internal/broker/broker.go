package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	"pkt.systems/glimt/internal/protocol"
	"pkt.systems/pslog"
)

const expireSweepInterval = 10 * time.Second

// Options configures a Broker.
type Options struct {
	// RequestTTL bounds pending access requests. Zero means DefaultRequestTTL.
	RequestTTL time.Duration
	// MultiGrant permits multiple simultaneous viewers per agent. Off by
	// default: a new grant displaces earlier viewers.
	MultiGrant bool
	Logger     pslog.Logger
}

// Broker is the room and control-session authority. It owns membership,
// mediates permission handshakes, issues and revokes control tokens, and
// relays frame and input traffic.
type Broker struct {
	Registry    *Registry
	Rooms       *Directory
	Permissions *Permissions
	Sessions    *Sessions
	Frames      *FrameRelay
	Input       *InputRelay

	logger pslog.Logger
}

// New wires up the broker components.
func New(opts Options) *Broker {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	registry := NewRegistry()
	sessions := NewSessions(opts.MultiGrant, logger.With("component", "sessions"))
	b := &Broker{
		Registry:    registry,
		Rooms:       NewDirectory(registry, logger.With("component", "rooms")),
		Permissions: NewPermissions(registry, opts.RequestTTL, logger.With("component", "permissions")),
		Sessions:    sessions,
		Frames:      NewFrameRelay(registry, sessions, logger.With("component", "frame-relay")),
		Input:       NewInputRelay(registry, sessions, logger.With("component", "input-relay")),
		logger:      logger,
	}
	return b
}

// Run drives the access-request TTL sweeper until ctx is canceled.
func (b *Broker) Run(ctx context.Context) {
	ticker := time.NewTicker(expireSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, req := range b.Permissions.ExpireStale() {
				b.notify(req.RequesterID, protocol.MustEvent(protocol.EventPermissionResult,
					protocol.PermissionResultPayload{Accepted: false, Reason: "expired"}))
			}
		}
	}
}

// Connect registers a new transport connection.
func (b *Broker) Connect(conn Conn) (Participant, error) {
	return b.Registry.Register(conn)
}

// Disconnect tears down everything the connection owned, in one
// synchronous pass: sessions revoked, pending requests expired, room
// membership removed, presence broadcast. Partial teardown would leave a
// revoked session still shown online, so the steps never run detached.
func (b *Broker) Disconnect(connID string) {
	p, err := b.Registry.Lookup(connID)
	if err != nil {
		return
	}

	for _, session := range b.Sessions.RevokeAll(connID) {
		if session.ViewerID != connID {
			b.notify(session.ViewerID, protocol.MustEvent(protocol.EventRevokeControl,
				protocol.RevokeControlPayload{Reason: "agent disconnected"}))
		}
	}
	for _, req := range b.Permissions.DropFor(connID) {
		if req.RequesterID != connID {
			b.notify(req.RequesterID, protocol.MustEvent(protocol.EventPermissionResult,
				protocol.PermissionResultPayload{Accepted: false, Reason: "peer disconnected"}))
		}
	}
	if p.Role == protocol.RoleAgent {
		b.Frames.Forget(connID)
	}
	b.Rooms.Leave(connID)
	b.Registry.Unregister(connID)
	b.logger.Debug("connection torn down", "conn", connID, "room", p.RoomID)
}

// HandleEvent dispatches one inbound control-plane event. Validation
// failures are reported to the originating connection only.
func (b *Broker) HandleEvent(connID string, event protocol.Event) {
	switch protocol.Canonical(event.Type) {
	case protocol.EventJoinRoom:
		b.handleJoin(connID, event)
	case protocol.EventLeaveRoom:
		b.handleLeave(connID)
	case protocol.EventSetName:
		b.handleSetName(connID, event)
	case protocol.EventRequestScreen:
		b.handleRequestScreen(connID, event)
	case protocol.EventPermissionResponse:
		b.handlePermissionResponse(connID, event)
	case protocol.EventControl:
		b.handleControl(connID, event)
	case protocol.EventResumeWithToken:
		b.handleResume(connID, event)
	case protocol.EventStopShare:
		b.handleStopShare(connID)
	default:
		b.sendError(connID, "unknown event type")
	}
}

// HandleFrame routes one binary frame message from an agent connection.
func (b *Broker) HandleFrame(connID string, data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		b.sendError(connID, "malformed frame")
		return
	}
	if err := b.Frames.Publish(connID, frame); err != nil {
		b.sendError(connID, err.Error())
	}
}

func (b *Broker) handleJoin(connID string, event protocol.Event) {
	var payload protocol.JoinRoomPayload
	if err := event.DecodePayload(&payload); err != nil {
		b.sendError(connID, "malformed join-room payload")
		return
	}
	if payload.Name != "" {
		if err := b.Registry.SetName(connID, payload.Name); err != nil {
			b.sendError(connID, "invalid name")
			return
		}
	}
	roomID := strings.TrimSpace(payload.RoomID)
	if roomID != "" {
		// Moving to another room is an implicit leave: grants and pending
		// handshakes are tied to the membership being given up.
		if p, err := b.Registry.Lookup(connID); err == nil && p.RoomID != "" && p.RoomID != roomID {
			b.dropRoomState(connID, "left room")
		}
	}
	if err := b.Rooms.Join(connID, roomID, payload.JoinRole()); err != nil {
		b.sendError(connID, err.Error())
	}
}

func (b *Broker) handleLeave(connID string) {
	// Leaving while holding a granted token revokes it on both ends, and
	// pending handshakes die with the membership they assumed.
	b.dropRoomState(connID, "left room")
	b.Rooms.Leave(connID)
}

func (b *Broker) handleSetName(connID string, event protocol.Event) {
	var payload protocol.SetNamePayload
	if err := event.DecodePayload(&payload); err != nil {
		b.sendError(connID, "malformed set-name payload")
		return
	}
	if err := b.Registry.SetName(connID, payload.Name); err != nil {
		b.sendError(connID, "invalid name")
		return
	}
	if p, err := b.Registry.Lookup(connID); err == nil && p.RoomID != "" {
		b.Rooms.broadcastPresence(p.RoomID)
	}
}

func (b *Broker) handleRequestScreen(connID string, event protocol.Event) {
	var payload protocol.RequestScreenPayload
	if err := event.DecodePayload(&payload); err != nil || payload.TargetID == "" {
		b.sendError(connID, "malformed request-screen payload")
		return
	}
	requester, err := b.Registry.Lookup(connID)
	if err != nil {
		return
	}
	req, err := b.Permissions.Submit(connID, payload.TargetID, requester.RoomID)
	if err != nil {
		b.sendError(connID, err.Error())
		return
	}
	b.notify(payload.TargetID, protocol.MustEvent(protocol.EventScreenRequest, protocol.ScreenRequestPayload{
		From:      connID,
		Name:      requester.Name,
		RequestID: req.ID,
	}))
}

func (b *Broker) handlePermissionResponse(connID string, event protocol.Event) {
	var payload protocol.PermissionResponsePayload
	if err := event.DecodePayload(&payload); err != nil || payload.To == "" {
		b.sendError(connID, "malformed permission-response payload")
		return
	}
	req, err := b.Permissions.Resolve(connID, payload.To, payload.RequestID, payload.Accepted)
	if err != nil {
		b.sendError(connID, err.Error())
		return
	}
	if !payload.Accepted {
		b.notify(req.RequesterID, protocol.MustEvent(protocol.EventPermissionResult,
			protocol.PermissionResultPayload{Accepted: false}))
		return
	}

	session, displaced, err := b.Sessions.Grant(req.RequesterID, req.TargetID, req.RoomID)
	if err != nil {
		b.sendError(connID, "token generation failed")
		return
	}
	for _, old := range displaced {
		b.notify(old.ViewerID, protocol.MustEvent(protocol.EventRevokeControl,
			protocol.RevokeControlPayload{Reason: "superseded"}))
	}
	b.notify(req.RequesterID, protocol.MustEvent(protocol.EventControlToken, protocol.ControlTokenPayload{
		Token:   session.Token,
		AgentID: session.AgentID,
	}))
	b.notify(req.RequesterID, protocol.MustEvent(protocol.EventPermissionResult, protocol.PermissionResultPayload{
		Accepted: true,
		AgentID:  session.AgentID,
	}))
}

func (b *Broker) handleControl(connID string, event protocol.Event) {
	var payload protocol.ControlPayload
	if err := event.DecodePayload(&payload); err != nil {
		// Malformed input is dropped like unauthorized input.
		return
	}
	b.Input.Forward(connID, payload)
}

func (b *Broker) handleResume(connID string, event protocol.Event) {
	var payload protocol.ResumeWithTokenPayload
	if err := event.DecodePayload(&payload); err != nil || payload.Token == "" {
		b.notify(connID, protocol.MustEvent(protocol.EventResumeResult,
			protocol.ResumeResultPayload{OK: false, Reason: "malformed resume payload"}))
		return
	}
	p, err := b.Registry.Lookup(connID)
	if err != nil {
		return
	}
	session, err := b.Sessions.Resume(payload.Token, connID, p.RoomID)
	if err != nil {
		reason := "token expired"
		if errors.Is(err, ErrRoomMismatch) {
			reason = "room mismatch"
		}
		b.notify(connID, protocol.MustEvent(protocol.EventResumeResult,
			protocol.ResumeResultPayload{OK: false, Reason: reason}))
		return
	}
	b.notify(connID, protocol.MustEvent(protocol.EventResumeResult,
		protocol.ResumeResultPayload{OK: true, AgentID: session.AgentID}))
}

func (b *Broker) handleStopShare(connID string) {
	p, err := b.Registry.Lookup(connID)
	if err != nil {
		return
	}
	b.revokeSessionsOf(connID, "sharing stopped")
	b.Frames.Forget(connID)
	if p.RoomID != "" {
		event := protocol.MustEvent(protocol.EventStopShare, protocol.StopSharePayload{Name: p.Name})
		for _, member := range b.Rooms.MembersOf(p.RoomID) {
			if member.ConnID == connID {
				continue
			}
			b.notify(member.ConnID, event)
		}
	}
}

// dropRoomState ends everything the connection's room membership backed:
// control sessions it holds or is target of, and pending access requests
// in either direction. Counterparties are notified. Runs whenever a
// membership ends by leave or by moving rooms; Disconnect has its own
// pass with connection-loss reasons.
func (b *Broker) dropRoomState(connID, reason string) {
	b.revokeSessionsOf(connID, reason)
	for _, req := range b.Permissions.DropFor(connID) {
		if req.RequesterID != connID {
			b.notify(req.RequesterID, protocol.MustEvent(protocol.EventPermissionResult,
				protocol.PermissionResultPayload{Accepted: false, Reason: "peer left"}))
		}
	}
}

// revokeSessionsOf revokes every session the connection participates in
// and notifies the viewers that lost their grant.
func (b *Broker) revokeSessionsOf(connID, reason string) {
	for _, session := range b.Sessions.RevokeAll(connID) {
		if session.ViewerID != connID {
			b.notify(session.ViewerID, protocol.MustEvent(protocol.EventRevokeControl,
				protocol.RevokeControlPayload{Reason: reason}))
		}
	}
}

func (b *Broker) notify(connID string, event protocol.Event) {
	conn, ok := b.Registry.Conn(connID)
	if !ok {
		return
	}
	if err := conn.SendEvent(event); err != nil {
		b.logger.Debug("notify dropped", "conn", connID, "type", string(event.Type), "err", err)
	}
}

func (b *Broker) sendError(connID, message string) {
	b.notify(connID, protocol.MustEvent(protocol.EventError, protocol.ErrorPayload{Message: message}))
}

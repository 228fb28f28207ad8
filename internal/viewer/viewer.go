package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"pkt.systems/glimt/internal/protocol"
	"pkt.systems/pslog"
)

const writeTimeout = 5 * time.Second

// Options configures a viewer client.
type Options struct {
	Endpoint string
	RoomID   string
	Name     string
	// Token resumes a previously granted control session after reconnect.
	Token  string
	Logger pslog.Logger

	// OnFrame receives fanned-out screen frames. The callback must not
	// retain the frame payload past its return.
	OnFrame func(*protocol.Frame)
	// OnPeers receives presence snapshots.
	OnPeers func(protocol.PeerListPayload)
	// OnScreenRequest fires when another participant asks for this
	// viewer's screen.
	OnScreenRequest func(protocol.ScreenRequestPayload)
	// OnGrant delivers the control token after an accepted request.
	OnGrant func(token, agentID string)
	// OnResult reports accept/reject/expiry of an outstanding request.
	OnResult func(protocol.PermissionResultPayload)
	// OnRevoke fires when the broker ends this viewer's control session.
	OnRevoke func(reason string)
	// OnResume reports the outcome of a token resume.
	OnResume func(protocol.ResumeResultPayload)
	// OnStopShare fires when an agent in the room stops streaming.
	OnStopShare func(name string)
}

// Viewer joins a room, negotiates screen access, receives frames, and
// sends normalized control events.
type Viewer struct {
	opts   Options
	logger pslog.Logger

	sendMu sync.Mutex
	conn   *websocket.Conn
}

// New constructs a Viewer.
func New(opts Options) *Viewer {
	if opts.Logger == nil {
		opts.Logger = pslog.LoggerFromEnv()
	}
	return &Viewer{opts: opts, logger: opts.Logger}
}

// Run connects, joins the configured room, and serves events until the
// context is canceled or the connection drops.
func (v *Viewer) Run(ctx context.Context) error {
	if v.opts.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if v.opts.RoomID == "" {
		return fmt.Errorf("room id is required")
	}

	conn, _, err := websocket.Dial(ctx, v.opts.Endpoint, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
	}()
	v.sendMu.Lock()
	v.conn = conn
	v.sendMu.Unlock()

	join := protocol.MustEvent(protocol.EventJoinRoom, protocol.JoinRoomPayload{
		RoomID: v.opts.RoomID,
		Name:   v.opts.Name,
		Role:   protocol.RoleViewer,
	})
	if err := v.writeEvent(ctx, join); err != nil {
		return err
	}
	if v.opts.Token != "" {
		resume := protocol.MustEvent(protocol.EventResumeWithToken,
			protocol.ResumeWithTokenPayload{Token: v.opts.Token})
		if err := v.writeEvent(ctx, resume); err != nil {
			return err
		}
	}

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		switch msgType {
		case websocket.MessageBinary:
			if v.opts.OnFrame == nil {
				continue
			}
			frame, err := protocol.DecodeFrame(data)
			if err != nil {
				v.logger.Debug("malformed frame from broker", "err", err)
				continue
			}
			v.opts.OnFrame(frame)
		case websocket.MessageText:
			var event protocol.Event
			if err := json.Unmarshal(data, &event); err != nil {
				v.logger.Debug("malformed event from broker", "err", err)
				continue
			}
			v.dispatch(event)
		}
	}
}

func (v *Viewer) dispatch(event protocol.Event) {
	switch event.Type {
	case protocol.EventPeerList:
		var payload protocol.PeerListPayload
		if event.DecodePayload(&payload) == nil && v.opts.OnPeers != nil {
			v.opts.OnPeers(payload)
		}
	case protocol.EventScreenRequest:
		var payload protocol.ScreenRequestPayload
		if event.DecodePayload(&payload) == nil && v.opts.OnScreenRequest != nil {
			v.opts.OnScreenRequest(payload)
		}
	case protocol.EventControlToken:
		var payload protocol.ControlTokenPayload
		if event.DecodePayload(&payload) == nil && v.opts.OnGrant != nil {
			v.opts.OnGrant(payload.Token, payload.AgentID)
		}
	case protocol.EventPermissionResult:
		var payload protocol.PermissionResultPayload
		if event.DecodePayload(&payload) == nil && v.opts.OnResult != nil {
			v.opts.OnResult(payload)
		}
	case protocol.EventRevokeControl:
		var payload protocol.RevokeControlPayload
		if event.DecodePayload(&payload) == nil && v.opts.OnRevoke != nil {
			v.opts.OnRevoke(payload.Reason)
		}
	case protocol.EventResumeResult:
		var payload protocol.ResumeResultPayload
		if event.DecodePayload(&payload) == nil && v.opts.OnResume != nil {
			v.opts.OnResume(payload)
		}
	case protocol.EventStopShare:
		var payload protocol.StopSharePayload
		if event.DecodePayload(&payload) == nil && v.opts.OnStopShare != nil {
			v.opts.OnStopShare(payload.Name)
		}
	case protocol.EventError:
		var payload protocol.ErrorPayload
		_ = event.DecodePayload(&payload)
		v.logger.Warn("broker error", "message", payload.Message)
	}
}

// RequestScreen asks for access to the target participant's screen.
func (v *Viewer) RequestScreen(ctx context.Context, targetID string) error {
	return v.writeEvent(ctx, protocol.MustEvent(protocol.EventRequestScreen,
		protocol.RequestScreenPayload{TargetID: targetID}))
}

// RespondPermission resolves a pending request this participant received.
func (v *Viewer) RespondPermission(ctx context.Context, requesterID, requestID string, accepted bool) error {
	return v.writeEvent(ctx, protocol.MustEvent(protocol.EventPermissionResponse,
		protocol.PermissionResponsePayload{To: requesterID, RequestID: requestID, Accepted: accepted}))
}

// SendControl forwards one normalized input event toward the granted agent.
func (v *Viewer) SendControl(ctx context.Context, event protocol.ControlPayload) error {
	return v.writeEvent(ctx, protocol.MustEvent(protocol.EventControl, event))
}

// Leave exits the current room, revoking any held grant.
func (v *Viewer) Leave(ctx context.Context) error {
	return v.writeEvent(ctx, protocol.Event{Type: protocol.EventLeaveRoom})
}

func (v *Viewer) writeEvent(ctx context.Context, event protocol.Event) error {
	data, err := json.Marshal(&event)
	if err != nil {
		return err
	}
	v.sendMu.Lock()
	defer v.sendMu.Unlock()
	if v.conn == nil {
		return fmt.Errorf("not connected")
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return v.conn.Write(writeCtx, websocket.MessageText, data)
}

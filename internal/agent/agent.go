package agent

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

const (
	maxBackoff   = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// Options configures a capture-source client.
type Options struct {
	Endpoint string
	RoomID   string
	Name     string
	Logger   pslog.Logger

	// OnScreenRequest fires when a viewer asks for this agent's screen.
	// Respond with RespondPermission.
	OnScreenRequest func(protocol.ScreenRequestPayload)
	// OnControl receives input events forwarded from authorized viewers.
	OnControl func(protocol.ControlPayload)
	// OnStop is called when the broker announces the share ended.
	OnStop func()
}

// Agent joins a room as a capture source, publishes frames to the broker,
// and surfaces forwarded input events. Frames published while
// disconnected are dropped; the next frame supersedes them.
type Agent struct {
	opts   Options
	logger pslog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	seq       uint64
}

// New constructs an Agent.
func New(opts Options) *Agent {
	if opts.Logger == nil {
		opts.Logger = pslog.LoggerFromEnv()
	}
	return &Agent{opts: opts, logger: opts.Logger}
}

// Run connects to the broker and serves until context cancellation,
// reconnecting with exponential backoff.
func (a *Agent) Run(ctx context.Context) error {
	if a.opts.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if a.opts.RoomID == "" {
		return fmt.Errorf("room id is required")
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		connected, err := a.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			a.logger.Debug("agent disconnected", "err", err)
		}
		if connected {
			backoff = time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (a *Agent) connectAndServe(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, a.opts.Endpoint, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.connected = false
		a.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
	}()

	join := protocol.MustEvent(protocol.EventJoinRoom, protocol.JoinRoomPayload{
		RoomID: a.opts.RoomID,
		Name:   a.opts.Name,
		Role:   protocol.RoleAgent,
	})
	if err := writeEvent(ctx, conn, join); err != nil {
		return false, err
	}

	a.mu.Lock()
	a.conn = conn
	a.connected = true
	a.mu.Unlock()
	a.logger.Info("agent connected", "room", a.opts.RoomID)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		if msgType != websocket.MessageText {
			continue
		}
		var event protocol.Event
		if err := json.Unmarshal(data, &event); err != nil {
			a.logger.Debug("malformed event from broker", "err", err)
			continue
		}
		a.dispatch(event)
	}
}

func (a *Agent) dispatch(event protocol.Event) {
	switch event.Type {
	case protocol.EventScreenRequest:
		if a.opts.OnScreenRequest == nil {
			return
		}
		var payload protocol.ScreenRequestPayload
		if err := event.DecodePayload(&payload); err != nil {
			return
		}
		a.opts.OnScreenRequest(payload)
	case protocol.EventControl:
		if a.opts.OnControl == nil {
			return
		}
		var payload protocol.ControlPayload
		if err := event.DecodePayload(&payload); err != nil {
			return
		}
		a.opts.OnControl(payload)
	case protocol.EventStopShare:
		if a.opts.OnStop != nil {
			a.opts.OnStop()
		}
	case protocol.EventError:
		var payload protocol.ErrorPayload
		_ = event.DecodePayload(&payload)
		a.logger.Warn("broker error", "message", payload.Message)
	}
}

// PublishFrame sends one captured frame. Returns without error while
// disconnected; the next frame supersedes anything lost.
func (a *Agent) PublishFrame(ctx context.Context, width, height int, encoding string, payload []byte) error {
	a.mu.Lock()
	conn := a.conn
	a.seq++
	seq := a.seq
	a.mu.Unlock()
	if conn == nil {
		return nil
	}

	data, err := protocol.EncodeFrame(&protocol.Frame{
		Seq:      seq,
		Width:    width,
		Height:   height,
		Encoding: encoding,
		Payload:  payload,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageBinary, data)
}

// PublishRaw zstd-compresses a raw RGBA capture and publishes it.
func (a *Agent) PublishRaw(ctx context.Context, width, height int, rgba []byte) error {
	return a.PublishFrame(ctx, width, height, protocol.EncodingZstd, protocol.CompressPayload(rgba))
}

// RespondPermission resolves a pending screen request received through
// OnScreenRequest.
func (a *Agent) RespondPermission(ctx context.Context, requesterID, requestID string, accepted bool) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return writeEvent(ctx, conn, protocol.MustEvent(protocol.EventPermissionResponse,
		protocol.PermissionResponsePayload{To: requesterID, RequestID: requestID, Accepted: accepted}))
}

// StopShare tells the broker to revoke outstanding grants and announce
// the end of the stream.
func (a *Agent) StopShare(ctx context.Context) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	return writeEvent(ctx, conn, protocol.Event{Type: protocol.EventStopShare})
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event protocol.Event) error {
	data, err := json.Marshal(&event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

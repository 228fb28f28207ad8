package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"

	"pkt.systems/glimt/internal/protocol"
	"pkt.systems/pslog"
)

const (
	eventQueueDepth = 64
	wsWriteTimeout  = 5 * time.Second
)

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("event queue full")
)

// wsPeer adapts a websocket connection to the broker Conn interface. A
// single writer goroutine drains two channels: an ordered event queue and
// a one-slot frame mailbox where a newer frame replaces an undelivered
// older one. Enqueueing never blocks the producer.
type wsPeer struct {
	id     string
	conn   *websocket.Conn
	logger pslog.Logger

	events chan protocol.Event
	frames chan *protocol.Frame

	done      chan struct{}
	closeOnce sync.Once
}

func newWSPeer(id string, conn *websocket.Conn, logger pslog.Logger) *wsPeer {
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &wsPeer{
		id:     id,
		conn:   conn,
		logger: logger,
		events: make(chan protocol.Event, eventQueueDepth),
		frames: make(chan *protocol.Frame, 1),
		done:   make(chan struct{}),
	}
}

func (p *wsPeer) ID() string { return p.id }

func (p *wsPeer) SendEvent(event protocol.Event) error {
	select {
	case <-p.done:
		return errConnClosed
	default:
	}
	select {
	case p.events <- event:
		return nil
	default:
		return errQueueFull
	}
}

func (p *wsPeer) SendFrame(frame *protocol.Frame) error {
	select {
	case <-p.done:
		return errConnClosed
	default:
	}
	select {
	case p.frames <- frame:
		return nil
	default:
	}
	// Mailbox occupied: evict the stale frame and try once more. A second
	// failure means another producer won the slot with a newer frame, so
	// this one is droppable.
	select {
	case <-p.frames:
	default:
	}
	select {
	case p.frames <- frame:
		return nil
	default:
		return errQueueFull
	}
}

func (p *wsPeer) Close(reason string) {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close(websocket.StatusNormalClosure, reason)
	})
}

// writeLoop drains the event queue and frame mailbox until the context is
// canceled or the connection closes.
func (p *wsPeer) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case event := <-p.events:
			data, err := json.Marshal(&event)
			if err != nil {
				p.logger.Error("failed to marshal outgoing event", "err", err)
				continue
			}
			if err := p.write(ctx, websocket.MessageText, data); err != nil {
				p.logger.Debug("event write failed", "err", err)
				return
			}
		case frame := <-p.frames:
			data, err := protocol.EncodeFrame(frame)
			if err != nil {
				p.logger.Error("failed to encode outgoing frame", "err", err)
				continue
			}
			if err := p.write(ctx, websocket.MessageBinary, data); err != nil {
				p.logger.Debug("frame write failed", "err", err)
				return
			}
		}
	}
}

func (p *wsPeer) write(ctx context.Context, msgType websocket.MessageType, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return p.conn.Write(writeCtx, msgType, data)
}

func (p *wsPeer) ping(ctx context.Context) error {
	return p.conn.Ping(ctx)
}

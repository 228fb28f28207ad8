package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"pkt.systems/glimt/internal/protocol"
	"pkt.systems/pslog"
)

func TestHealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewHTTPServer(New(Options{}), pslog.LoggerFromEnv()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestPresenceEndpoint(t *testing.T) {
	b := New(Options{})
	connect(t, b, "A", "r1", "alice", protocol.RoleViewer)
	srv := httptest.NewServer(NewHTTPServer(b, pslog.LoggerFromEnv()).Handler())
	defer srv.Close()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantPeers  int
	}{
		{"populated room", http.MethodGet, "/rooms/r1/presence", http.StatusOK, 1},
		{"absent room reads empty", http.MethodGet, "/rooms/ghost/presence", http.StatusOK, 0},
		{"unknown action", http.MethodGet, "/rooms/r1/members", http.StatusNotFound, 0},
		{"missing room id", http.MethodGet, "/rooms//presence", http.StatusNotFound, 0},
		{"write rejected", http.MethodPost, "/rooms/r1/presence", http.StatusMethodNotAllowed, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, srv.URL+tc.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if tc.wantStatus != http.StatusOK {
				return
			}
			var snapshot protocol.PeerListPayload
			if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
				t.Fatal(err)
			}
			if len(snapshot.Peers) != tc.wantPeers {
				t.Fatalf("peers = %d, want %d", len(snapshot.Peers), tc.wantPeers)
			}
		})
	}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, ctx context.Context, url string) *wsClient {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, strings.Replace(url, "http", "ws", 1)+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(ctx context.Context, event protocol.Event) {
	c.t.Helper()
	data, err := json.Marshal(&event)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.t.Fatalf("Write: %v", err)
	}
}

// waitFor reads until an event of the wanted type arrives, skipping
// presence churn and other interleaved traffic.
func (c *wsClient) waitFor(ctx context.Context, want protocol.EventType) protocol.Event {
	c.t.Helper()
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			c.t.Fatalf("Read while waiting for %s: %v", want, err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		var event protocol.Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.t.Fatalf("unmarshal event: %v", err)
		}
		if event.Type == want {
			return event
		}
	}
}

func (c *wsClient) waitForFrame(ctx context.Context) *protocol.Frame {
	c.t.Helper()
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			c.t.Fatalf("Read while waiting for frame: %v", err)
		}
		if msgType != websocket.MessageBinary {
			continue
		}
		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			c.t.Fatalf("DecodeFrame: %v", err)
		}
		return frame
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := New(Options{})
	srv := httptest.NewServer(NewHTTPServer(b, pslog.LoggerFromEnv()).Handler())
	defer srv.Close()

	viewer := dialWS(t, ctx, srv.URL)
	agent := dialWS(t, ctx, srv.URL)

	viewer.send(ctx, protocol.MustEvent(protocol.EventJoinRoom,
		protocol.JoinRoomPayload{RoomID: "demo", Name: "alice"}))
	viewer.waitFor(ctx, protocol.EventPeerList)
	agent.send(ctx, protocol.MustEvent(protocol.EventJoinRoom,
		protocol.JoinRoomPayload{RoomID: "demo", Name: "bob", Role: protocol.RoleAgent}))

	// The viewer's next snapshot carries both peers and the agent's id.
	var agentID string
	for agentID == "" {
		var snapshot protocol.PeerListPayload
		if err := viewer.waitFor(ctx, protocol.EventPeerList).DecodePayload(&snapshot); err != nil {
			t.Fatal(err)
		}
		for _, peer := range snapshot.Peers {
			if peer.Role == protocol.RoleAgent {
				agentID = peer.ID
			}
		}
	}

	viewer.send(ctx, protocol.MustEvent(protocol.EventRequestScreen,
		protocol.RequestScreenPayload{TargetID: agentID}))
	var prompt protocol.ScreenRequestPayload
	if err := agent.waitFor(ctx, protocol.EventScreenRequest).DecodePayload(&prompt); err != nil {
		t.Fatal(err)
	}
	if prompt.Name != "alice" || prompt.RequestID == "" {
		t.Fatalf("prompt = %+v", prompt)
	}

	agent.send(ctx, protocol.MustEvent(protocol.EventPermissionResponse,
		protocol.PermissionResponsePayload{To: prompt.From, RequestID: prompt.RequestID, Accepted: true}))
	var grant protocol.ControlTokenPayload
	if err := viewer.waitFor(ctx, protocol.EventControlToken).DecodePayload(&grant); err != nil {
		t.Fatal(err)
	}
	if grant.Token == "" || grant.AgentID != agentID {
		t.Fatalf("grant = %+v", grant)
	}
	var result protocol.PermissionResultPayload
	if err := viewer.waitFor(ctx, protocol.EventPermissionResult).DecodePayload(&result); err != nil {
		t.Fatal(err)
	}
	if !result.Accepted {
		t.Fatalf("result = %+v, want accepted", result)
	}

	// Agent publishes a frame, the granted viewer receives it.
	payload := protocol.CompressPayload([]byte("not really pixels"))
	data, err := protocol.EncodeFrame(&protocol.Frame{
		Seq:      1,
		Width:    640,
		Height:   480,
		Encoding: protocol.EncodingZstd,
		Payload:  payload,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := agent.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		t.Fatal(err)
	}
	frame := viewer.waitForFrame(ctx)
	if frame.AgentID != agentID || frame.Width != 640 {
		t.Fatalf("frame = %+v", frame)
	}
	pixels, err := protocol.DecompressPayload(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(pixels) != "not really pixels" {
		t.Fatalf("payload roundtrip = %q", pixels)
	}

	// Viewer input reaches the agent tagged with the viewer's id.
	viewer.send(ctx, protocol.MustEvent(protocol.EventControl,
		protocol.ControlPayload{Type: protocol.ControlMouseMove, X: 0.25, Y: 0.75}))
	ctrlEvent := agent.waitFor(ctx, protocol.EventControl)
	var ctrl protocol.ControlPayload
	if err := ctrlEvent.DecodePayload(&ctrl); err != nil {
		t.Fatal(err)
	}
	if ctrl.AgentID != agentID || ctrl.X != 0.25 || ctrlEvent.From == "" {
		t.Fatalf("control = %+v from %q", ctrl, ctrlEvent.From)
	}
}

func TestFrameMailboxKeepsNewest(t *testing.T) {
	peer := newWSPeer("X", nil, pslog.LoggerFromEnv())
	for seq := uint64(1); seq <= 3; seq++ {
		if err := peer.SendFrame(&protocol.Frame{Seq: seq}); err != nil {
			t.Fatalf("SendFrame(%d): %v", seq, err)
		}
	}
	select {
	case frame := <-peer.frames:
		if frame.Seq != 3 {
			t.Fatalf("mailbox holds seq %d, want newest (3)", frame.Seq)
		}
	default:
		t.Fatalf("mailbox empty")
	}
}

func TestSendFrameConcurrentPublishers(t *testing.T) {
	peer := newWSPeer("X", nil, pslog.LoggerFromEnv())

	// Two agents racing for one viewer's mailbox: every call must return
	// promptly with either success or a droppable-frame report.
	var wg sync.WaitGroup
	for _, agentID := range []string{"a1", "a2"} {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			for seq := uint64(1); seq <= 200; seq++ {
				err := peer.SendFrame(&protocol.Frame{AgentID: agentID, Seq: seq})
				if err != nil && err != errQueueFull {
					t.Errorf("SendFrame(%s/%d): %v", agentID, seq, err)
					return
				}
			}
		}(agentID)
	}
	wg.Wait()

	select {
	case frame := <-peer.frames:
		if frame == nil {
			t.Fatalf("mailbox held a nil frame")
		}
	default:
		t.Fatalf("mailbox empty after concurrent publishes")
	}
}

func TestEventQueueDropsWhenFull(t *testing.T) {
	peer := newWSPeer("X", nil, pslog.LoggerFromEnv())
	event := protocol.Event{Type: protocol.EventPeerList}
	for i := 0; i < eventQueueDepth; i++ {
		if err := peer.SendEvent(event); err != nil {
			t.Fatalf("SendEvent %d: %v", i, err)
		}
	}
	if err := peer.SendEvent(event); err != errQueueFull {
		t.Fatalf("SendEvent on full queue = %v, want errQueueFull", err)
	}
}

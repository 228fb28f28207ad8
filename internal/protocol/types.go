package protocol

import (
	"encoding/json"
)

// EventType identifies a control-plane event.
type EventType string

// Inbound event types consumed by the broker.
const (
	EventJoinRoom           EventType = "join-room"
	EventLeaveRoom          EventType = "leave-room"
	EventSetName            EventType = "set-name"
	EventRequestScreen      EventType = "request-screen"
	EventPermissionResponse EventType = "permission-response"
	EventControl            EventType = "control"
	EventResumeWithToken    EventType = "resume-with-token"
	EventStopShare          EventType = "stop-share"
)

// Outbound event types produced by the broker.
const (
	EventPeerList         EventType = "peer-list"
	EventScreenRequest    EventType = "screen-request"
	EventPermissionResult EventType = "permission-result"
	EventControlToken     EventType = "control-token"
	EventRevokeControl    EventType = "revoke-control"
	EventResumeResult     EventType = "resume-result"
	EventError            EventType = "error"
)

// Inbound aliases seen across older client iterations, normalized to the
// canonical names before dispatch.
var aliases = map[EventType]EventType{
	"screen-request": EventRequestScreen,
}

// Canonical returns the canonical event type for t, resolving known aliases.
func Canonical(t EventType) EventType {
	if canonical, ok := aliases[t]; ok {
		return canonical
	}
	return t
}

// Event wraps all control-plane messages. Frames travel separately as
// binary messages, see frame.go.
type Event struct {
	Type    EventType       `json:"type"`
	From    string          `json:"from,omitempty"` // re-assigned by the broker on inbound events
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent constructs an event with a marshaled payload.
func NewEvent(eventType EventType, payload any) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		raw = data
	}
	return Event{Type: eventType, Payload: raw}, nil
}

// MustEvent is NewEvent for payload types that cannot fail to marshal.
func MustEvent(eventType EventType, payload any) Event {
	event, err := NewEvent(eventType, payload)
	if err != nil {
		panic(err)
	}
	return event
}

// DecodePayload unmarshals the payload into the provided struct.
func (e Event) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}

// Role identifies what a participant does in a room.
type Role string

// Participant roles.
const (
	RoleViewer Role = "viewer"
	RoleAgent  Role = "agent"
)

// JoinRoomPayload registers a participant in a room.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
	Role   Role   `json:"role,omitempty"`
	// IsAgent is the legacy flag older clients send instead of Role.
	IsAgent bool `json:"isAgent,omitempty"`
}

// JoinRole resolves the effective role from either field.
func (p JoinRoomPayload) JoinRole() Role {
	if p.Role != "" {
		return p.Role
	}
	if p.IsAgent {
		return RoleAgent
	}
	return RoleViewer
}

// SetNamePayload updates a participant's display name.
type SetNamePayload struct {
	Name string `json:"name"`
}

// RequestScreenPayload asks for access to another participant's screen.
type RequestScreenPayload struct {
	TargetID string `json:"targetId"`
}

// PermissionResponsePayload resolves a pending screen request.
type PermissionResponsePayload struct {
	To        string `json:"to"`
	RequestID string `json:"requestId,omitempty"`
	Accepted  bool   `json:"accepted"`
}

// ControlPayload carries one input event from a viewer toward an agent.
// Coordinates are normalized to [0,1] of the capture surface.
type ControlPayload struct {
	Type          string  `json:"type"`
	AgentID       string  `json:"agentId,omitempty"`
	X             float64 `json:"x,omitempty"`
	Y             float64 `json:"y,omitempty"`
	Button        int     `json:"button,omitempty"`
	Key           string  `json:"key,omitempty"`
	DeltaY        float64 `json:"deltaY,omitempty"`
	CaptureWidth  int     `json:"captureWidth,omitempty"`
	CaptureHeight int     `json:"captureHeight,omitempty"`
}

// Control event types.
const (
	ControlMouseMove = "mousemove"
	ControlClick     = "click"
	ControlDblClick  = "dblclick"
	ControlMouseDown = "mousedown"
	ControlMouseUp   = "mouseup"
	ControlWheel     = "wheel"
	ControlKeyDown   = "keydown"
	ControlKeyUp     = "keyup"
)

// ResumeWithTokenPayload revalidates a previously issued control token.
type ResumeWithTokenPayload struct {
	Token string `json:"token"`
}

// PeerInfo is one entry of a presence snapshot.
type PeerInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RoomID   string `json:"roomId"`
	Role     Role   `json:"role"`
	IsOnline bool   `json:"isOnline"`
}

// PeerListPayload is the presence snapshot broadcast on membership change.
type PeerListPayload struct {
	RoomID string     `json:"roomId"`
	Peers  []PeerInfo `json:"peers"`
}

// ScreenRequestPayload notifies a target about a pending access request.
type ScreenRequestPayload struct {
	From      string `json:"from"`
	Name      string `json:"name"`
	RequestID string `json:"requestId"`
}

// PermissionResultPayload notifies the requester about the outcome.
type PermissionResultPayload struct {
	Accepted bool   `json:"accepted"`
	AgentID  string `json:"agentId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ControlTokenPayload delivers a minted control token to a granted viewer.
type ControlTokenPayload struct {
	Token   string `json:"token"`
	AgentID string `json:"agentId"`
}

// RevokeControlPayload tells a viewer its session ended.
type RevokeControlPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ResumeResultPayload reports the outcome of a token resume.
type ResumeResultPayload struct {
	OK      bool   `json:"ok"`
	AgentID string `json:"agentId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// StopSharePayload announces that an agent stopped streaming.
type StopSharePayload struct {
	Name string `json:"name"`
}

// ErrorPayload communicates a validation error to the originating
// connection only.
type ErrorPayload struct {
	Message string `json:"message"`
}

package broker

import (
	"strings"
	"sync"
	"time"

	"pkt.systems/glimt/internal/protocol"
)

// Conn is a live transport connection the broker can push to. Both send
// methods are fire-and-forget: they enqueue without blocking the caller
// and report a send that could not be accepted.
type Conn interface {
	ID() string
	// SendEvent enqueues a control-plane event. Events for one connection
	// are delivered in enqueue order.
	SendEvent(event protocol.Event) error
	// SendFrame enqueues a frame. A newer frame may replace an undelivered
	// older one.
	SendFrame(frame *protocol.Frame) error
	Close(reason string)
}

// Participant is one connected identity. The registry owns these records;
// the room directory holds only connection ids.
type Participant struct {
	ConnID      string
	Name        string
	RoomID      string
	Role        protocol.Role
	Online      bool
	ConnectedAt time.Time
}

// Registry maps live connections to participant identities.
type Registry struct {
	mu           sync.RWMutex
	conns        map[string]Conn
	participants map[string]*Participant
	now          func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:        make(map[string]Conn),
		participants: make(map[string]*Participant),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a participant record for a new connection.
func (r *Registry) Register(conn Conn) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := conn.ID()
	if _, ok := r.participants[id]; ok {
		return Participant{}, ErrDuplicateConnection
	}
	p := &Participant{
		ConnID:      id,
		Role:        protocol.RoleViewer,
		Online:      true,
		ConnectedAt: r.now(),
	}
	r.participants[id] = p
	r.conns[id] = conn
	return *p, nil
}

// SetName updates the display name of a participant.
func (r *Registry) SetName(connID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[connID]
	if !ok {
		return ErrNotFound
	}
	p.Name = name
	return nil
}

// Lookup returns a copy of the participant record.
func (r *Registry) Lookup(connID string) (Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[connID]
	if !ok {
		return Participant{}, ErrNotFound
	}
	return *p, nil
}

// Conn returns the live connection for a participant, if any.
func (r *Registry) Conn(connID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

// Unregister removes a connection and returns its final record. The
// cascading teardown (session revocation, room leave, presence broadcast)
// is driven by Broker.Disconnect.
func (r *Registry) Unregister(connID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[connID]
	if !ok {
		return Participant{}, false
	}
	delete(r.participants, connID)
	delete(r.conns, connID)
	p.Online = false
	return *p, true
}

// assignRoom records the participant's current room and role. Called by
// the room directory only.
func (r *Registry) assignRoom(connID, roomID string, role protocol.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[connID]; ok {
		p.RoomID = roomID
		if role != "" {
			p.Role = role
		}
	}
}

// clearRoom resets the participant's room membership.
func (r *Registry) clearRoom(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[connID]; ok {
		p.RoomID = ""
	}
}

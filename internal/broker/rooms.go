package broker

import (
	"strings"
	"sync"

	"pkt.systems/glimt/internal/protocol"
	"pkt.systems/pslog"
)

// Directory maps room ids to member sets and derives presence lists. Each
// room is its own mutual-exclusion domain; the directory lock only guards
// the room map, so unrelated rooms never serialize on each other.
type Directory struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	registry *Registry
	logger   pslog.Logger
}

type room struct {
	mu      sync.Mutex
	id      string
	members []string // join order, stable
}

// NewDirectory returns an empty room directory backed by the registry.
func NewDirectory(registry *Registry, logger pslog.Logger) *Directory {
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &Directory{
		rooms:    make(map[string]*room),
		registry: registry,
		logger:   logger,
	}
}

// Join adds a participant to a room, atomically removing it from its
// previous room first. Every mutation broadcasts a fresh presence
// snapshot to the post-mutation members of each affected room.
func (d *Directory) Join(connID, roomID string, role protocol.Role) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrInvalidRoomID
	}
	p, err := d.registry.Lookup(connID)
	if err != nil {
		return err
	}
	if p.RoomID == roomID {
		d.registry.assignRoom(connID, roomID, role)
		d.broadcastPresence(roomID)
		return nil
	}
	if p.RoomID != "" {
		d.removeMember(p.RoomID, connID)
	}

	r := d.room(roomID)
	r.mu.Lock()
	r.members = append(r.members, connID)
	d.registry.assignRoom(connID, roomID, role)
	d.presenceLocked(r)
	r.mu.Unlock()

	d.logger.Debug("joined room", "conn", connID, "room", roomID, "role", string(role))
	return nil
}

// Leave removes a participant from its current room. No-op when the
// participant is not in a room.
func (d *Directory) Leave(connID string) {
	p, err := d.registry.Lookup(connID)
	if err != nil || p.RoomID == "" {
		return
	}
	d.registry.clearRoom(connID)
	d.removeMember(p.RoomID, connID)
	d.logger.Debug("left room", "conn", connID, "room", p.RoomID)
}

// MembersOf returns the participants of a room in join order. An absent
// room reads as empty.
func (d *Directory) MembersOf(roomID string) []Participant {
	d.mu.RLock()
	r := d.rooms[roomID]
	d.mu.RUnlock()
	if r == nil {
		return nil
	}
	r.mu.Lock()
	ids := append([]string(nil), r.members...)
	r.mu.Unlock()

	members := make([]Participant, 0, len(ids))
	for _, id := range ids {
		if p, err := d.registry.Lookup(id); err == nil {
			members = append(members, p)
		}
	}
	return members
}

// PresenceSnapshot produces the peer list broadcast to clients.
func (d *Directory) PresenceSnapshot(roomID string) protocol.PeerListPayload {
	members := d.MembersOf(roomID)
	peers := make([]protocol.PeerInfo, 0, len(members))
	for _, m := range members {
		peers = append(peers, protocol.PeerInfo{
			ID:       m.ConnID,
			Name:     m.Name,
			RoomID:   roomID,
			Role:     m.Role,
			IsOnline: m.Online,
		})
	}
	return protocol.PeerListPayload{RoomID: roomID, Peers: peers}
}

// broadcastPresence pushes the current snapshot to every member of the room.
func (d *Directory) broadcastPresence(roomID string) {
	d.mu.RLock()
	r := d.rooms[roomID]
	d.mu.RUnlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	d.presenceLocked(r)
	r.mu.Unlock()
}

// presenceLocked snapshots and enqueues under the room lock so a member
// never observes a snapshot older than the mutation it took part in.
// Sends are non-blocking enqueues, so holding the lock here is safe.
func (d *Directory) presenceLocked(r *room) {
	peers := make([]protocol.PeerInfo, 0, len(r.members))
	for _, id := range r.members {
		p, err := d.registry.Lookup(id)
		if err != nil {
			continue
		}
		peers = append(peers, protocol.PeerInfo{
			ID:       p.ConnID,
			Name:     p.Name,
			RoomID:   r.id,
			Role:     p.Role,
			IsOnline: p.Online,
		})
	}
	event := protocol.MustEvent(protocol.EventPeerList, protocol.PeerListPayload{RoomID: r.id, Peers: peers})
	for _, id := range r.members {
		conn, ok := d.registry.Conn(id)
		if !ok {
			continue
		}
		if err := conn.SendEvent(event); err != nil {
			d.logger.Debug("presence send dropped", "conn", id, "err", err)
		}
	}
}

func (d *Directory) room(roomID string) *room {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.rooms[roomID]
	if r == nil {
		r = &room{id: roomID}
		d.rooms[roomID] = r
	}
	return r
}

// removeMember drops the connection from the room, broadcasts the new
// snapshot to the remaining members, and garbage-collects empty rooms.
func (d *Directory) removeMember(roomID, connID string) {
	d.mu.RLock()
	r := d.rooms[roomID]
	d.mu.RUnlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	for i, id := range r.members {
		if id == connID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	empty := len(r.members) == 0
	if !empty {
		d.presenceLocked(r)
	}
	r.mu.Unlock()

	if empty {
		d.mu.Lock()
		if r2 := d.rooms[roomID]; r2 == r {
			r2.mu.Lock()
			if len(r2.members) == 0 {
				delete(d.rooms, roomID)
			}
			r2.mu.Unlock()
		}
		d.mu.Unlock()
	}
}

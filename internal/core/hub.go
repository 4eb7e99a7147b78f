package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/peerlink/internal/domain"
)

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	Identity domain.Identity `json:"identity"`
	Handle   domain.ClientID `json:"handle"`
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

// Hub is the in-process addressing fabric: direct send by connection
// handle and grouped broadcast by room token. A room comes into being on
// first join and vanishes when its last member leaves. The hub owns
// membership bookkeeping only; connections are adapter-owned and the hub
// never closes one except through CloseHandle.
type Hub struct {
	mu     sync.RWMutex
	conns  map[domain.ClientID]SignalConnection
	rooms  map[domain.RoomName]map[domain.ClientID]struct{}
	roomOf map[domain.ClientID]domain.RoomName
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[domain.ClientID]SignalConnection),
		rooms:  make(map[domain.RoomName]map[domain.ClientID]struct{}),
		roomOf: make(map[domain.ClientID]domain.RoomName),
	}
}

// Register makes the handle addressable. Must be called before the
// connection's read loop delivers any frame.
func (h *Hub) Register(id domain.ClientID, conn SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = conn
	log.Info().Str("module", "core.hub").Str("handle", string(id)).Msg("connection registered")
}

// Unregister drops the handle and its room membership, removing the room
// if it became empty.
func (h *Hub) Unregister(id domain.ClientID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(id)
	delete(h.conns, id)
	log.Info().Str("module", "core.hub").Str("handle", string(id)).Msg("connection unregistered")
}

// JoinRoom adds the handle to the room, leaving its previous room first
// if it had one.
func (h *Hub) JoinRoom(name domain.RoomName, id domain.ClientID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(id)
	members, ok := h.rooms[name]
	if !ok {
		members = make(map[domain.ClientID]struct{})
		h.rooms[name] = members
	}
	members[id] = struct{}{}
	h.roomOf[id] = name
	log.Info().Str("module", "core.hub").Str("handle", string(id)).Str("room", string(name)).Int("members", len(members)).Msg("joined room")
}

func (h *Hub) leaveLocked(id domain.ClientID) {
	name, ok := h.roomOf[id]
	if !ok {
		return
	}
	delete(h.roomOf, id)
	members, ok := h.rooms[name]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(h.rooms, name)
		log.Info().Str("module", "core.hub").Str("room", string(name)).Msg("room removed")
	}
}

// MembersOf enumerates the room's current members.
func (h *Hub) MembersOf(name domain.RoomName) []domain.ClientID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[name]
	out := make([]domain.ClientID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

func (h *Hub) RoomOf(id domain.ClientID) (domain.RoomName, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	name, ok := h.roomOf[id]
	return name, ok
}

// SendTo delivers one frame to the handle. Unknown or disconnected
// handles are a silent drop; the transport's addressing is authoritative
// over liveness, so no error surfaces here.
func (h *Hub) SendTo(id domain.ClientID, f Frame) bool {
	h.mu.RLock()
	conn, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "core.hub").Str("handle", string(id)).Msg("send to unknown handle dropped")
		return false
	}
	if err := conn.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "core.hub").Str("handle", string(id)).Msg("send failed")
		return false
	}
	return true
}

// Broadcast delivers the frame to every member of the room, sender
// included if it is a member. Returns the delivered count.
func (h *Hub) Broadcast(name domain.RoomName, f Frame) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for id := range h.rooms[name] {
		conn, ok := h.conns[id]
		if !ok {
			continue
		}
		if err := conn.TrySend(f); err != nil {
			log.Warn().Err(err).Str("module", "core.hub").Str("handle", string(id)).Msg("broadcast drop")
			continue
		}
		sent++
	}
	log.Debug().Str("module", "core.hub").Str("room", string(name)).Int("sent_to", sent).Msg("broadcast result")
	return sent
}

// CloseHandle force-terminates the handle's connection, fire-and-forget.
// Membership cleanup happens through the connection's own close path.
func (h *Hub) CloseHandle(id domain.ClientID) {
	h.mu.RLock()
	conn, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	conn.Close()
	log.Info().Str("module", "core.hub").Str("handle", string(id)).Msg("connection force-closed")
}

func (h *Hub) Rooms() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RoomInfo, 0, len(h.rooms))
	for name, members := range h.rooms {
		out = append(out, RoomInfo{Name: name, MemberCount: len(members)})
	}
	return out
}

// Stats reports current room and connection counts.
func (h *Hub) Stats() (rooms, conns int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.conns)
}

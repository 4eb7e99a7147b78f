// Package app holds the signaling protocol: the join flow, the four
// point-to-point relays and the disconnect path.
package app

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/avolkov/peerlink/internal/core"
	"github.com/avolkov/peerlink/internal/domain"
)

// Router dispatches client frames to handlers and routes the resulting
// events through the hub. Handlers never perform transport I/O directly.
type Router struct {
	presence *core.PresenceDirectory
	hub      *core.Hub
	validate *validator.Validate

	// join and disconnect mutate presence and membership together;
	// one lock makes a disconnect racing a join for the same identity
	// resolve by critical-section order. Relays stay lock-free.
	mu sync.Mutex
}

func NewRouter(presence *core.PresenceDirectory, hub *core.Hub) *Router {
	return &Router{
		presence: presence,
		hub:      hub,
		validate: validator.New(),
	}
}

// OnConnect makes the handle addressable before any frame is read.
func (r *Router) OnConnect(id domain.ClientID, conn core.SignalConnection) {
	r.hub.Register(id, conn)
}

// OnDisconnect is the only cleanup path; the transport delivers it
// exactly once per connection. Unknown handles are a no-op.
func (r *Router) OnDisconnect(id domain.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if identity, ok := r.presence.Remove(id); ok {
		log.Info().Str("module", "app.router").Str("handle", string(id)).Str("identity", string(identity)).Msg("disconnected")
	}
	r.hub.Unregister(id)
}

// HandleFrame parses one incoming frame and dispatches it. A panic in a
// handler is contained here; the sender gets a generic error and the
// process keeps serving.
func (r *Router) HandleFrame(sender domain.ClientID, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("module", "app.router").Str("handle", string(sender)).Any("panic", rec).Msg("handler panic recovered")
			r.sendError(sender, "internal error")
		}
	}()

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("handle", string(sender)).Msg("bad frame")
		r.sendError(sender, "invalid message")
		return
	}

	switch env.Event {
	case domain.EventRoomJoin:
		r.handleJoin(sender, env.Data)
	case domain.EventUserCall:
		r.relayOffer(sender, env.Data, domain.EventUserCall, domain.EventIncomingCall)
	case domain.EventCallAccept:
		r.relayAnswer(sender, env.Data, domain.EventCallAccept, domain.EventCallAccept)
	case domain.EventNegoNeeded:
		r.relayOffer(sender, env.Data, domain.EventNegoNeeded, domain.EventNegoNeeded)
	case domain.EventNegoDone:
		r.relayAnswer(sender, env.Data, domain.EventNegoDone, domain.EventNegoFinal)
	default:
		log.Warn().Str("module", "app.router").Str("event", env.Event).Msg("unknown event")
	}
}

// handleJoin runs the room entry sequence: evict a stale handle holding
// the same identity, enumerate existing members before adding the newcomer,
// broadcast the join to the whole room (newcomer included), send the
// newcomer one direct notice per pre-existing member, then echo the join
// payload back as acknowledgment.
func (r *Router) handleJoin(sender domain.ClientID, data []byte) {
	var p domain.JoinPayload
	if err := r.decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("handle", string(sender)).Msg("bad join payload")
		r.sendError(sender, "room:join requires identity and room")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if stale, ok := r.presence.Join(p.Identity, sender); ok {
		// Fire-and-forget; the stale handle cleans up through its own
		// close path.
		r.hub.CloseHandle(stale)
	}

	existing := r.hub.MembersOf(p.Room)
	r.hub.JoinRoom(p.Room, sender)

	log.Info().Str("module", "app.router").Str("handle", string(sender)).Str("identity", string(p.Identity)).Str("room", string(p.Room)).Msg("join")

	r.broadcast(p.Room, domain.EventUserJoined, domain.UserJoined{Identity: p.Identity, Handle: sender})

	for _, peer := range existing {
		identity, ok := r.presence.Identity(peer)
		if !ok {
			continue
		}
		r.send(sender, domain.EventUserJoined, domain.UserJoined{Identity: identity, Handle: peer})
	}

	r.send(sender, domain.EventRoomJoin, p)
}

func (r *Router) relayOffer(sender domain.ClientID, data []byte, in, out string) {
	var p domain.OfferPayload
	if err := r.decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("handle", string(sender)).Str("event", in).Msg("bad offer payload")
		r.sendError(sender, fmt.Sprintf("%s requires target and offer", in))
		return
	}
	r.send(p.Target, out, domain.OfferRelay{From: sender, Offer: p.Offer})
}

func (r *Router) relayAnswer(sender domain.ClientID, data []byte, in, out string) {
	var p domain.AnswerPayload
	if err := r.decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("handle", string(sender)).Str("event", in).Msg("bad answer payload")
		r.sendError(sender, fmt.Sprintf("%s requires target and ans", in))
		return
	}
	r.send(p.Target, out, domain.AnswerRelay{From: sender, Ans: p.Ans})
}

// RoomSnapshot resolves current room members through the presence
// directory; members that never joined are filtered out.
func (r *Router) RoomSnapshot(name domain.RoomName) []core.MemberDTO {
	return lo.FilterMap(r.hub.MembersOf(name), func(id domain.ClientID, _ int) (core.MemberDTO, bool) {
		identity, ok := r.presence.Identity(id)
		return core.MemberDTO{Identity: identity, Handle: id}, ok
	})
}

func (r *Router) decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	return r.validate.Struct(v)
}

func encode(event string, v any) (core.Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(domain.Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return frame, nil
}

func (r *Router) send(to domain.ClientID, event string, v any) {
	frame, err := encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode")
		return
	}
	r.hub.SendTo(to, frame)
}

func (r *Router) broadcast(room domain.RoomName, event string, v any) {
	frame, err := encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode")
		return
	}
	r.hub.Broadcast(room, frame)
}

func (r *Router) sendError(to domain.ClientID, msg string) {
	r.send(to, domain.EventError, domain.ErrorPayload{Message: msg})
}

package domain

import "encoding/json"

// Wire event names. Client-originated events on top, server-emitted below.
const (
	EventRoomJoin   = "room:join"
	EventUserCall   = "user:call"
	EventCallAccept = "call:accepted"
	EventNegoNeeded = "peer:nego:needed"
	EventNegoDone   = "peer:nego:done"

	EventUserJoined   = "user:joined"
	EventIncomingCall = "incoming:call"
	EventNegoFinal    = "peer:nego:final"
	EventError        = "error"
)

// Envelope frames every message on the signaling socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is sent by a client to enter a room under an identity.
type JoinPayload struct {
	Identity Identity `json:"identity" validate:"required"`
	Room     RoomName `json:"room" validate:"required"`
}

// UserJoined announces a new room member to its peers.
type UserJoined struct {
	Identity Identity `json:"identity"`
	Handle   ClientID `json:"handle"`
}

// OfferPayload targets a peer with an SDP offer. The blob is opaque to
// the relay and is never inspected beyond presence.
type OfferPayload struct {
	Target ClientID        `json:"target" validate:"required"`
	Offer  json.RawMessage `json:"offer" validate:"required"`
}

// AnswerPayload targets a peer with an SDP answer.
type AnswerPayload struct {
	Target ClientID        `json:"target" validate:"required"`
	Ans    json.RawMessage `json:"ans" validate:"required"`
}

// OfferRelay is the forwarded form of an offer, stamped with the sender's
// handle as derived from the delivering connection.
type OfferRelay struct {
	From  ClientID        `json:"from"`
	Offer json.RawMessage `json:"offer"`
}

// AnswerRelay is the forwarded form of an answer.
type AnswerRelay struct {
	From ClientID        `json:"from"`
	Ans  json.RawMessage `json:"ans"`
}

// ErrorPayload is sent back to the originating connection only.
type ErrorPayload struct {
	Message string `json:"message"`
}

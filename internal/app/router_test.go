package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/peerlink/internal/core"
	"github.com/avolkov/peerlink/internal/domain"
)

type mockConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (m *mockConn) TrySend(f core.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, f)
	return nil
}

func (m *mockConn) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) events(t *testing.T) []domain.Envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Envelope, 0, len(m.frames))
	for _, f := range m.frames {
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

func (m *mockConn) count(t *testing.T, event string) int {
	t.Helper()
	n := 0
	for _, env := range m.events(t) {
		if env.Event == event {
			n++
		}
	}
	return n
}

func frame(t *testing.T, event string, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	env, err := json.Marshal(domain.Envelope{Event: event, Data: data})
	require.NoError(t, err)
	return env
}

func newTestRouter() (*Router, *core.PresenceDirectory, *core.Hub) {
	presence := core.NewPresenceDirectory()
	hub := core.NewHub()
	return NewRouter(presence, hub), presence, hub
}

func join(t *testing.T, r *Router, id domain.ClientID, identity, room string) {
	t.Helper()
	r.HandleFrame(id, frame(t, domain.EventRoomJoin, domain.JoinPayload{
		Identity: domain.Identity(identity),
		Room:     domain.RoomName(room),
	}))
}

func TestRouter_JoinBroadcastAndRoster(t *testing.T) {
	r, _, _ := newTestRouter()
	a, b := &mockConn{}, &mockConn{}
	r.OnConnect("ha", a)
	r.OnConnect("hb", b)

	join(t, r, "ha", "a@x.com", "r1")

	// First joiner: its own join broadcast plus the echo, no roster.
	events := a.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventUserJoined, events[0].Event)
	assert.Equal(t, domain.EventRoomJoin, events[1].Event)

	join(t, r, "hb", "b@x.com", "r1")

	// Second joiner: own broadcast, one direct notice for A, then the echo.
	events = b.events(t)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventUserJoined, events[0].Event)
	assert.Equal(t, domain.EventUserJoined, events[1].Event)
	assert.Equal(t, domain.EventRoomJoin, events[2].Event)

	var own, roster domain.UserJoined
	require.NoError(t, json.Unmarshal(events[0].Data, &own))
	require.NoError(t, json.Unmarshal(events[1].Data, &roster))
	assert.Equal(t, domain.ClientID("hb"), own.Handle)
	assert.Equal(t, domain.Identity("b@x.com"), own.Identity)
	assert.Equal(t, domain.ClientID("ha"), roster.Handle)
	assert.Equal(t, domain.Identity("a@x.com"), roster.Identity)

	var echo domain.JoinPayload
	require.NoError(t, json.Unmarshal(events[2].Data, &echo))
	assert.Equal(t, domain.Identity("b@x.com"), echo.Identity)
	assert.Equal(t, domain.RoomName("r1"), echo.Room)

	// Two joins, two user:joined on A's side in total.
	assert.Equal(t, 2, a.count(t, domain.EventUserJoined))
}

func TestRouter_JoinMissingFields(t *testing.T) {
	r, _, hub := newTestRouter()
	a := &mockConn{}
	r.OnConnect("ha", a)

	r.HandleFrame("ha", frame(t, domain.EventRoomJoin, map[string]string{"room": "r1"}))

	assert.Equal(t, 1, a.count(t, domain.EventError))
	assert.Equal(t, 0, a.count(t, domain.EventUserJoined))
	rooms, _ := hub.Stats()
	assert.Equal(t, 0, rooms)
}

func TestRouter_DuplicateIdentityEvictsOldHandle(t *testing.T) {
	r, presence, _ := newTestRouter()
	a, b := &mockConn{}, &mockConn{}
	r.OnConnect("ha", a)
	r.OnConnect("hb", b)

	join(t, r, "ha", "a@x.com", "r1")
	join(t, r, "hb", "a@x.com", "r1")

	assert.True(t, a.isClosed(), "superseded connection must be terminated")

	handle, ok := presence.Handle("a@x.com")
	require.True(t, ok)
	assert.Equal(t, domain.ClientID("hb"), handle)
	_, ok = presence.Identity("ha")
	assert.False(t, ok)
}

func TestRouter_CallRelay(t *testing.T) {
	r, _, _ := newTestRouter()
	a, b := &mockConn{}, &mockConn{}
	r.OnConnect("ha", a)
	r.OnConnect("hb", b)
	join(t, r, "ha", "a@x.com", "r1")
	join(t, r, "hb", "b@x.com", "r1")

	r.HandleFrame("ha", frame(t, domain.EventUserCall, domain.OfferPayload{
		Target: "hb",
		Offer:  json.RawMessage(`"o1"`),
	}))

	require.Equal(t, 1, b.count(t, domain.EventIncomingCall))
	events := b.events(t)
	last := events[len(events)-1]
	require.Equal(t, domain.EventIncomingCall, last.Event)

	var relay domain.OfferRelay
	require.NoError(t, json.Unmarshal(last.Data, &relay))
	assert.Equal(t, domain.ClientID("ha"), relay.From)
	assert.Equal(t, json.RawMessage(`"o1"`), relay.Offer)

	assert.Equal(t, 0, a.count(t, domain.EventIncomingCall))
}

func TestRouter_CallMissingOffer(t *testing.T) {
	r, _, _ := newTestRouter()
	a, b := &mockConn{}, &mockConn{}
	r.OnConnect("ha", a)
	r.OnConnect("hb", b)
	join(t, r, "ha", "a@x.com", "r1")
	join(t, r, "hb", "b@x.com", "r1")

	r.HandleFrame("ha", frame(t, domain.EventUserCall, map[string]string{"target": "hb"}))

	assert.Equal(t, 1, a.count(t, domain.EventError))
	assert.Equal(t, 0, b.count(t, domain.EventIncomingCall))
}

func TestRouter_RelayEventMapping(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		out     string
		payload any
	}{
		{"accept", domain.EventCallAccept, domain.EventCallAccept,
			domain.AnswerPayload{Target: "hb", Ans: json.RawMessage(`"a1"`)}},
		{"nego needed", domain.EventNegoNeeded, domain.EventNegoNeeded,
			domain.OfferPayload{Target: "hb", Offer: json.RawMessage(`"o2"`)}},
		{"nego done", domain.EventNegoDone, domain.EventNegoFinal,
			domain.AnswerPayload{Target: "hb", Ans: json.RawMessage(`"a2"`)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _, _ := newTestRouter()
			a, b := &mockConn{}, &mockConn{}
			r.OnConnect("ha", a)
			r.OnConnect("hb", b)

			r.HandleFrame("ha", frame(t, tc.in, tc.payload))

			require.Equal(t, 1, b.count(t, tc.out))
			assert.Equal(t, 0, a.count(t, domain.EventError))
		})
	}
}

func TestRouter_RelayToUnknownTargetIsSilent(t *testing.T) {
	r, _, _ := newTestRouter()
	a := &mockConn{}
	r.OnConnect("ha", a)
	join(t, r, "ha", "a@x.com", "r1")
	before := len(a.events(t))

	for _, f := range [][]byte{
		frame(t, domain.EventUserCall, domain.OfferPayload{Target: "ghost", Offer: json.RawMessage(`"o"`)}),
		frame(t, domain.EventCallAccept, domain.AnswerPayload{Target: "ghost", Ans: json.RawMessage(`"a"`)}),
		frame(t, domain.EventNegoNeeded, domain.OfferPayload{Target: "ghost", Offer: json.RawMessage(`"o"`)}),
		frame(t, domain.EventNegoDone, domain.AnswerPayload{Target: "ghost", Ans: json.RawMessage(`"a"`)}),
	} {
		r.HandleFrame("ha", f)
	}

	// No error frames and no crash; the drop is unobservable.
	assert.Len(t, a.events(t), before)
}

func TestRouter_DisconnectCleansDirectory(t *testing.T) {
	r, presence, hub := newTestRouter()
	a := &mockConn{}
	r.OnConnect("ha", a)
	join(t, r, "ha", "a@x.com", "r1")

	r.OnDisconnect("ha")

	_, ok := presence.Identity("ha")
	assert.False(t, ok)
	rooms, conns := hub.Stats()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 0, conns)

	// Same identity from a fresh handle joins cleanly, no stale eviction.
	b := &mockConn{}
	r.OnConnect("hb", b)
	join(t, r, "hb", "a@x.com", "r1")
	assert.False(t, a.isClosed())

	handle, ok := presence.Handle("a@x.com")
	require.True(t, ok)
	assert.Equal(t, domain.ClientID("hb"), handle)
}

func TestRouter_DisconnectUnknownHandleIsNoop(t *testing.T) {
	r, presence, _ := newTestRouter()
	r.OnDisconnect("ghost")
	assert.Equal(t, 0, presence.Len())
}

func TestRouter_MalformedFrame(t *testing.T) {
	r, _, _ := newTestRouter()
	a := &mockConn{}
	r.OnConnect("ha", a)

	r.HandleFrame("ha", []byte("{not json"))

	assert.Equal(t, 1, a.count(t, domain.EventError))
}

func TestRouter_UnknownEventIgnored(t *testing.T) {
	r, _, _ := newTestRouter()
	a := &mockConn{}
	r.OnConnect("ha", a)

	r.HandleFrame("ha", frame(t, "user:teleport", map[string]string{"x": "y"}))

	assert.Empty(t, a.events(t))
}

func TestRouter_RoomSnapshot(t *testing.T) {
	r, _, _ := newTestRouter()
	a, b := &mockConn{}, &mockConn{}
	r.OnConnect("ha", a)
	r.OnConnect("hb", b)
	join(t, r, "ha", "a@x.com", "r1")
	join(t, r, "hb", "b@x.com", "r1")

	snap := r.RoomSnapshot("r1")
	require.Len(t, snap, 2)
	byHandle := map[domain.ClientID]domain.Identity{}
	for _, m := range snap {
		byHandle[m.Handle] = m.Identity
	}
	assert.Equal(t, domain.Identity("a@x.com"), byHandle["ha"])
	assert.Equal(t, domain.Identity("b@x.com"), byHandle["hb"])
}

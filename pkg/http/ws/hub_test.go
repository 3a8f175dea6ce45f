package ws

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueueConn() *Connection {
	return NewConnection(nil, zerolog.Nop())
}

func drain(c *Connection) []Envelope {
	var out []Envelope
	for {
		select {
		case env := <-c.Outbox():
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestRegisterSendUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	connID := uuid.New()
	conn := newQueueConn()
	hub.Register(connID, conn)

	env := NewEvent(EventTimeUp, "ABC123", nil)
	require.NoError(t, hub.Send(connID, env))
	got := drain(conn)
	require.Len(t, got, 1)
	assert.Equal(t, EventTimeUp, got[0].EventType)

	hub.Unregister(connID)
	assert.ErrorIs(t, hub.Send(connID, env), ErrConnectionNotFound)
	assert.ErrorIs(t, conn.Send(env), ErrConnectionClosed)
}

func TestBroadcastRoleFiltering(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	hostID, attendeeID := uuid.New(), uuid.New()
	host, attendee := newQueueConn(), newQueueConn()
	hub.Register(hostID, host)
	hub.Register(attendeeID, attendee)
	hub.Join("ABC123", hostID, RoleHost, "")
	hub.Join("ABC123", attendeeID, RoleAttendee, "Alice")

	hub.BroadcastRole("ABC123", RoleHost, NewEvent(EventAttendeeJoined, "ABC123", AttendeeJoinedData{AttendeeName: "Alice", MemberCount: 1}))
	assert.Len(t, drain(host), 1)
	assert.Empty(t, drain(attendee))

	hub.Broadcast("ABC123", NewEvent(EventTimeUpdate, "ABC123", TimeUpdateData{TimeRemaining: 5}))
	assert.Len(t, drain(host), 1)
	assert.Len(t, drain(attendee), 1)
}

func TestBroadcastSkipsOtherGroups(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	inID, outID := uuid.New(), uuid.New()
	in, out := newQueueConn(), newQueueConn()
	hub.Register(inID, in)
	hub.Register(outID, out)
	hub.Join("AAA111", inID, RoleAttendee, "Alice")
	hub.Join("BBB222", outID, RoleAttendee, "Bob")

	hub.Broadcast("AAA111", NewEvent(EventTimeUp, "AAA111", nil))
	assert.Len(t, drain(in), 1)
	assert.Empty(t, drain(out))
}

func TestBroadcastUnregistersFailedSends(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	deadID, liveID := uuid.New(), uuid.New()
	dead, live := newQueueConn(), newQueueConn()
	hub.Register(deadID, dead)
	hub.Register(liveID, live)
	hub.Join("ABC123", deadID, RoleAttendee, "Alice")
	hub.Join("ABC123", liveID, RoleAttendee, "Bob")

	// a closed peer fails the send and gets culled from the group
	dead.Close()
	hub.Broadcast("ABC123", NewEvent(EventTimeUp, "ABC123", nil))

	assert.Len(t, drain(live), 1)
	assert.Equal(t, 1, hub.GroupSize("ABC123"))
	_, _, _, ok := hub.Info(deadID)
	assert.False(t, ok)
}

func TestRejoinSwitchesGroups(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	connID := uuid.New()
	conn := newQueueConn()
	hub.Register(connID, conn)
	hub.Join("AAA111", connID, RoleAttendee, "Alice")
	hub.Join("BBB222", connID, RoleAttendee, "Alice")

	// the old group must forget the connection entirely
	assert.Zero(t, hub.GroupSize("AAA111"))
	assert.Equal(t, 1, hub.GroupSize("BBB222"))

	hub.Broadcast("AAA111", NewEvent(EventTimeUp, "AAA111", nil))
	assert.Empty(t, drain(conn), "a rejoined connection must not hear its old session")

	hub.Broadcast("BBB222", NewEvent(EventTimeUp, "BBB222", nil))
	assert.Len(t, drain(conn), 1)
}

func TestConcurrentJoinAndBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	connID := uuid.New()
	conn := newQueueConn()
	hub.Register(connID, conn)
	hub.Join("ABC123", connID, RoleAttendee, "Alice")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			role := RoleAttendee
			if i%2 == 0 {
				role = RoleHost
			}
			hub.Join("ABC123", connID, role, "Alice")
		}
	}()
	for i := 0; i < 200; i++ {
		hub.BroadcastRole("ABC123", RoleHost, NewEvent(EventAttendeeJoined, "ABC123", nil))
		drain(conn)
	}
	<-done
}

func TestJoinLeaveGroupMembership(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	connID := uuid.New()
	hub.Register(connID, newQueueConn())
	hub.Join("ABC123", connID, RoleAttendee, "Alice")
	hub.Join("ABC123", connID, RoleAttendee, "Alice") // repeat join stays single
	assert.Equal(t, 1, hub.GroupSize("ABC123"))

	code, role, identity, ok := hub.Info(connID)
	require.True(t, ok)
	assert.Equal(t, "ABC123", code)
	assert.Equal(t, RoleAttendee, role)
	assert.Equal(t, "Alice", identity)

	hub.Leave(connID)
	assert.Zero(t, hub.GroupSize("ABC123"))
	code, _, _, ok = hub.Info(connID)
	require.True(t, ok, "leaving a group keeps the connection registered")
	assert.Empty(t, code)
}

func TestEnvelopeWireShape(t *testing.T) {
	env := NewEvent(EventSessionStarted, "ABC123", SessionStartedData{Display: "321"})

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NotContains(t, decoded, "action")
	assert.JSONEq(t, `"sessionStarted"`, string(decoded["eventType"]))
	assert.JSONEq(t, `"ABC123"`, string(decoded["sessionCode"]))
	assert.JSONEq(t, `{"display":"321"}`, string(decoded["data"]))
	assert.Contains(t, decoded, "timestamp")

	intent := NewIntent(ActionSubmitResponse, "ABC123", SubmitResponseData{
		SessionCode: "ABC123", AttendeeName: "Alice", Response: "B",
	})
	raw, err = json.Marshal(intent)
	require.NoError(t, err)
	decoded = nil // unmarshal merges into an existing map; start fresh
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.JSONEq(t, `"submitResponse"`, string(decoded["action"]))
	assert.NotContains(t, decoded, "eventType")
}

package ws

import (
	"encoding/json"
	"time"
)

// Intent names carried in the envelope "action" field (client -> server).
const (
	ActionJoinSession    = "joinSession"
	ActionStartSession   = "startSession"
	ActionSubmitResponse = "submitResponse"
	ActionEndSession     = "endSession"
)

// Event names carried in the envelope "eventType" field (server -> client).
const (
	EventSessionStarted   = "sessionStarted"
	EventTimeUpdate       = "timeUpdate"
	EventTimeUp           = "timeUp"
	EventSessionClosed    = "sessionClosed"
	EventAttendeeResponse = "attendeeResponse"
	EventAttendeeJoined   = "attendeeJoined"
	EventError            = "error"
)

// Role of a connection within a session.
type Role string

const (
	RoleHost     Role = "host"
	RoleAttendee Role = "attendee"
)

// Envelope wraps every message on the wire. Exactly one of Action or
// EventType is set, depending on direction.
type Envelope struct {
	Action      string          `json:"action,omitempty"`
	EventType   string          `json:"eventType,omitempty"`
	SessionCode string          `json:"sessionCode,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// NewIntent builds a client -> server envelope with the payload marshaled
// into Data.
func NewIntent(action, code string, data any) Envelope {
	env := Envelope{
		Action:      action,
		SessionCode: code,
		Timestamp:   time.Now().Unix(),
	}
	if data != nil {
		env.Data, _ = json.Marshal(data)
	}
	return env
}

// NewEvent builds a server -> client envelope.
func NewEvent(eventType, code string, data any) Envelope {
	env := Envelope{
		EventType:   eventType,
		SessionCode: code,
		Timestamp:   time.Now().Unix(),
	}
	if data != nil {
		env.Data, _ = json.Marshal(data)
	}
	return env
}

// Client payloads (incoming)

// JoinSessionData attaches the connection to a session. An empty
// AttendeeName marks the connection as the session host.
type JoinSessionData struct {
	SessionCode  string `json:"sessionCode"`
	AttendeeName string `json:"attendeeName,omitempty"`
}

type StartSessionData struct {
	SessionCode   string `json:"sessionCode"`
	CorrectAnswer string `json:"correctAnswer"`
	TimeLimit     int    `json:"timeLimit"`
}

type SubmitResponseData struct {
	SessionCode  string `json:"sessionCode"`
	AttendeeName string `json:"attendeeName"`
	Response     string `json:"response"`
}

type EndSessionData struct {
	SessionCode string `json:"sessionCode"`
}

// Server payloads (outgoing)

type SessionStartedData struct {
	Display string `json:"display"`
}

type TimeUpdateData struct {
	TimeRemaining int `json:"timeRemaining"`
}

// AttendeeResponseData reports one recorded answer to the host. Response
// carries the verdict (Correct/Wrong), Choice the raw answer letter.
type AttendeeResponseData struct {
	AttendeeName string `json:"attendeeName"`
	Response     string `json:"response"`
	Choice       string `json:"choice"`
}

type AttendeeJoinedData struct {
	AttendeeName string `json:"attendeeName"`
	MemberCount  int    `json:"memberCount"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

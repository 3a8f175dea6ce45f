package session

import (
	"errors"
	"sync"
	"time"
)

// State of a session lifecycle. Transitions only move forward:
// Created -> Waiting -> Active -> Closed.
type State string

const (
	StateCreated State = "CREATED"
	StateWaiting State = "WAITING"
	StateActive  State = "ACTIVE"
	StateClosed  State = "CLOSED"
)

// rank orders states for the monotonicity check.
func (s State) rank() int {
	switch s {
	case StateCreated:
		return 0
	case StateWaiting:
		return 1
	case StateActive:
		return 2
	case StateClosed:
		return 3
	}
	return -1
}

// Choice is one of the four answer buttons.
type Choice string

const (
	ChoiceA Choice = "A"
	ChoiceB Choice = "B"
	ChoiceC Choice = "C"
	ChoiceD Choice = "D"
)

// ValidChoice reports whether c is one of A, B, C, D.
func ValidChoice(c Choice) bool {
	switch c {
	case ChoiceA, ChoiceB, ChoiceC, ChoiceD:
		return true
	}
	return false
}

// Verdict classifies a submitted response against the round's answer.
type Verdict string

const (
	VerdictPending Verdict = "Pending"
	VerdictCorrect Verdict = "Correct"
	VerdictWrong   Verdict = "Wrong"
	VerdictMissing Verdict = "Missing"
)

// Round is the single timed question within an Active session.
type Round struct {
	CorrectAnswer    Choice
	TimeLimitSeconds int
	TimeRemaining    int
	StartedAt        time.Time
}

// Response is one attendee's recorded answer. Resubmission overwrites.
type Response struct {
	Choice      Choice
	SubmittedAt time.Time
	Verdict     Verdict
}

// Session holds all mutable state for one host-led session. Every
// mutation goes through the state machine entry points, which serialize
// on mu; no other component touches the fields directly.
type Session struct {
	mu sync.Mutex

	code      string
	state     State
	round     *Round
	members   map[string]time.Time // attendee name -> first join
	responses map[string]Response
	createdAt time.Time

	sink Sink
	tick *tickHandle
	opts MachineOptions
}

// Sentinel errors for the protocol-level taxonomy. They are recovered
// locally and reported back to the offending connection only.
var (
	ErrNotFound            = errors.New("session not found")
	ErrSessionClosed       = errors.New("session is closed")
	ErrInvalidRound        = errors.New("invalid round parameters")
	ErrInvalidChoice       = errors.New("invalid choice")
	ErrRoundNotActive      = errors.New("no active round")
	ErrGenerationExhausted = errors.New("session code space exhausted")
)

// EventType identifies a session event fanned out to subscribers.
type EventType string

const (
	EventRoundStarted     EventType = "roundStarted"
	EventTimeUpdate       EventType = "timeUpdate"
	EventTimeUp           EventType = "timeUp"
	EventClosed           EventType = "sessionClosed"
	EventResponseRecorded EventType = "responseRecorded"
	EventMemberJoined     EventType = "memberJoined"
)

// Event is a typed session notification. Fields beyond Type are set per
// event kind; HostOnly events must not reach attendee connections.
type Event struct {
	Type          EventType
	HostOnly      bool
	TimeRemaining int
	AttendeeName  string
	Verdict       Verdict
	Choice        Choice
	MemberCount   int
}

// Sink receives events from the state machine, in the order the
// triggering transitions occurred. Delivery is a direct method call.
type Sink interface {
	Publish(code string, evt Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(code string, evt Event)

func (f SinkFunc) Publish(code string, evt Event) { f(code, evt) }

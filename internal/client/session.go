// Package client implements the session context consumed by host and
// attendee front ends: one subscription point over the WebSocket that
// survives transient disconnects.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	wsproto "github.com/attendancy/attendancy-server/pkg/http/ws"
)

// Status of the client-side session connection.
type Status string

const (
	StatusConnecting Status = "Connecting"
	StatusWaiting    Status = "Waiting"
	StatusActive     Status = "Active"
	StatusClosed     Status = "Closed"
	StatusError      Status = "Error"
)

const defaultMaxRetries = 3

// ErrRetriesExhausted is returned once the automatic reconnect budget is
// spent; further attempts require an explicit Retry call.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// Conn is one live duplex connection to the server.
type Conn interface {
	Send(env wsproto.Envelope) error
	Receive() (wsproto.Envelope, error)
	Close() error
}

// Transport dials new connections; swapped for a stub in tests.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Options tunes the session context.
type Options struct {
	// MaxRetries caps automatic reconnect attempts (default 3).
	MaxRetries int
	Logger     zerolog.Logger
}

// SessionContext tracks connection status, applies server events
// idempotently and re-issues the join intent on reconnect.
type SessionContext struct {
	transport  Transport
	maxRetries int
	logger     zerolog.Logger

	mu            sync.Mutex
	conn          Conn
	status        Status
	code          string
	identity      string
	retries       int
	display       string
	timeRemaining int
	timeUp        bool
	lastError     string
	responses     map[string]string // attendee name -> verdict, host view
	members       []string

	done chan struct{}
}

// NewSessionContext creates a disconnected session context.
func NewSessionContext(transport Transport, opts Options) *SessionContext {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &SessionContext{
		transport:  transport,
		maxRetries: maxRetries,
		logger:     opts.Logger.With().Str("component", "session_client").Logger(),
		status:     StatusConnecting,
		responses:  make(map[string]string),
	}
}

// Connect dials the server and joins the session. An empty identity joins
// as host. The receive loop runs until the session closes or the retry
// budget is exhausted.
func (s *SessionContext) Connect(ctx context.Context, code, identity string) error {
	s.mu.Lock()
	s.code = code
	s.identity = identity
	s.retries = 0
	s.status = StatusConnecting
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.dialAndJoin(ctx); err != nil {
		return err
	}
	go s.receiveLoop(ctx)
	return nil
}

// dialAndJoin opens a connection and re-issues the join intent with the
// last known code and identity.
func (s *SessionContext) dialAndJoin(ctx context.Context) error {
	conn, err := s.transport.Dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	code, identity := s.code, s.identity
	s.conn = conn
	s.mu.Unlock()

	join := wsproto.NewIntent(wsproto.ActionJoinSession, code, wsproto.JoinSessionData{
		SessionCode:  code,
		AttendeeName: identity,
	})
	if err := conn.Send(join); err != nil {
		conn.Close()
		return err
	}

	s.mu.Lock()
	if s.status == StatusConnecting {
		s.status = StatusWaiting
	}
	s.mu.Unlock()
	return nil
}

func (s *SessionContext) receiveLoop(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		env, err := conn.Receive()
		if err != nil {
			s.mu.Lock()
			closed := s.status == StatusClosed
			s.mu.Unlock()
			if closed || ctx.Err() != nil {
				return
			}
			if rerr := s.reconnect(ctx); rerr != nil {
				s.logger.Warn().Err(rerr).Msg("reconnect failed, giving up")
				return
			}
			continue
		}
		s.applyEvent(env)

		s.mu.Lock()
		closed := s.status == StatusClosed
		s.mu.Unlock()
		if closed {
			return
		}
	}
}

// reconnect retries the dial with the same code, up to the retry budget.
func (s *SessionContext) reconnect(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.retries >= s.maxRetries {
			s.status = StatusError
			s.lastError = "connection lost"
			s.mu.Unlock()
			return ErrRetriesExhausted
		}
		s.retries++
		attempt := s.retries
		s.status = StatusConnecting
		s.mu.Unlock()

		s.logger.Info().Int("attempt", attempt).Msg("reconnecting")
		if err := s.dialAndJoin(ctx); err == nil {
			s.mu.Lock()
			s.retries = 0
			s.mu.Unlock()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Retry is the explicit user action after the automatic budget is spent:
// it resets the counter and reconnects.
func (s *SessionContext) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return errors.New("session is closed")
	}
	s.retries = 0
	s.status = StatusConnecting
	restartLoop := s.done == nil || loopDone(s.done)
	if restartLoop {
		s.done = make(chan struct{})
	}
	s.mu.Unlock()

	if err := s.dialAndJoin(ctx); err != nil {
		s.mu.Lock()
		s.status = StatusError
		s.mu.Unlock()
		return err
	}
	if restartLoop {
		go s.receiveLoop(ctx)
	}
	return nil
}

func loopDone(done chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// applyEvent folds a server event into local state. Duplicate events are
// harmless: every field is last-value-wins.
func (s *SessionContext) applyEvent(env wsproto.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.EventType {
	case wsproto.EventSessionStarted:
		var data wsproto.SessionStartedData
		_ = json.Unmarshal(env.Data, &data)
		s.status = StatusActive
		s.display = data.Display
		s.timeUp = false
	case wsproto.EventTimeUpdate:
		var data wsproto.TimeUpdateData
		_ = json.Unmarshal(env.Data, &data)
		s.timeRemaining = data.TimeRemaining
	case wsproto.EventTimeUp:
		s.timeRemaining = 0
		s.timeUp = true
	case wsproto.EventSessionClosed:
		s.status = StatusClosed
	case wsproto.EventAttendeeResponse:
		var data wsproto.AttendeeResponseData
		_ = json.Unmarshal(env.Data, &data)
		s.responses[data.AttendeeName] = data.Response
	case wsproto.EventAttendeeJoined:
		var data wsproto.AttendeeJoinedData
		_ = json.Unmarshal(env.Data, &data)
		s.members = appendUnique(s.members, data.AttendeeName)
	case wsproto.EventError:
		var data wsproto.ErrorData
		_ = json.Unmarshal(env.Data, &data)
		s.lastError = data.Message
	}
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

// StartRound sends the host intent to begin the timed question.
func (s *SessionContext) StartRound(correctAnswer string, timeLimitSeconds int) error {
	return s.send(wsproto.ActionStartSession, wsproto.StartSessionData{
		SessionCode:   s.SessionCode(),
		CorrectAnswer: correctAnswer,
		TimeLimit:     timeLimitSeconds,
	})
}

// SubmitResponse sends the attendee's answer.
func (s *SessionContext) SubmitResponse(choice string) error {
	s.mu.Lock()
	identity := s.identity
	s.mu.Unlock()
	return s.send(wsproto.ActionSubmitResponse, wsproto.SubmitResponseData{
		SessionCode:  s.SessionCode(),
		AttendeeName: identity,
		Response:     choice,
	})
}

// EndSession sends the host intent to close the session.
func (s *SessionContext) EndSession() error {
	return s.send(wsproto.ActionEndSession, wsproto.EndSessionData{SessionCode: s.SessionCode()})
}

// Disconnect closes the connection without waiting for server events.
func (s *SessionContext) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	if s.status != StatusClosed && s.status != StatusError {
		s.status = StatusClosed
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (s *SessionContext) send(action string, data any) error {
	s.mu.Lock()
	conn := s.conn
	code := s.code
	status := s.status
	s.mu.Unlock()

	if status == StatusClosed {
		return errors.New("session is closed")
	}
	if conn == nil {
		return errors.New("not connected")
	}
	return conn.Send(wsproto.NewIntent(action, code, data))
}

// Accessors

func (s *SessionContext) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *SessionContext) SessionCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func (s *SessionContext) Display() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

func (s *SessionContext) TimeRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeRemaining
}

func (s *SessionContext) TimeUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeUp
}

// Responses returns a copy of the host-side verdict view.
func (s *SessionContext) Responses() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.responses))
	for name, verdict := range s.responses {
		out[name] = verdict
	}
	return out
}

// Members returns the attendee names seen so far (host view).
func (s *SessionContext) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.members))
	copy(out, s.members)
	return out
}

// LastError returns the most recent error message, server or transport.
func (s *SessionContext) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Done is closed when the receive loop exits.
func (s *SessionContext) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

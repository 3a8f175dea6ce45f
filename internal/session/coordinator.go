package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	httperrors "github.com/attendancy/attendancy-server/pkg/http/errors"
	wsproto "github.com/attendancy/attendancy-server/pkg/http/ws"
)

// Wire is the slice of the connection hub the coordinator drives. Sends
// are non-blocking and best-effort; a broken peer never stalls a
// broadcast.
type Wire interface {
	Join(code string, connID uuid.UUID, role wsproto.Role, identity string)
	Leave(connID uuid.UUID)
	Info(connID uuid.UUID) (code string, role wsproto.Role, identity string, ok bool)
	Send(connID uuid.UUID, env wsproto.Envelope) error
	Broadcast(code string, env wsproto.Envelope)
	BroadcastRole(code string, role wsproto.Role, env wsproto.Envelope)
}

// CoordinatorConfig carries the connection-manager tunables.
type CoordinatorConfig struct {
	// HostGrace is how long a session survives after its host connection
	// drops before it is force-closed and evicted.
	HostGrace time.Duration
	// HostDisplay and AttendeeDisplay are the role-specific values shown
	// on round start.
	HostDisplay     string
	AttendeeDisplay string
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.HostGrace <= 0 {
		c.HostGrace = 30 * time.Second
	}
	if c.HostDisplay == "" {
		c.HostDisplay = "123"
	}
	if c.AttendeeDisplay == "" {
		c.AttendeeDisplay = "321"
	}
	return c
}

// Coordinator multiplexes inbound intents into the per-session state
// machines and fans their events back out to subscribed connections. It
// also owns the host-loss grace timers.
type Coordinator struct {
	registry *Registry
	wire     Wire
	archive  *Archive
	metrics  *Metrics
	cfg      CoordinatorConfig
	logger   zerolog.Logger

	mu    sync.Mutex
	grace map[string]*time.Timer
}

// NewCoordinator wires the connection manager. The registry must have been
// built with this coordinator as its event sink (see app bootstrap).
func NewCoordinator(wire Wire, archive *Archive, metrics *Metrics, cfg CoordinatorConfig, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		wire:    wire,
		archive: archive,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		logger:  logger.With().Str("component", "session_coordinator").Logger(),
		grace:   make(map[string]*time.Timer),
	}
}

// BindRegistry attaches the registry after construction; the registry and
// coordinator reference each other (registry -> sink, coordinator ->
// lookup), so one side binds late.
func (c *Coordinator) BindRegistry(r *Registry) { c.registry = r }

// CreateSession generates a fresh session for a host.
func (c *Coordinator) CreateSession() (*Session, error) {
	sess, err := c.registry.Create()
	if err != nil {
		return nil, err
	}
	c.metrics.sessionCreated()
	return sess, nil
}

// Attach binds a connection to a session in the given role. Attendees are
// recorded as members; a returning host cancels any pending closure.
func (c *Coordinator) Attach(connID uuid.UUID, code string, role wsproto.Role, identity string) error {
	code = Normalize(code)
	sess, err := c.registry.Get(code)
	if err != nil {
		return err
	}
	if sess.State() == StateClosed {
		return ErrSessionClosed
	}

	c.wire.Join(code, connID, role, identity)

	if role == wsproto.RoleHost {
		c.cancelGrace(code)
		return nil
	}
	return sess.Join(identity)
}

// Detach drops a connection. A departing host arms the grace timer (if no
// host reattaches before it fires, the session closes and is evicted) or,
// when the session was already ended, evicts it right away.
func (c *Coordinator) Detach(connID uuid.UUID) {
	code, role, _, ok := c.wire.Info(connID)
	c.wire.Leave(connID)
	if !ok || code == "" {
		return
	}

	if role != wsproto.RoleHost {
		return
	}
	sess, err := c.registry.Get(code)
	if err != nil {
		return
	}
	if sess.State() == StateClosed {
		// the host already ended the session; reclaim it now
		c.EvictSession(code)
		return
	}
	c.armGrace(code)
}

// Dispatch routes one decoded inbound envelope. Protocol errors are
// answered with an error event to the sender only; they never disturb the
// session or other connections.
func (c *Coordinator) Dispatch(connID uuid.UUID, env wsproto.Envelope) error {
	switch env.Action {
	case wsproto.ActionJoinSession:
		return c.handleJoin(connID, env)
	case wsproto.ActionStartSession:
		return c.handleStart(connID, env)
	case wsproto.ActionSubmitResponse:
		return c.handleSubmit(connID, env)
	case wsproto.ActionEndSession:
		return c.handleEnd(connID, env)
	default:
		return c.sendError(connID, httperrors.ErrCodeUnknownAction, fmt.Sprintf("Unknown action: %s", env.Action))
	}
}

func (c *Coordinator) handleJoin(connID uuid.UUID, env wsproto.Envelope) error {
	var data wsproto.JoinSessionData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return c.sendError(connID, httperrors.ErrCodeInvalidPayload, "Invalid joinSession payload")
		}
	}
	code := data.SessionCode
	if code == "" {
		code = env.SessionCode
	}
	if code == "" {
		return c.sendError(connID, httperrors.ErrCodeMissingField, "sessionCode is required")
	}

	// no attendee name means the host side of the session is connecting
	role := wsproto.RoleAttendee
	if data.AttendeeName == "" {
		role = wsproto.RoleHost
	}
	if err := c.Attach(connID, code, role, data.AttendeeName); err != nil {
		return c.replyError(connID, err)
	}
	return nil
}

func (c *Coordinator) handleStart(connID uuid.UUID, env wsproto.Envelope) error {
	sess, role, ok := c.attached(connID)
	if !ok {
		return c.sendError(connID, httperrors.ErrCodeNotJoined, "Join a session before sending intents")
	}
	if role != wsproto.RoleHost {
		return c.sendError(connID, httperrors.ErrCodeNotHost, "Only the host can start a round")
	}

	var data wsproto.StartSessionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return c.sendError(connID, httperrors.ErrCodeInvalidPayload, "Invalid startSession payload")
	}
	if err := sess.StartRound(Choice(data.CorrectAnswer), data.TimeLimit); err != nil {
		return c.replyError(connID, err)
	}
	return nil
}

func (c *Coordinator) handleSubmit(connID uuid.UUID, env wsproto.Envelope) error {
	sess, _, ok := c.attached(connID)
	if !ok {
		return c.sendError(connID, httperrors.ErrCodeNotJoined, "Join a session before sending intents")
	}

	var data wsproto.SubmitResponseData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return c.sendError(connID, httperrors.ErrCodeInvalidPayload, "Invalid submitResponse payload")
	}
	name := data.AttendeeName
	if name == "" {
		_, _, identity, _ := c.wire.Info(connID)
		name = identity
	}
	if name == "" {
		return c.sendError(connID, httperrors.ErrCodeMissingField, "attendeeName is required")
	}

	if _, err := sess.SubmitResponse(name, Choice(data.Response)); err != nil {
		return c.replyError(connID, err)
	}
	return nil
}

func (c *Coordinator) handleEnd(connID uuid.UUID, env wsproto.Envelope) error {
	sess, role, ok := c.attached(connID)
	if !ok {
		return c.sendError(connID, httperrors.ErrCodeNotJoined, "Join a session before sending intents")
	}
	if role != wsproto.RoleHost {
		return c.sendError(connID, httperrors.ErrCodeNotHost, "Only the host can end the session")
	}

	if err := sess.End(); err != nil {
		return c.replyError(connID, err)
	}
	c.archiveTally(sess)
	return nil
}

// attached resolves the session a connection belongs to. The envelope's
// sessionCode is advisory; the hub's record is authoritative.
func (c *Coordinator) attached(connID uuid.UUID) (*Session, wsproto.Role, bool) {
	code, role, _, ok := c.wire.Info(connID)
	if !ok || code == "" {
		return nil, "", false
	}
	sess, err := c.registry.Get(code)
	if err != nil {
		return nil, "", false
	}
	return sess, role, true
}

// Publish implements Sink: it translates state machine events into wire
// envelopes, preserving per-session order. Host-only events never reach
// attendees.
func (c *Coordinator) Publish(code string, evt Event) {
	switch evt.Type {
	case EventRoundStarted:
		c.wire.BroadcastRole(code, wsproto.RoleHost,
			wsproto.NewEvent(wsproto.EventSessionStarted, code, wsproto.SessionStartedData{Display: c.cfg.HostDisplay}))
		c.wire.BroadcastRole(code, wsproto.RoleAttendee,
			wsproto.NewEvent(wsproto.EventSessionStarted, code, wsproto.SessionStartedData{Display: c.cfg.AttendeeDisplay}))
		c.metrics.roundStarted()
	case EventTimeUpdate:
		c.wire.Broadcast(code,
			wsproto.NewEvent(wsproto.EventTimeUpdate, code, wsproto.TimeUpdateData{TimeRemaining: evt.TimeRemaining}))
	case EventTimeUp:
		c.wire.Broadcast(code, wsproto.NewEvent(wsproto.EventTimeUp, code, nil))
	case EventClosed:
		c.wire.Broadcast(code, wsproto.NewEvent(wsproto.EventSessionClosed, code, nil))
	case EventResponseRecorded:
		c.wire.BroadcastRole(code, wsproto.RoleHost,
			wsproto.NewEvent(wsproto.EventAttendeeResponse, code, wsproto.AttendeeResponseData{
				AttendeeName: evt.AttendeeName,
				Response:     string(evt.Verdict),
				Choice:       string(evt.Choice),
			}))
		c.metrics.responseRecorded(string(evt.Verdict))
	case EventMemberJoined:
		c.wire.BroadcastRole(code, wsproto.RoleHost,
			wsproto.NewEvent(wsproto.EventAttendeeJoined, code, wsproto.AttendeeJoinedData{
				AttendeeName: evt.AttendeeName,
				MemberCount:  evt.MemberCount,
			}))
	}
}

// armGrace schedules the host-loss closure for a session. Re-arming
// replaces the previous timer.
func (c *Coordinator) armGrace(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, exists := c.grace[code]; exists {
		t.Stop()
	}
	c.grace[code] = time.AfterFunc(c.cfg.HostGrace, func() { c.expireGrace(code) })
	c.logger.Info().Str("session_code", code).Dur("grace", c.cfg.HostGrace).Msg("host disconnected, grace timer armed")
}

// cancelGrace aborts a pending closure; called when a host reattaches
// with the same code inside the window.
func (c *Coordinator) cancelGrace(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, exists := c.grace[code]; exists {
		t.Stop()
		delete(c.grace, code)
		c.logger.Info().Str("session_code", code).Msg("host reattached, grace timer cancelled")
	}
}

func (c *Coordinator) expireGrace(code string) {
	c.mu.Lock()
	delete(c.grace, code)
	c.mu.Unlock()

	sess, err := c.registry.Get(code)
	if err != nil {
		return
	}
	c.logger.Info().Str("session_code", code).Msg("grace window elapsed, closing session")
	sess.forceClose()
	c.archiveTally(sess)
	c.registry.Evict(code)
	c.metrics.sessionEvicted()
}

// EvictSession is the explicit teardown path for one session.
func (c *Coordinator) EvictSession(code string) {
	code = Normalize(code)
	if sess, err := c.registry.Get(code); err == nil {
		sess.forceClose()
		c.archiveTally(sess)
	}
	c.cancelGrace(code)
	c.registry.Evict(code)
	c.metrics.sessionEvicted()
}

// Shutdown cancels all grace timers and tears the registry down.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	for code, t := range c.grace {
		t.Stop()
		delete(c.grace, code)
	}
	c.mu.Unlock()
	c.registry.Teardown()
}

func (c *Coordinator) archiveTally(sess *Session) {
	if c.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.archive.Save(ctx, sess.Code(), sess.Tally()); err != nil {
		c.logger.Warn().Err(err).Str("session_code", sess.Code()).Msg("tally archive failed")
	}
}

// replyError maps a state machine error onto a wire error event for the
// offending connection only.
func (c *Coordinator) replyError(connID uuid.UUID, err error) error {
	return c.sendError(connID, ErrorCode(err), err.Error())
}

func (c *Coordinator) sendError(connID uuid.UUID, code, message string) error {
	env := wsproto.NewEvent(wsproto.EventError, "", wsproto.ErrorData{Code: code, Message: message})
	if sendErr := c.wire.Send(connID, env); sendErr != nil {
		c.logger.Warn().Err(sendErr).Str("conn_id", connID.String()).Msg("error event delivery failed")
	}
	return nil
}

// ErrorCode maps sentinel errors to wire error codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return httperrors.ErrCodeNotFound
	case errors.Is(err, ErrSessionClosed):
		return httperrors.ErrCodeSessionClosed
	case errors.Is(err, ErrInvalidRound):
		return httperrors.ErrCodeInvalidRound
	case errors.Is(err, ErrInvalidChoice):
		return httperrors.ErrCodeInvalidChoice
	case errors.Is(err, ErrRoundNotActive):
		return httperrors.ErrCodeRoundNotActive
	case errors.Is(err, ErrGenerationExhausted):
		return httperrors.ErrCodeGenerationExhausted
	default:
		return httperrors.ErrCodeInternalError
	}
}

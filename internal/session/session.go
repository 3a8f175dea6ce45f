package session

import (
	"time"
)

// MachineOptions tunes per-session timing.
type MachineOptions struct {
	// TickInterval is the round timer resolution. Production runs at one
	// second; tests shrink it.
	TickInterval time.Duration
}

func (o MachineOptions) withDefaults() MachineOptions {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	return o
}

type tickHandle struct {
	stop chan struct{}
}

func newSession(code string, sink Sink, opts MachineOptions) *Session {
	return &Session{
		code:      code,
		state:     StateCreated,
		members:   make(map[string]time.Time),
		responses: make(map[string]Response),
		createdAt: time.Now(),
		sink:      sink,
		opts:      opts.withDefaults(),
	}
}

// Code returns the session's join code.
func (s *Session) Code() string { return s.code }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TimeRemaining reports the active round's countdown, or false when no
// round exists.
func (s *Session) TimeRemaining() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.round == nil {
		return 0, false
	}
	return s.round.TimeRemaining, true
}

// Join records an attendee identity as a session member. The first member
// moves a Created session to Waiting. Duplicate names rejoin silently;
// their tally entry stays last-writer-wins.
func (s *Session) Join(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if _, known := s.members[name]; !known {
		s.members[name] = time.Now()
	}
	if s.state == StateCreated {
		s.setStateLocked(StateWaiting)
	}
	s.sink.Publish(s.code, Event{
		Type:         EventMemberJoined,
		HostOnly:     true,
		AttendeeName: name,
		MemberCount:  len(s.members),
	})
	return nil
}

// StartRound begins the timed question. Only valid from Waiting with a
// known answer letter and a positive time limit.
func (s *Session) StartRound(answer Choice, timeLimitSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.state != StateWaiting || !ValidChoice(answer) || timeLimitSeconds <= 0 {
		return ErrInvalidRound
	}

	s.round = &Round{
		CorrectAnswer:    answer,
		TimeLimitSeconds: timeLimitSeconds,
		TimeRemaining:    timeLimitSeconds,
		StartedAt:        time.Now(),
	}
	s.setStateLocked(StateActive)
	s.sink.Publish(s.code, Event{Type: EventRoundStarted})
	s.startTimerLocked()
	return nil
}

// SubmitResponse records one attendee answer for the active round. A later
// submission for the same name overwrites the earlier one.
func (s *Session) SubmitResponse(name string, choice Choice) (Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive || s.round == nil || s.round.TimeRemaining <= 0 {
		return "", ErrRoundNotActive
	}
	if !ValidChoice(choice) {
		return "", ErrInvalidChoice
	}

	verdict := Classify(choice, s.round.CorrectAnswer)
	s.responses[name] = Response{
		Choice:      choice,
		SubmittedAt: time.Now(),
		Verdict:     verdict,
	}
	if _, known := s.members[name]; !known {
		s.members[name] = time.Now()
	}
	s.sink.Publish(s.code, Event{
		Type:         EventResponseRecorded,
		HostOnly:     true,
		AttendeeName: name,
		Verdict:      verdict,
		Choice:       choice,
	})
	return verdict, nil
}

// End closes the session. Closed is terminal: the round timer is cancelled
// and no events follow the closure notification.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}
	s.closeLocked()
	return nil
}

// forceClose closes the session without erroring on repeat calls; used for
// host-loss expiry and registry teardown.
func (s *Session) forceClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.closeLocked()
}

func (s *Session) closeLocked() {
	s.stopTimerLocked()
	s.round = nil
	s.setStateLocked(StateClosed)
	s.sink.Publish(s.code, Event{Type: EventClosed})
}

// setStateLocked moves the lifecycle forward. Backward transitions are a
// state machine bug, so they are dropped rather than applied.
func (s *Session) setStateLocked(to State) {
	if to.rank() < s.state.rank() {
		return
	}
	s.state = to
}

func (s *Session) startTimerLocked() {
	h := &tickHandle{stop: make(chan struct{})}
	s.tick = h

	go func() {
		ticker := time.NewTicker(s.opts.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				if !s.onTick(h) {
					return
				}
			}
		}
	}()
}

// onTick advances the countdown by one second. Returns false once the
// timer should stop ticking.
func (s *Session) onTick(h *tickHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// stale goroutine after close or a replaced timer
	if s.tick != h || s.state != StateActive || s.round == nil {
		return false
	}
	if s.round.TimeRemaining <= 0 {
		return false
	}

	s.round.TimeRemaining--
	s.sink.Publish(s.code, Event{
		Type:          EventTimeUpdate,
		TimeRemaining: s.round.TimeRemaining,
	})
	if s.round.TimeRemaining == 0 {
		// the round stays open for the host to confirm; only the ticking stops
		s.sink.Publish(s.code, Event{Type: EventTimeUp})
		s.tick = nil
		return false
	}
	return true
}

func (s *Session) stopTimerLocked() {
	if s.tick != nil {
		close(s.tick.stop)
		s.tick = nil
	}
}

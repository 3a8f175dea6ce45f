package session

import (
	crand "crypto/rand"
	"math/big"
	"math/rand"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// codeChars omits easily confused characters (0/O, 1/I/L) so join codes
// survive being read aloud or typed from a photo.
const codeChars = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// RegistryOptions tunes code generation and per-session timing.
type RegistryOptions struct {
	// CodeLength is the join code length in characters.
	CodeLength int
	// MaxAttempts bounds collision retries before Create gives up with
	// ErrGenerationExhausted.
	MaxAttempts int
	Machine     MachineOptions
}

func (o RegistryOptions) withDefaults() RegistryOptions {
	if o.CodeLength <= 0 {
		o.CodeLength = 6
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 64
	}
	return o
}

// Registry is the process-wide session table: the sole shared mutable
// resource. Sessions are looked up by upper-cased code on every message.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	sink     Sink
	opts     RegistryOptions
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry whose sessions publish events to
// sink.
func NewRegistry(sink Sink, opts RegistryOptions, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		sink:     sink,
		opts:     opts.withDefaults(),
		logger:   logger.With().Str("component", "session_registry").Logger(),
	}
}

// Normalize canonicalizes a join code so scanned and typed codes compare
// equal.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Create generates a fresh collision-checked code and registers a Created
// session under it. Fails with ErrGenerationExhausted when the bounded
// retry budget runs out, which signals the code space is saturated.
func (r *Registry) Create() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		code := generateCode(r.opts.CodeLength)
		if _, taken := r.sessions[code]; taken {
			continue
		}
		sess := newSession(code, r.sink, r.opts.Machine)
		r.sessions[code] = sess
		r.logger.Info().Str("session_code", code).Msg("session created")
		return sess, nil
	}
	r.logger.Error().Int("attempts", r.opts.MaxAttempts).Msg("code generation exhausted")
	return nil, ErrGenerationExhausted
}

// Get looks up a session by code, case-insensitively.
func (r *Registry) Get(code string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[Normalize(code)]
	if !exists {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Evict removes a session, cancelling its timer if one is still running.
// Idempotent.
func (r *Registry) Evict(code string) {
	code = Normalize(code)

	r.mu.Lock()
	sess, exists := r.sessions[code]
	delete(r.sessions, code)
	r.mu.Unlock()

	if !exists {
		return
	}
	sess.forceClose()
	r.logger.Info().Str("session_code", code).Msg("session evicted")
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Teardown closes and removes every session; called on server shutdown so
// no timers leak.
func (r *Registry) Teardown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.forceClose()
	}
}

func generateCode(length int) string {
	code := make([]byte, length)
	for i := range code {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			// fall back to math/rand if the system source fails
			code[i] = codeChars[rand.Intn(len(codeChars))]
			continue
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

package session

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(opts RegistryOptions) *Registry {
	return NewRegistry(&recordingSink{}, opts, zerolog.Nop())
}

func TestCreateAndLookup(t *testing.T) {
	registry := newTestRegistry(RegistryOptions{})

	sess, err := registry.Create()
	require.NoError(t, err)
	assert.Len(t, sess.Code(), 6)
	assert.Equal(t, StateCreated, sess.State())
	assert.Equal(t, sess.Code(), strings.ToUpper(sess.Code()))

	got, err := registry.Get(sess.Code())
	require.NoError(t, err)
	assert.Same(t, sess, got)

	// lookup is case-insensitive: typed codes equal scanned codes
	got, err = registry.Get(" " + strings.ToLower(sess.Code()) + " ")
	require.NoError(t, err)
	assert.Same(t, sess, got)

	_, err = registry.Get("NOSUCH")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvictIsIdempotentAndStopsTimers(t *testing.T) {
	registry := newTestRegistry(RegistryOptions{Machine: MachineOptions{TickInterval: time.Hour}})

	sess, err := registry.Create()
	require.NoError(t, err)
	require.NoError(t, sess.Join("Alice"))
	require.NoError(t, sess.StartRound(ChoiceA, 600))

	registry.Evict(sess.Code())
	assert.Equal(t, StateClosed, sess.State())
	_, err = registry.Get(sess.Code())
	assert.ErrorIs(t, err, ErrNotFound)

	registry.Evict(sess.Code())
	assert.Equal(t, 0, registry.Len())
}

func TestCreateExhaustsCodeSpace(t *testing.T) {
	// one-character codes saturate after len(codeChars) sessions
	registry := newTestRegistry(RegistryOptions{CodeLength: 1, MaxAttempts: 5000})

	for i := 0; i < len(codeChars); i++ {
		_, err := registry.Create()
		require.NoError(t, err)
	}
	require.Equal(t, len(codeChars), registry.Len())

	_, err := registry.Create()
	assert.ErrorIs(t, err, ErrGenerationExhausted)
}

func TestTeardownClosesEverySession(t *testing.T) {
	registry := newTestRegistry(RegistryOptions{})

	first, err := registry.Create()
	require.NoError(t, err)
	second, err := registry.Create()
	require.NoError(t, err)

	registry.Teardown()
	assert.Equal(t, 0, registry.Len())
	assert.Equal(t, StateClosed, first.State())
	assert.Equal(t, StateClosed, second.State())
}

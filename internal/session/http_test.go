package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTP(t *testing.T) (*HTTPHandlers, *Coordinator, *Registry, http.Handler) {
	t.Helper()
	wire := newFakeWire()
	coordinator := NewCoordinator(wire, nil, nil, CoordinatorConfig{}, zerolog.Nop())
	registry := NewRegistry(coordinator, RegistryOptions{
		Machine: MachineOptions{TickInterval: time.Hour},
	}, zerolog.Nop())
	coordinator.BindRegistry(registry)
	handlers := NewHTTPHandlers(coordinator, registry, nil, time.Hour, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/attendance", handlers.GenerateCode)
	mux.HandleFunc("/v1/attendance/{code}/validate", handlers.ValidateCode)
	mux.HandleFunc("/v1/attendance/{code}/export", handlers.ExportTally)
	mux.HandleFunc("/v1/attendance/{code}/qr", handlers.QRCode)
	return handlers, coordinator, registry, mux
}

func TestGenerateCode(t *testing.T) {
	_, _, registry, mux := newTestHTTP(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/attendance", nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp CodeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Code, 6)
	assert.Equal(t, string(StateCreated), resp.Status)
	assert.Greater(t, resp.ExpiresAt, time.Now().Unix())

	_, err := registry.Get(resp.Code)
	assert.NoError(t, err)
}

func TestGenerateCodeRejectsGet(t *testing.T) {
	_, _, _, mux := newTestHTTP(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/attendance", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestValidateCodeStates(t *testing.T) {
	_, coordinator, _, mux := newTestHTTP(t)

	sess, err := coordinator.CreateSession()
	require.NoError(t, err)

	validate := func(code string) ValidateResponse {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/attendance/"+code+"/validate", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ValidateResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		return resp
	}

	resp := validate(sess.Code())
	assert.True(t, resp.Valid)
	assert.Equal(t, string(StateCreated), resp.Status)

	require.NoError(t, sess.Join("Alice"))
	resp = validate(sess.Code())
	assert.True(t, resp.Valid)
	assert.Equal(t, string(StateWaiting), resp.Status)

	require.NoError(t, sess.End())
	resp = validate(sess.Code())
	assert.False(t, resp.Valid)
	assert.Equal(t, string(StateClosed), resp.Status)

	resp = validate("NOSUCH")
	assert.False(t, resp.Valid)
	assert.Empty(t, resp.Status)
	assert.Equal(t, "Unknown or expired session code", resp.Message)
}

func TestExportTallyLiveSession(t *testing.T) {
	_, coordinator, _, mux := newTestHTTP(t)

	sess, err := coordinator.CreateSession()
	require.NoError(t, err)
	require.NoError(t, sess.Join("Alice"))
	require.NoError(t, sess.Join("Bob"))
	require.NoError(t, sess.StartRound(ChoiceB, 60))
	_, err = sess.SubmitResponse("Alice", ChoiceB)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/attendance/"+sess.Code()+"/export", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attendance.csv")
	assert.Equal(t, "Name,Response\nAlice,Correct\nBob,Missing\n", rec.Body.String())
}

func TestExportTallyUnknownCode(t *testing.T) {
	_, _, _, mux := newTestHTTP(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/attendance/NOSUCH/export", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQRCodeEndpoint(t *testing.T) {
	_, coordinator, _, mux := newTestHTTP(t)

	sess, err := coordinator.CreateSession()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/attendance/"+sess.Code()+"/qr", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", rec.Body.String()[:4])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/attendance/NOSUCH/qr", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

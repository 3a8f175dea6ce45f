package session

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	wsproto "github.com/attendancy/attendancy-server/pkg/http/ws"
)

// WSUpgrader handles WebSocket upgrades (configure CORS/security as needed).
var WSUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: implement proper origin checking for production
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WSHandler upgrades HTTP connections and pumps messages through the
// coordinator.
type WSHandler struct {
	coordinator *Coordinator
	hub         *wsproto.Hub
	logger      zerolog.Logger
}

// NewWSHandler creates the WebSocket entry point for session traffic.
func NewWSHandler(coordinator *Coordinator, hub *wsproto.Hub, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		coordinator: coordinator,
		hub:         hub,
		logger:      logger.With().Str("component", "session_ws").Logger(),
	}
}

// HandleWebSocket upgrades the connection and, when the session code is
// already present as a query parameter (the QR join path), attaches it
// immediately without waiting for a joinSession message.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sock, err := WSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New()
	conn := wsproto.NewConnection(sock, h.logger)
	h.hub.Register(connID, conn)

	go conn.WritePump()

	if code := r.URL.Query().Get("sessionCode"); code != "" {
		join := wsproto.NewIntent(wsproto.ActionJoinSession, code, wsproto.JoinSessionData{
			SessionCode:  code,
			AttendeeName: r.URL.Query().Get("attendeeName"),
		})
		if err := h.coordinator.Dispatch(connID, join); err != nil {
			h.logger.Warn().Err(err).Str("conn_id", connID.String()).Msg("query join failed")
		}
	}

	conn.ReadPump(func(env wsproto.Envelope) error {
		return h.coordinator.Dispatch(connID, env)
	})

	h.coordinator.Detach(connID)
	h.hub.Unregister(connID)
}

package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/rs/zerolog"

	httperrors "github.com/attendancy/attendancy-server/pkg/http/errors"
)

// HTTPHandlers serves the out-of-band code endpoints: generate, validate,
// export, QR. These are thin wrappers; the state machine stays
// authoritative for every check that matters at attach time.
type HTTPHandlers struct {
	coordinator *Coordinator
	registry    *Registry
	archive     *Archive
	codeTTL     time.Duration
	logger      zerolog.Logger
}

// NewHTTPHandlers creates the REST surface for session codes.
func NewHTTPHandlers(coordinator *Coordinator, registry *Registry, archive *Archive, codeTTL time.Duration, logger zerolog.Logger) *HTTPHandlers {
	if codeTTL <= 0 {
		codeTTL = 2 * time.Hour
	}
	return &HTTPHandlers{
		coordinator: coordinator,
		registry:    registry,
		archive:     archive,
		codeTTL:     codeTTL,
		logger:      logger.With().Str("component", "session_http").Logger(),
	}
}

// CodeResponse is the generate-code reply. ExpiresAt is advisory: the
// session actually dies on host loss or explicit teardown.
type CodeResponse struct {
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expiresAt"`
	Status    string `json:"status"`
}

// ValidateResponse reports whether a code refers to a live session.
type ValidateResponse struct {
	Valid   bool   `json:"valid"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

// GenerateCode handles POST /v1/attendance.
func (h *HTTPHandlers) GenerateCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httperrors.RespondError(w, http.StatusMethodNotAllowed, httperrors.ErrCodeInvalidRequest, "POST required")
		return
	}

	sess, err := h.coordinator.CreateSession()
	if err != nil {
		if errors.Is(err, ErrGenerationExhausted) {
			httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeGenerationExhausted, "No unique session code available, try again")
			return
		}
		h.logger.Error().Err(err).Msg("session create failed")
		httperrors.RespondInternalError(w, "Could not create session")
		return
	}

	respondJSON(w, http.StatusCreated, CodeResponse{
		Code:      sess.Code(),
		ExpiresAt: time.Now().Add(h.codeTTL).Unix(),
		Status:    string(sess.State()),
	})
}

// ValidateCode handles GET /v1/attendance/{code}/validate. Unlike the
// original client stub, this is a real authority check against the
// registry.
func (h *HTTPHandlers) ValidateCode(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	sess, err := h.registry.Get(code)
	if err != nil {
		respondJSON(w, http.StatusOK, ValidateResponse{
			Valid:   false,
			Message: "Unknown or expired session code",
		})
		return
	}

	state := sess.State()
	resp := ValidateResponse{Valid: state != StateClosed, Status: string(state)}
	switch state {
	case StateCreated:
		resp.Message = "Waiting for host to start"
	case StateWaiting:
		resp.Message = "Waiting for host to start"
	case StateActive:
		resp.Message = "Session in progress"
	case StateClosed:
		resp.Message = "Session closed by host"
	}
	respondJSON(w, http.StatusOK, resp)
}

// ExportTally handles GET /v1/attendance/{code}/export, serving the
// Name,Response CSV for a live or recently closed session.
func (h *HTTPHandlers) ExportTally(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	var rows []Row
	if sess, err := h.registry.Get(code); err == nil {
		rows = sess.Tally()
	} else {
		archived, err := h.archive.Load(r.Context(), code)
		if err != nil {
			h.logger.Warn().Err(err).Str("session_code", code).Msg("archive lookup failed")
			httperrors.RespondInternalError(w, "Tally lookup failed")
			return
		}
		if archived == nil {
			httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Unknown or expired session code")
			return
		}
		rows = archived
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="attendance.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ExportCSV(rows)))
}

// QRCode handles GET /v1/attendance/{code}/qr with a PNG of the join
// code.
func (h *HTTPHandlers) QRCode(w http.ResponseWriter, r *http.Request) {
	code := Normalize(r.PathValue("code"))
	if _, err := h.registry.Get(code); err != nil {
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Unknown or expired session code")
		return
	}

	png, err := qrcode.Encode(code, qrcode.High, 256)
	if err != nil {
		h.logger.Error().Err(err).Str("session_code", code).Msg("qr encode failed")
		httperrors.RespondInternalError(w, "QR generation failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package errors

// Error codes for standardized error responses
const (
	// Session errors
	ErrCodeNotFound            = "not_found"
	ErrCodeSessionClosed       = "session_closed"
	ErrCodeInvalidRound        = "invalid_round"
	ErrCodeInvalidChoice       = "invalid_choice"
	ErrCodeRoundNotActive      = "round_not_active"
	ErrCodeGenerationExhausted = "generation_exhausted"
	ErrCodeNotHost             = "not_host"
	ErrCodeNotJoined           = "not_joined"

	// Transport / protocol errors
	ErrCodeTransportError = "transport_error"
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeUnknownAction  = "unknown_action"

	// Validation errors
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeMissingField   = "missing_field"

	// Server errors
	ErrCodeInternalError      = "internal_error"
	ErrCodeServiceUnavailable = "service_unavailable"
)

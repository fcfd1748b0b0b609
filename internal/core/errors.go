package core

// Error codes for domain errors. Every per-request failure maps to one of
// these; persistence failures are logged and never reach clients.
const (
	ErrCodeValidation    = "validation"
	ErrCodeBadCredential = "bad_credential"
	ErrCodePermission    = "permission_denied"
	ErrCodeNotFound      = "not_found"
	ErrCodeCooldown      = "cooldown_active"
	ErrCodeConflict      = "conflict"
	ErrCodeNotInRoom     = "not_in_room"
)

// CoordError wraps a code and human-readable message.
type CoordError struct {
	Code    string
	Message string

	// RemainingSeconds is set for cooldown errors so clients can render a
	// countdown instead of a plain denial.
	RemainingSeconds int
}

func (e *CoordError) Error() string {
	return e.Message
}

func coordError(code, msg string) *CoordError {
	return &CoordError{Code: code, Message: msg}
}

func cooldownError(remaining int) *CoordError {
	return &CoordError{
		Code:             ErrCodeCooldown,
		Message:          "kicked from this room recently, try again later",
		RemainingSeconds: remaining,
	}
}

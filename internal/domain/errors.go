package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrSessionInvalid    = errors.New("invalid or expired session")
	ErrSuspiciousSession = errors.New("session too short")
	ErrScoreOutOfBounds  = errors.New("score out of bounds for level")
	ErrNotFound          = errors.New("not found")
	ErrPlayerNotFound    = fmt.Errorf("player %w", ErrNotFound)
	ErrSnapshotNotFound  = fmt.Errorf("snapshot %w", ErrNotFound)
	ErrTransientStore    = errors.New("transient store error")
	ErrCacheUnavailable  = errors.New("cache unavailable")
	ErrCacheMiss         = errors.New("cache miss")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidDifficulty = fmt.Errorf("%w: unknown difficulty", ErrInvalidRequest)
	ErrInvalidGameType   = fmt.Errorf("%w: unknown game type", ErrInvalidRequest)
	ErrInvalidWindow     = fmt.Errorf("%w: unknown leaderboard window", ErrInvalidRequest)
	ErrInternalError     = errors.New("internal server error")
)

// ErrorKind is the machine-readable classification returned to clients.
type ErrorKind string

const (
	KindSessionInvalid    ErrorKind = "session_invalid"
	KindSuspiciousSession ErrorKind = "suspicious_session"
	KindScoreOutOfBounds  ErrorKind = "score_out_of_bounds"
	KindNotFound          ErrorKind = "not_found"
	KindTransientStore    ErrorKind = "transient_store_error"
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindInternal          ErrorKind = "internal"
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionInvalid):
		return KindSessionInvalid
	case errors.Is(err, ErrSuspiciousSession):
		return KindSuspiciousSession
	case errors.Is(err, ErrScoreOutOfBounds):
		return KindScoreOutOfBounds
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransientStore):
		return KindTransientStore
	default:
		return KindInternal
	}
}

// IsValidationError reports whether err was raised before any write was attempted.
func IsValidationError(err error) bool {
	switch KindOf(err) {
	case KindSessionInvalid, KindSuspiciousSession, KindScoreOutOfBounds, KindInvalidRequest:
		return true
	}
	return false
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

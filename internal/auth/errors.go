package auth

import "errors"

var (
	ErrInvalidInput     = errors.New("auth: invalid input")
	ErrUnsupportedGrant = errors.New("auth: unsupported grant type")
	ErrInvalidClient    = errors.New("invalid client credentials")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrUnauthorized     = errors.New("auth: unauthorized")
	ErrForbidden        = errors.New("auth: forbidden")
	ErrNotFound         = errors.New("auth: not found")
	ErrConflict         = errors.New("auth: conflict")
	ErrRateLimited      = errors.New("auth: rate limited")
	ErrUnavailable      = errors.New("auth: unavailable")
)

// reasonError carries an internal failure reason next to a public sentinel.
// Error() only ever exposes the sentinel text.
type reasonError struct {
	err    error
	reason string
}

func (e *reasonError) Error() string { return e.err.Error() }

func (e *reasonError) Unwrap() error { return e.err }

func withReason(err error, reason string) error {
	return &reasonError{err: err, reason: reason}
}

// FailureReason returns the internal reason attached to err, if any.
// It is meant for logs and metrics and must not be sent to callers.
func FailureReason(err error) string {
	var re *reasonError
	if errors.As(err, &re) {
		return re.reason
	}
	return ""
}

package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired means no usable credential exists: either none was
	// ever stored, or a refresh attempt was rejected and the stored pair
	// was cleared. The caller should send the user to login.
	ErrAuthRequired = errors.New("auth: authentication required")

	// ErrAuthInvalid means the backend rejected the credential outright
	// (forbidden, not expired). The stored pair has been cleared.
	ErrAuthInvalid = errors.New("auth: credentials invalid")
)

// NetworkError wraps a transport-level failure (dial, TLS, timeout) so
// callers can distinguish "show a network error" from "redirect to
// login". HTTP responses with error statuses are never NetworkErrors.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("auth: network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err is (or wraps) a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

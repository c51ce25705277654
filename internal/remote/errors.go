package remote

import (
	"errors"
	"fmt"
)

// Errors returned by the remote service boundary.
//
// The wire protocol reports failures as an error envelope carrying a code
// and the offending parameter. That envelope is translated exactly once,
// in this package, into the closed set below so that callers never have
// to inspect wire-level details:
//
//	if errors.Is(err, remote.ErrTokenExpired) {
//	    // Ask the user to re-authenticate
//	}
var (
	// ErrInvalidUsername is returned when the service rejects the
	// username during password authentication.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrInvalidPassword is returned when the service rejects the
	// password during password authentication.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrInvalidOneTimeCode is returned when the second-factor
	// one-time code is rejected.
	ErrInvalidOneTimeCode = errors.New("invalid one-time code")

	// ErrTokenExpired is returned when the authentication token has
	// passed its expiration time. Re-authentication is required.
	ErrTokenExpired = errors.New("authentication token expired")

	// ErrTokenInvalid is returned when the authentication token was
	// revoked or never existed.
	ErrTokenInvalid = errors.New("authentication token invalid")

	// ErrTokenMalformed is returned when the token string does not
	// parse as a service token at all.
	ErrTokenMalformed = errors.New("authentication token malformed")

	// ErrAuthFailed is returned for authentication failures the
	// service did not classify. The wrapped message carries the raw
	// error code for diagnostics.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotFound is returned when a single-entity fetch names a GUID
	// the service does not know.
	ErrNotFound = errors.New("not found")

	// ErrIncompatible is returned when the server no longer supports
	// this client's protocol version.
	ErrIncompatible = errors.New("client protocol version not supported by server")
)

// TransientError wraps a network-level failure that is likely to succeed
// on retry: timeouts, connection resets, and 5xx responses. The client
// retries these internally with backoff; a TransientError escaping the
// client means every attempt failed.
type TransientError struct {
	// Op is the remote operation that failed (e.g. "getFilteredSyncChunk").
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is a transient network failure
// that is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	return errors.As(err, &te)
}

// IsAuthError returns true if the error belongs to the authentication
// family: bad credentials, bad one-time code, or a token in any invalid
// state. Auth errors require user action and abort the run.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	for _, target := range []error{
		ErrInvalidUsername,
		ErrInvalidPassword,
		ErrInvalidOneTimeCode,
		ErrTokenExpired,
		ErrTokenInvalid,
		ErrTokenMalformed,
		ErrAuthFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

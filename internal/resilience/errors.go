package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Kind classifies a failure so callers can decide how to surface it.
type Kind string

const (
	// KindUnknown is any failure not matching a more specific kind.
	KindUnknown Kind = "unknown"
	// KindTransientUpstream covers timeouts, 429 and 5xx responses. Not
	// retried within a wave; eligible for a later re-run.
	KindTransientUpstream Kind = "transient_upstream"
	// KindAuthFailure means the upstream rejected our credentials.
	KindAuthFailure Kind = "auth_failure"
	// KindValidationFailure means a record or payload is malformed.
	KindValidationFailure Kind = "validation_failure"
	// KindStorageFailure means persistent-store I/O failed.
	KindStorageFailure Kind = "storage_failure"
	// KindDecryptionFailure means a stored blob could not be opened.
	KindDecryptionFailure Kind = "decryption_failure"
)

// Error attaches a Kind (and optional HTTP status) to an error.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with kind. Returns nil when err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *Error {
	return &Error{Kind: KindTransientUpstream, StatusCode: statusCode, Err: err}
}

// NewStorageError tags err as a storage failure.
func NewStorageError(err error) error { return Wrap(KindStorageFailure, err) }

// NewValidationError tags err as a validation failure.
func NewValidationError(err error) error { return Wrap(KindValidationFailure, err) }

// NewDecryptionError tags err as a decryption failure.
func NewDecryptionError(err error) error { return Wrap(KindDecryptionFailure, err) }

// Classify returns the Kind of err. Explicitly tagged errors win; otherwise
// network-level timeouts and resets are reported as transient upstream
// failures.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if isTransientNetwork(err) {
		return KindTransientUpstream
	}
	return KindUnknown
}

// IsTransient returns true if the error (or any error in its chain) is
// tagged transient, or matches common transient network patterns.
func IsTransient(err error) bool {
	return Classify(err) == KindTransientUpstream
}

// IsRetryable reports whether err is worth retrying in-process: transient
// network failures and storage contention. Upstream lookups are never
// retried within a wave, so callers on that path must not use this.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindTransientUpstream:
		return true
	case KindStorageFailure:
		msg := strings.ToLower(err.Error())
		return strings.Contains(msg, "database is locked") ||
			strings.Contains(msg, "busy") ||
			isTransientNetwork(err)
	default:
		return false
	}
}

func isTransientNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// KindForStatus maps an HTTP status code to a failure kind.
func KindForStatus(statusCode int) Kind {
	switch {
	case statusCode == 401 || statusCode == 403:
		return KindAuthFailure
	case statusCode == 408 || statusCode == 429 || statusCode >= 500:
		return KindTransientUpstream
	case statusCode == 400 || statusCode == 422:
		return KindValidationFailure
	default:
		return KindUnknown
	}
}

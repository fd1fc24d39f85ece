package lookup

import (
	"errors"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/resilience"
)

// Sentinel lookup failures. Errors returned by this package wrap one of
// these inside a kind-tagged resilience.Error.
var (
	ErrRateLimited  = eris.New("lookup: rate limited")
	ErrUnauthorized = eris.New("lookup: unauthorized")
	ErrUnavailable  = eris.New("lookup: upstream unavailable")
	ErrMalformed    = eris.New("lookup: malformed upstream answer")
)

// FromStatus maps an upstream HTTP status to a kind-tagged lookup error.
func FromStatus(code int, cause error) error {
	var sentinel error
	switch {
	case code == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		sentinel = ErrUnauthorized
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		sentinel = ErrMalformed
	default:
		sentinel = ErrUnavailable
	}
	msg := "lookup: upstream status"
	if cause != nil {
		msg = cause.Error()
	}
	return &resilience.Error{
		Kind:       resilience.KindForStatus(code),
		StatusCode: code,
		Err:        eris.Wrap(sentinel, msg),
	}
}

// malformed tags err as a validation failure wrapping ErrMalformed.
func malformed(msg string) error {
	return resilience.NewValidationError(eris.Wrap(ErrMalformed, msg))
}

// fromTransport classifies a transport-level failure (no HTTP status).
func fromTransport(err error) error {
	if err == nil {
		return nil
	}
	var tagged *resilience.Error
	if errors.As(err, &tagged) {
		return err
	}
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(eris.Wrap(ErrUnavailable, err.Error()), 0)
	}
	return resilience.Wrap(resilience.KindUnknown, err)
}

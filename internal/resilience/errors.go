package resilience

import (
	"errors"
	"net"
	"net/http"
	"slices"
	"strings"
	"syscall"
)

// TransientError is a fetch failure worth another attempt. StatusCode is
// zero when the failure happened below HTTP.
type TransientError struct {
	Err        error
	StatusCode int
}

// NewTransientError marks err as retryable.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

var (
	droppedConn = []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED}

	// Some transports only surface these as text.
	droppedConnText = []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"unexpected eof",
	}

	retryableStatus = []int{
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
)

// IsTransient reports whether err's chain holds a TransientError, a network
// timeout or a dropped connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if slices.ContainsFunc(droppedConn, func(target error) bool { return errors.Is(err, target) }) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return slices.ContainsFunc(droppedConnText, func(s string) bool { return strings.Contains(msg, s) })
}

// IsTransientHTTPStatus reports whether a marketplace response with this
// status is worth retrying.
func IsTransientHTTPStatus(statusCode int) bool {
	return slices.Contains(retryableStatus, statusCode)
}

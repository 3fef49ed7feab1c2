package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies hard failures so callers can decide what to retry.
type ErrorKind string

// Failure kinds carried by Failed outcomes.
const (
	ErrorKindNetwork        ErrorKind = "network_error"
	ErrorKindHTTPStatus     ErrorKind = "http_status_error"
	ErrorKindIO             ErrorKind = "io_error"
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
	ErrorKindCanceled       ErrorKind = "canceled"
)

// Sentinel errors used to classify failures.
var (
	ErrInvalidURL = errors.New("invalid url")
	ErrNetwork    = errors.New("network error")
	ErrStatus     = errors.New("unexpected http status")
	ErrTruncated  = errors.New("response body truncated")
	ErrStore      = errors.New("store error")
	ErrCanceled   = errors.New("batch canceled")
	ErrNotFound   = errors.New("object not found")
	ErrExists     = errors.New("object already exists")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Is lets errors.Is match StatusError against ErrStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Classify maps an error onto the failure taxonomy. Unknown errors are treated as
// transport failures.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	case errors.Is(err, ErrInvalidURL):
		return ErrorKindInvalidRequest
	case errors.Is(err, ErrStatus):
		return ErrorKindHTTPStatus
	case errors.Is(err, ErrStore):
		return ErrorKindIO
	default:
		return ErrorKindNetwork
	}
}

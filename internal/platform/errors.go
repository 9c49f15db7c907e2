package platform

import (
	"errors"
	"fmt"
)

// HTTPStatusError is returned when the control plane answers with a non-2xx
// status. Body holds at most the first 4 KiB of the response.
type HTTPStatusError struct {
	Op   string
	URL  string
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Op, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Op, e.URL, e.Code, e.Body)
}

// IsHTTPStatus reports whether err carries a non-2xx control-plane response.
func IsHTTPStatus(err error) bool {
	var e *HTTPStatusError
	return errors.As(err, &e)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *HTTPStatusError
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

type decodeError struct {
	op  string
	url string
	err error
}

func (e decodeError) Error() string { return fmt.Sprintf("%s %s: invalid response: %v", e.op, e.url, e.err) }
func (e decodeError) Unwrap() error { return e.err }

// IsDecode reports whether the control plane answered 2xx with a body that
// could not be parsed.
func IsDecode(err error) bool {
	var e decodeError
	return errors.As(err, &e)
}

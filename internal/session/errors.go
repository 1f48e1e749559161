package session

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSessionExpired signals that the session is unrecoverable: the refresh
// token is missing, rejected, or the refresh call itself failed. The
// presentation boundary catches this to clear UI state and return to login.
var ErrSessionExpired = errors.New("session expired")

// StatusError reports a non-2xx response from the API.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// IsUnauthorized reports whether err is a 401 StatusError.
func IsUnauthorized(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusUnauthorized
}

package bazonapi

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLock is returned when a frontend-API response reports, inside
// an otherwise successful body, that the presented document lock key is
// stale or the lock is already taken by someone else.
var ErrInvalidLock = errors.New("bazon: invalid or stale document lock")

// APIError carries a non-2xx upstream response so callers can relay the
// original status and body to their own clients.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bazon api error %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// lock errors come back as embedded error strings/codes mentioning the
// lock key ("invalidLockKey", "documentLocked", ...).
func isLockError(errValue string) bool {
	return strings.Contains(strings.ToLower(errValue), "lock")
}

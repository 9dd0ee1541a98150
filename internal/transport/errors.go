package transport

import (
	"errors"
	"fmt"

	"github.com/MegaGrindStone/local-chat/internal/models"
)

// Sentinel causes wrapped by Error.
var (
	// ErrPeerUnavailable is returned when the background process is not loaded or did not answer.
	ErrPeerUnavailable = errors.New("peer unavailable")
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport closed")
)

// Error is the failure of a single transport operation. Op is "send", "request" or "listen".
type Error struct {
	Op     string
	Action models.Action
	Err    error
}

func (e *Error) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Action, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err carries an *Error.
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

package session

import (
	"errors"
	"fmt"

	"github.com/MegaGrindStone/local-chat/internal/models"
)

// ErrValidation is matched by every input validation failure of this package.
var ErrValidation = errors.New("validation failed")

// ValidationError rejects user input before it touches the session state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InvalidModelError is returned when selecting a model that is not in the last fetched set.
type InvalidModelError struct {
	ID string
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("unknown model %q", e.ID)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *InvalidModelError) Is(target error) bool {
	return target == ErrValidation
}

// ProtocolAnomaly describes a stream event that arrived out of order or duplicated. The event is
// dropped and the state left as it was.
type ProtocolAnomaly struct {
	Action models.Action
	Reason string
}

func (e *ProtocolAnomaly) Error() string {
	return fmt.Sprintf("protocol anomaly on %s: %s", e.Action, e.Reason)
}

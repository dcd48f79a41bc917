package envelope

import (
	"errors"
	"fmt"
)

// ErrMalformedEnvelope matches every decode failure
var ErrMalformedEnvelope = errors.New("envelope: malformed envelope")

// MalformedError describes why a payload could not be decoded
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope: malformed envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("envelope: malformed envelope: %s", e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMalformedEnvelope
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedEnvelope
}

package wire

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned for any input that is not a well formed message.
var ErrMalformed = errors.New("malformed message")

// ErrHeaderShort is returned when fewer than twelve bytes are available.
var ErrHeaderShort = fmt.Errorf("%w: header too short", ErrMalformed)

func errorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload indicates the inbound payload is not a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnknownType indicates the TYP discriminator is missing or not supported.
	ErrUnknownType = errors.New("unknown payload type")

	// ErrUnhandledValue indicates a known TYP whose value carries no status change,
	// e.g. an EVENT other than GOTFOCUS.
	ErrUnhandledValue = errors.New("unhandled payload value")
)

// DecodeError is returned by Decode for payloads that cannot be turned into a StatusEvent.
type DecodeError struct {
	// Type is the TYP discriminator, empty when it could not be read.
	Type string
	// Payload is a copy of the offending payload.
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode %q: %v", e.Payload, e.Err)
	}

	return fmt.Sprintf("decode %s payload %q: %v", e.Type, e.Payload, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func newDecodeError(typ string, payload []byte, err error) *DecodeError {
	return &DecodeError{Type: typ, Payload: append([]byte(nil), payload...), Err: err}
}

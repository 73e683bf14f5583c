package command

import "errors"

// Domain-specific errors for command processing.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoOutputEndpoint is returned when the target device has no
	// output endpoint to write to.
	ErrNoOutputEndpoint = errors.New("command: device has no output endpoint")

	// ErrNonNumericTarget is returned when an analog command lacks a
	// numeric target value.
	ErrNonNumericTarget = errors.New("command: analog device requires numeric target_value")

	// ErrDigitalTargetValue is returned when target_value is sent to a
	// digital device, which takes state commands instead.
	ErrDigitalTargetValue = errors.New("command: digital device takes state, is_on or toggle, not target_value")

	// ErrUnsupportedTransport is returned when the output endpoint's
	// connector has no command implementation.
	ErrUnsupportedTransport = errors.New("command: connector transport does not support commands")

	// ErrNotCommandable is returned when the device's signal type is
	// an input, which only reports and cannot be driven.
	ErrNotCommandable = errors.New("command: input devices cannot be commanded")
)

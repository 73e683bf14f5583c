package device

import "errors"

// Domain-specific errors for device operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when a device lookup finds nothing.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceExists is returned when creating a duplicate device name
	// within a room.
	ErrDeviceExists = errors.New("device with this name already exists in room")

	// ErrEndpointNotFound is returned when an endpoint lookup finds nothing.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrInvalidName is returned for an empty device name.
	ErrInvalidName = errors.New("device name cannot be empty")

	// ErrInvalidSignalType is returned for a value outside the closed
	// signal type set.
	ErrInvalidSignalType = errors.New("unrecognised signal type")

	// ErrInvalidAddress is returned for an empty endpoint address.
	ErrInvalidAddress = errors.New("endpoint address cannot be empty")

	// ErrInvalidDirection is returned for a direction other than
	// input or output.
	ErrInvalidDirection = errors.New("endpoint direction must be input or output")

	// ErrZeroScale is returned when inverting the linear transform
	// with scale = 0. The inverse is undefined; commands targeting
	// such endpoints are rejected rather than guessed at.
	ErrZeroScale = errors.New("cannot invert transform with zero scale")
)

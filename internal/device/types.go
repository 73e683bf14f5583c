package device

import (
	"time"
)

// SignalType classifies what a device measures or drives. The set is
// closed: values outside it are rejected at validation time rather
// than stored as free text.
type SignalType string

const (
	// SignalAnalogInput is a measured continuous value (temperature,
	// power, level). Readings carry an engineering value and unit.
	SignalAnalogInput SignalType = "analog_input"

	// SignalAnalogOutput is a continuous setpoint the system writes
	// (valve position, dim level).
	SignalAnalogOutput SignalType = "analog_output"

	// SignalDigitalInput is a measured boolean state (door contact,
	// motion sensor).
	SignalDigitalInput SignalType = "digital_input"

	// SignalDigitalOutput is a boolean state the system drives
	// (relay, light).
	SignalDigitalOutput SignalType = "digital_output"
)

// ValidSignalTypes is the closed set of accepted signal types.
var ValidSignalTypes = []SignalType{
	SignalAnalogInput, SignalAnalogOutput, SignalDigitalInput, SignalDigitalOutput,
}

// IsValidSignalType returns true for a member of the closed enum.
func IsValidSignalType(st SignalType) bool {
	for _, v := range ValidSignalTypes {
		if st == v {
			return true
		}
	}
	return false
}

// IsDigital reports whether the signal type carries boolean state.
func (st SignalType) IsDigital() bool {
	return st == SignalDigitalInput || st == SignalDigitalOutput
}

// IsOutput reports whether the signal type is commandable.
func (st SignalType) IsOutput() bool {
	return st == SignalAnalogOutput || st == SignalDigitalOutput
}

// Direction marks an endpoint as a data source or a command sink.
type Direction string

const (
	// DirectionInput endpoints deliver readings into the system.
	DirectionInput Direction = "input"

	// DirectionOutput endpoints receive command writes.
	DirectionOutput Direction = "output"
)

// IsValidDirection returns true for input or output.
func IsValidDirection(d Direction) bool {
	return d == DirectionInput || d == DirectionOutput
}

// Device is a logical point in a room: one sensor reading or one
// actuator. Its state fields hold the latest applied reading and are
// only ever updated as a whole record.
type Device struct {
	ID         string     `json:"id"`
	RoomID     string     `json:"room_id"`
	Name       string     `json:"name"`
	SignalType SignalType `json:"signal_type"`

	// Unit is the engineering unit. Populated from the first reading
	// that carries one; never overwritten by later readings.
	Unit string `json:"unit,omitempty"`

	// Value is the last engineering value after scaling. Nil until the
	// first reading arrives.
	Value *float64 `json:"value"`

	// RawValue is the unscaled payload the last reading arrived with,
	// kept for troubleshooting endpoint scaling.
	RawValue string `json:"raw_value,omitempty"`

	// IsOn is the digital state. Meaningful only for digital signal
	// types; false otherwise.
	IsOn bool `json:"is_on"`

	// UpdatedAt is when the last reading was applied. Nil until the
	// first reading arrives.
	UpdatedAt *time.Time `json:"updated_at"`

	CreatedAt time.Time `json:"created_at"`

	// Endpoints are populated by GetByID and List operations that
	// request them; empty otherwise.
	Endpoints []Endpoint `json:"endpoints,omitempty"`
}

// Validate checks the device fields are acceptable for persistence.
func (d *Device) Validate() error {
	if d.Name == "" {
		return ErrInvalidName
	}
	if !IsValidSignalType(d.SignalType) {
		return ErrInvalidSignalType
	}
	return nil
}

// Endpoint binds a device to an address on a connector, with the
// scaling or token mapping needed to translate between wire values
// and engineering values.
type Endpoint struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	ConnectorID string    `json:"connector_id"`
	Direction   Direction `json:"direction"`

	// Address is the connector-specific location: an MQTT topic, or a
	// Modbus register reference like "hr:40001".
	Address string `json:"address"`

	// Scale and Offset define the linear transform for analog values:
	// engineering = raw*Scale + Offset.
	Scale  float64 `json:"scale"`
	Offset float64 `json:"offset"`

	// TrueValue and FalseValue are the wire tokens representing digital
	// states. Defaults "1" and "0".
	TrueValue  string `json:"true_value"`
	FalseValue string `json:"false_value"`

	// IsPrimary marks the endpoint commands are written through when a
	// device carries more than one output endpoint.
	IsPrimary bool `json:"is_primary"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Endpoint token defaults.
const (
	DefaultTrueValue  = "1"
	DefaultFalseValue = "0"
)

// Validate checks the endpoint fields and applies token defaults.
func (e *Endpoint) Validate() error {
	if e.Address == "" {
		return ErrInvalidAddress
	}
	if !IsValidDirection(e.Direction) {
		return ErrInvalidDirection
	}
	if e.TrueValue == "" {
		e.TrueValue = DefaultTrueValue
	}
	if e.FalseValue == "" {
		e.FalseValue = DefaultFalseValue
	}
	return nil
}

// ResolvedEndpoint is an input endpoint joined with the identity of
// its device and room, as needed by the ingestion pipeline to apply a
// reading without further lookups.
type ResolvedEndpoint struct {
	Endpoint
	DeviceSignalType SignalType
	RoomID           string
}

// StateUpdate carries the fields of one applied reading. The whole
// record is written in a single statement so concurrent updates can
// only interleave at whole-reading granularity.
type StateUpdate struct {
	// Value is the engineering value. Nil leaves the stored value
	// untouched (digital readings with no numeric payload).
	Value *float64

	// Raw is the original wire payload.
	Raw string

	// Unit is applied only if the device has no unit yet.
	Unit string

	// IsOn sets the digital state. Nil leaves it untouched.
	IsOn *bool

	// UpdatedAt is the reading timestamp.
	UpdatedAt time.Time
}

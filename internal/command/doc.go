// Package command executes writes against devices: on/off requests
// for digital outputs, engineering setpoints for analog outputs.
//
// A command is the ingestion path run backwards. The device's output
// endpoint supplies the address and the transform; the requested
// engineering value is inverted to a wire value (rejected outright
// when the endpoint scale is zero, since the inverse is undefined),
// written through the endpoint's connector, and the commanded state
// is then recorded and broadcast like any other reading.
package command

package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sample is one decoded reading before endpoint resolution and
// scaling. Exactly one of Numeric or Bool is set for well-formed
// payloads.
type Sample struct {
	// Numeric is the raw numeric value, nil if the payload was a
	// non-numeric token.
	Numeric *float64

	// Bool is set when the payload was an explicit boolean.
	Bool *bool

	// Unit is an optional engineering unit carried in the payload.
	Unit string

	// Token is the decoded value as text, matched against digital
	// endpoint mappings.
	Token string

	// Raw is the verbatim payload text as received, stored on the
	// device for troubleshooting. For envelope payloads this is the
	// whole JSON object, not just the value.
	Raw string
}

// ErrEmptyPayload is returned for zero-length payloads.
var ErrEmptyPayload = errors.New("ingest: empty payload")

// ErrBadPayload is returned when a payload matches neither accepted format.
var ErrBadPayload = errors.New("ingest: payload not decodable")

// envelope is the structured payload format: {"value": 21.5, "unit": "C"}.
// Value may be a JSON number, a numeric string, a token string, or a bool.
type envelope struct {
	Value json.RawMessage `json:"value"`
	Unit  string          `json:"unit"`
}

// DecodeSample parses a wire payload into a Sample.
//
// Two formats are accepted:
//
//  1. A JSON object with a "value" field and optional "unit":
//     {"value": 21.5, "unit": "C"}
//  2. A bare scalar payload: "21.5", "ON", "true"
//
// A JSON object without a "value" field is an error; so is an empty
// payload. Decode failures are reported to the caller, which drops
// the message and logs it. They never stop a worker.
func DecodeSample(payload []byte) (Sample, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return Sample{}, ErrEmptyPayload
	}

	if strings.HasPrefix(text, "{") {
		var env envelope
		if err := json.Unmarshal([]byte(text), &env); err != nil {
			return Sample{}, fmt.Errorf("%w: %w", ErrBadPayload, err)
		}
		if len(env.Value) == 0 {
			return Sample{}, fmt.Errorf("%w: missing value field", ErrBadPayload)
		}
		sample, err := decodeScalar(env.Value)
		if err != nil {
			return Sample{}, err
		}
		sample.Unit = env.Unit
		sample.Raw = text
		return sample, nil
	}

	return decodeBare(text), nil
}

// decodeScalar interprets the raw JSON value of an envelope.
func decodeScalar(raw json.RawMessage) (Sample, error) {
	// Try number first: the common case for telemetry.
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return Sample{Numeric: &num, Token: strings.TrimSpace(string(raw))}, nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return Sample{Bool: &b, Token: strconv.FormatBool(b)}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decodeBare(strings.TrimSpace(s)), nil
	}

	return Sample{}, fmt.Errorf("%w: value is neither number, bool nor string", ErrBadPayload)
}

// decodeBare interprets a bare scalar payload. A parseable number
// yields a numeric sample; anything else is kept as a token for the
// endpoint's digital mapping to interpret.
func decodeBare(text string) Sample {
	if n, err := strconv.ParseFloat(text, 64); err == nil {
		return Sample{Numeric: &n, Token: text, Raw: text}
	}
	return Sample{Token: text, Raw: text}
}

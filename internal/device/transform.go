package device

import (
	"strconv"
	"strings"
)

// EngineeringValue converts a raw wire value to engineering units
// using the endpoint's linear transform: eng = raw*scale + offset.
//
// Scale zero is legal here and pins the engineering value to the
// offset regardless of input; only the inverse is undefined.
func (e *Endpoint) EngineeringValue(raw float64) float64 {
	return raw*e.Scale + e.Offset
}

// RawValue inverts the linear transform, converting an engineering
// value back to the wire representation: raw = (eng - offset) / scale.
//
// Returns ErrZeroScale when scale is zero, since no raw value maps to
// the requested engineering value (or every one does when eng equals
// offset). Callers must reject the command rather than write a guess.
func (e *Endpoint) RawValue(eng float64) (float64, error) {
	if e.Scale == 0 {
		return 0, ErrZeroScale
	}
	return (eng - e.Offset) / e.Scale, nil
}

// BoolToken returns the wire token for a digital state using the
// endpoint's token mapping.
func (e *Endpoint) BoolToken(on bool) string {
	if on {
		if e.TrueValue != "" {
			return e.TrueValue
		}
		return DefaultTrueValue
	}
	if e.FalseValue != "" {
		return e.FalseValue
	}
	return DefaultFalseValue
}

// ParseBoolToken interprets a wire token as a digital state.
//
// The endpoint's configured tokens are checked first (exact match,
// then case-insensitive). Anything else falls back to a numeric
// reading: nonzero is on, zero is off. The second return value is
// false when the token matches neither mapping.
func (e *Endpoint) ParseBoolToken(token string) (on bool, ok bool) {
	trueTok := e.TrueValue
	if trueTok == "" {
		trueTok = DefaultTrueValue
	}
	falseTok := e.FalseValue
	if falseTok == "" {
		falseTok = DefaultFalseValue
	}

	switch {
	case token == trueTok:
		return true, true
	case token == falseTok:
		return false, true
	case strings.EqualFold(token, trueTok):
		return true, true
	case strings.EqualFold(token, falseTok):
		return false, true
	}

	if n, err := strconv.ParseFloat(strings.TrimSpace(token), 64); err == nil {
		return n != 0, true
	}

	return false, false
}

// FormatValue renders an engineering or raw value for wire output.
// Trailing zeros are trimmed so integers publish as "21" not "21.000000".
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

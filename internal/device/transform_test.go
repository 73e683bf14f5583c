package device

import (
	"errors"
	"math"
	"testing"
)

func TestEngineeringValue(t *testing.T) {
	tests := []struct {
		name   string
		scale  float64
		offset float64
		raw    float64
		want   float64
	}{
		{
			name:  "identity transform",
			scale: 1, offset: 0,
			raw: 21.5, want: 21.5,
		},
		{
			name:  "scale only",
			scale: 0.1, offset: 0,
			raw: 215, want: 21.5,
		},
		{
			name:  "scale and offset",
			scale: 0.5, offset: -40,
			raw: 100, want: 10,
		},
		{
			name:  "zero scale pins to offset",
			scale: 0, offset: 7,
			raw: 9999, want: 7,
		},
		{
			name:  "negative scale inverts",
			scale: -1, offset: 100,
			raw: 30, want: 70,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Endpoint{Scale: tt.scale, Offset: tt.offset}
			got := e.EngineeringValue(tt.raw)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EngineeringValue(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRawValue(t *testing.T) {
	tests := []struct {
		name    string
		scale   float64
		offset  float64
		eng     float64
		want    float64
		wantErr error
	}{
		{
			name:  "identity transform",
			scale: 1, offset: 0,
			eng: 21.5, want: 21.5,
		},
		{
			name:  "inverts scale and offset",
			scale: 0.5, offset: -40,
			eng: 10, want: 100,
		},
		{
			name:  "zero scale rejected",
			scale: 0, offset: 7,
			eng: 7, wantErr: ErrZeroScale,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Endpoint{Scale: tt.scale, Offset: tt.offset}
			got, err := e.RawValue(tt.eng)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("RawValue(%v) error = %v, want %v", tt.eng, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RawValue(%v) unexpected error: %v", tt.eng, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RawValue(%v) = %v, want %v", tt.eng, got, tt.want)
			}
		})
	}
}

func TestRawValueRoundTrip(t *testing.T) {
	e := &Endpoint{Scale: 0.1, Offset: -5}

	for _, raw := range []float64{0, 1, 42, -273, 1e6} {
		eng := e.EngineeringValue(raw)
		back, err := e.RawValue(eng)
		if err != nil {
			t.Fatalf("RawValue(%v) unexpected error: %v", eng, err)
		}
		if math.Abs(back-raw) > 1e-6 {
			t.Errorf("round trip %v -> %v -> %v", raw, eng, back)
		}
	}
}

func TestBoolToken(t *testing.T) {
	tests := []struct {
		name     string
		trueTok  string
		falseTok string
		on       bool
		want     string
	}{
		{name: "defaults on", on: true, want: "1"},
		{name: "defaults off", on: false, want: "0"},
		{name: "custom tokens on", trueTok: "ON", falseTok: "OFF", on: true, want: "ON"},
		{name: "custom tokens off", trueTok: "ON", falseTok: "OFF", on: false, want: "OFF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Endpoint{TrueValue: tt.trueTok, FalseValue: tt.falseTok}
			if got := e.BoolToken(tt.on); got != tt.want {
				t.Errorf("BoolToken(%v) = %q, want %q", tt.on, got, tt.want)
			}
		})
	}
}

func TestParseBoolToken(t *testing.T) {
	tests := []struct {
		name     string
		trueTok  string
		falseTok string
		token    string
		wantOn   bool
		wantOK   bool
	}{
		{name: "default true", token: "1", wantOn: true, wantOK: true},
		{name: "default false", token: "0", wantOn: false, wantOK: true},
		{name: "custom true", trueTok: "ON", falseTok: "OFF", token: "ON", wantOn: true, wantOK: true},
		{name: "custom false", trueTok: "ON", falseTok: "OFF", token: "OFF", wantOn: false, wantOK: true},
		{name: "case-insensitive match", trueTok: "ON", falseTok: "OFF", token: "on", wantOn: true, wantOK: true},
		{name: "numeric fallback nonzero", trueTok: "ON", falseTok: "OFF", token: "3.5", wantOn: true, wantOK: true},
		{name: "numeric fallback zero", trueTok: "ON", falseTok: "OFF", token: "0.0", wantOn: false, wantOK: true},
		{name: "unparseable token", trueTok: "ON", falseTok: "OFF", token: "maybe", wantOn: false, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Endpoint{TrueValue: tt.trueTok, FalseValue: tt.falseTok}
			on, ok := e.ParseBoolToken(tt.token)
			if on != tt.wantOn || ok != tt.wantOK {
				t.Errorf("ParseBoolToken(%q) = (%v, %v), want (%v, %v)",
					tt.token, on, ok, tt.wantOn, tt.wantOK)
			}
		})
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{21, "21"},
		{21.5, "21.5"},
		{-0.25, "-0.25"},
		{0, "0"},
	}

	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

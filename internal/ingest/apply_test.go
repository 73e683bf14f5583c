package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hbastian/fieldline-core/internal/device"
	"github.com/hbastian/fieldline-core/internal/infrastructure/config"
	"github.com/hbastian/fieldline-core/internal/infrastructure/logging"
)

// mockDeviceRepo implements device.Repository for pipeline tests.
// Only the methods the pipeline touches are functional.
type mockDeviceRepo struct {
	lastID     string
	lastUpdate device.StateUpdate
	result     *device.Device
	err        error
}

func (m *mockDeviceRepo) UpdateState(_ context.Context, id string, update device.StateUpdate) (*device.Device, error) {
	m.lastID = id
	m.lastUpdate = update
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockDeviceRepo) Create(context.Context, *device.Device) error { return nil }
func (m *mockDeviceRepo) GetByID(context.Context, string) (*device.Device, error) {
	return nil, device.ErrDeviceNotFound
}
func (m *mockDeviceRepo) ListByRoom(context.Context, string) ([]device.Device, error) {
	return nil, nil
}
func (m *mockDeviceRepo) Update(context.Context, *device.Device) error { return nil }
func (m *mockDeviceRepo) Delete(context.Context, string) error         { return nil }
func (m *mockDeviceRepo) CreateEndpoint(context.Context, *device.Endpoint) error {
	return nil
}
func (m *mockDeviceRepo) GetEndpoint(context.Context, string) (*device.Endpoint, error) {
	return nil, device.ErrEndpointNotFound
}
func (m *mockDeviceRepo) UpdateEndpoint(context.Context, *device.Endpoint) error { return nil }
func (m *mockDeviceRepo) DeleteEndpoint(context.Context, string) error           { return nil }
func (m *mockDeviceRepo) ListInputEndpoints(context.Context, string) ([]device.ResolvedEndpoint, error) {
	return nil, nil
}

// mockBroadcaster records fan-out calls.
type mockBroadcaster struct {
	roomID string
	device *device.Device
	calls  int
}

func (m *mockBroadcaster) BroadcastDeviceUpdate(roomID string, d *device.Device) {
	m.roomID = roomID
	m.device = d
	m.calls++
}

// mockMirror records time-series writes.
type mockMirror struct {
	deviceID string
	value    float64
	isOn     bool
	calls    int
}

func (m *mockMirror) WriteReading(deviceID, _, _ string, value float64, isOn bool) {
	m.deviceID = deviceID
	m.value = value
	m.isOn = isOn
	m.calls++
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func analogEndpoint(scale, offset float64) device.ResolvedEndpoint {
	return device.ResolvedEndpoint{
		Endpoint: device.Endpoint{
			ID:       "ep-1",
			DeviceID: "dev-1",
			Address:  "site/temp",
			Scale:    scale,
			Offset:   offset,
		},
		DeviceSignalType: device.SignalAnalogInput,
		RoomID:           "room-1",
	}
}

func digitalEndpoint(trueTok, falseTok string) device.ResolvedEndpoint {
	return device.ResolvedEndpoint{
		Endpoint: device.Endpoint{
			ID:         "ep-2",
			DeviceID:   "dev-2",
			Address:    "site/relay",
			Scale:      1,
			TrueValue:  trueTok,
			FalseValue: falseTok,
		},
		DeviceSignalType: device.SignalDigitalInput,
		RoomID:           "room-1",
	}
}

func TestPipelineAppliesAnalogReading(t *testing.T) {
	now := time.Now()
	value := 21.5
	repo := &mockDeviceRepo{result: &device.Device{
		ID: "dev-1", RoomID: "room-1", SignalType: device.SignalAnalogInput,
		Value: &value, UpdatedAt: &now,
	}}
	bc := &mockBroadcaster{}
	mirror := &mockMirror{}
	p := NewPipeline(repo, bc, mirror, testLogger())

	raw := 215.0
	err := p.Apply(context.Background(), "mqtt", analogEndpoint(0.1, 0),
		Sample{Numeric: &raw, Token: "215", Raw: `{"value": 215, "unit": "C"}`, Unit: "C"})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	if repo.lastID != "dev-1" {
		t.Errorf("UpdateState id = %q, want dev-1", repo.lastID)
	}
	if repo.lastUpdate.Value == nil || *repo.lastUpdate.Value != 21.5 {
		t.Errorf("scaled value = %v, want 21.5", ptrVal(repo.lastUpdate.Value))
	}
	if repo.lastUpdate.Raw != `{"value": 215, "unit": "C"}` {
		t.Errorf("stored raw = %q, want the verbatim payload", repo.lastUpdate.Raw)
	}
	if repo.lastUpdate.Unit != "C" {
		t.Errorf("unit = %q, want C", repo.lastUpdate.Unit)
	}
	if repo.lastUpdate.IsOn != nil {
		t.Errorf("IsOn = %v, want nil for analog reading", *repo.lastUpdate.IsOn)
	}

	if bc.calls != 1 || bc.roomID != "room-1" {
		t.Errorf("broadcast calls = %d room = %q, want 1 call to room-1", bc.calls, bc.roomID)
	}
	if mirror.calls != 1 || mirror.value != 21.5 {
		t.Errorf("mirror calls = %d value = %v, want 1 call with 21.5", mirror.calls, mirror.value)
	}
}

func TestPipelineAppliesDigitalToken(t *testing.T) {
	repo := &mockDeviceRepo{result: &device.Device{
		ID: "dev-2", RoomID: "room-1", SignalType: device.SignalDigitalInput, IsOn: true,
	}}
	p := NewPipeline(repo, nil, nil, testLogger())

	err := p.Apply(context.Background(), "mqtt", digitalEndpoint("ON", "OFF"),
		Sample{Token: "ON", Raw: "ON"})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	if repo.lastUpdate.IsOn == nil || !*repo.lastUpdate.IsOn {
		t.Errorf("IsOn = %v, want true", repo.lastUpdate.IsOn)
	}
	if repo.lastUpdate.Value != nil {
		t.Errorf("Value = %v, want nil for token-only digital reading", *repo.lastUpdate.Value)
	}
}

func TestPipelineDigitalNumericKeepsLevel(t *testing.T) {
	repo := &mockDeviceRepo{result: &device.Device{ID: "dev-2", RoomID: "room-1"}}
	p := NewPipeline(repo, nil, nil, testLogger())

	raw := 75.0
	err := p.Apply(context.Background(), "mqtt", digitalEndpoint("1", "0"),
		Sample{Numeric: &raw, Token: "75", Raw: "75"})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	if repo.lastUpdate.IsOn == nil || !*repo.lastUpdate.IsOn {
		t.Errorf("IsOn = %v, want true for nonzero numeric", repo.lastUpdate.IsOn)
	}
	if repo.lastUpdate.Value == nil || *repo.lastUpdate.Value != 75 {
		t.Errorf("Value = %v, want 75", ptrVal(repo.lastUpdate.Value))
	}
}

func TestPipelineDropsUnmappableToken(t *testing.T) {
	repo := &mockDeviceRepo{}
	bc := &mockBroadcaster{}
	p := NewPipeline(repo, bc, nil, testLogger())

	err := p.Apply(context.Background(), "mqtt", digitalEndpoint("ON", "OFF"),
		Sample{Token: "maybe", Raw: "maybe"})
	if !errors.Is(err, ErrBadPayload) {
		t.Fatalf("Apply error = %v, want ErrBadPayload", err)
	}
	if repo.lastID != "" {
		t.Errorf("UpdateState was called for a dropped reading")
	}
	if bc.calls != 0 {
		t.Errorf("broadcast fired for a dropped reading")
	}
}

func TestPipelineDropsNonNumericAnalog(t *testing.T) {
	repo := &mockDeviceRepo{}
	p := NewPipeline(repo, nil, nil, testLogger())

	err := p.Apply(context.Background(), "mqtt", analogEndpoint(1, 0),
		Sample{Token: "banana", Raw: "banana"})
	if !errors.Is(err, ErrBadPayload) {
		t.Fatalf("Apply error = %v, want ErrBadPayload", err)
	}
}

func TestPipelineStoreFailureReported(t *testing.T) {
	repo := &mockDeviceRepo{err: device.ErrDeviceNotFound}
	bc := &mockBroadcaster{}
	p := NewPipeline(repo, bc, nil, testLogger())

	raw := 1.0
	err := p.Apply(context.Background(), "mqtt", analogEndpoint(1, 0),
		Sample{Numeric: &raw, Token: "1", Raw: "1"})
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Fatalf("Apply error = %v, want ErrDeviceNotFound", err)
	}
	if bc.calls != 0 {
		t.Errorf("broadcast fired after a store failure")
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := newBackoff(1*time.Second, 8*time.Second)

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 8 * time.Second,
	}
	for i, w := range want {
		if got := b.next(); got != w {
			t.Errorf("next() call %d = %v, want %v", i+1, got, w)
		}
	}
}

func TestParseRegisterRef(t *testing.T) {
	tests := []struct {
		address  string
		wantKind registerKind
		wantReg  uint16
		wantErr  bool
	}{
		{address: "hr:100", wantKind: kindHolding, wantReg: 100},
		{address: "ir:0", wantKind: kindInput, wantReg: 0},
		{address: "coil:12", wantKind: kindCoil, wantReg: 12},
		{address: "di:3", wantKind: kindDiscrete, wantReg: 3},
		{address: "HR:7", wantKind: kindHolding, wantReg: 7},
		{address: "100", wantErr: true},
		{address: "xx:100", wantErr: true},
		{address: "hr:notanumber", wantErr: true},
		{address: "hr:70000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			ref, err := parseRegisterRef(tt.address)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseRegisterRef(%q) expected error", tt.address)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRegisterRef(%q) unexpected error: %v", tt.address, err)
			}
			if ref.kind != tt.wantKind || ref.register != tt.wantReg {
				t.Errorf("parseRegisterRef(%q) = {%s %d}, want {%s %d}",
					tt.address, ref.kind, ref.register, tt.wantKind, tt.wantReg)
			}
		})
	}
}

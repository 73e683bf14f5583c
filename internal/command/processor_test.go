package command

import (
	"context"
	"errors"
	"testing"

	"github.com/hbastian/fieldline-core/internal/connector"
	"github.com/hbastian/fieldline-core/internal/device"
	"github.com/hbastian/fieldline-core/internal/infrastructure/config"
	"github.com/hbastian/fieldline-core/internal/infrastructure/logging"
)

// mockDeviceRepo implements device.Repository for processor tests.
type mockDeviceRepo struct {
	device     *device.Device
	getErr     error
	lastUpdate device.StateUpdate
	updated    bool
}

func (m *mockDeviceRepo) GetByID(context.Context, string) (*device.Device, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.device, nil
}

func (m *mockDeviceRepo) UpdateState(_ context.Context, _ string, update device.StateUpdate) (*device.Device, error) {
	m.lastUpdate = update
	m.updated = true
	d := *m.device
	if update.IsOn != nil {
		d.IsOn = *update.IsOn
	}
	if update.Value != nil {
		d.Value = update.Value
	}
	d.RawValue = update.Raw
	return &d, nil
}

func (m *mockDeviceRepo) Create(context.Context, *device.Device) error { return nil }
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

// mockConnectorRepo implements connector.Repository.
type mockConnectorRepo struct {
	conn *connector.Connector
}

func (m *mockConnectorRepo) GetByID(context.Context, string) (*connector.Connector, error) {
	if m.conn == nil {
		return nil, connector.ErrConnectorNotFound
	}
	return m.conn, nil
}

func (m *mockConnectorRepo) Create(context.Context, *connector.Connector) error { return nil }
func (m *mockConnectorRepo) ListByUser(context.Context, string) ([]connector.Connector, error) {
	return nil, nil
}
func (m *mockConnectorRepo) ListActive(context.Context) ([]connector.Connector, error) {
	return nil, nil
}
func (m *mockConnectorRepo) Update(context.Context, *connector.Connector) error { return nil }
func (m *mockConnectorRepo) Delete(context.Context, string) error               { return nil }
func (m *mockConnectorRepo) CreateIntegration(context.Context, *connector.Integration) error {
	return nil
}
func (m *mockConnectorRepo) ListIntegrations(context.Context, string) ([]connector.Integration, error) {
	return nil, nil
}
func (m *mockConnectorRepo) DeleteIntegration(context.Context, string) error { return nil }

type sentFrame struct {
	address string
	payload string
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

// newTestProcessor wires a processor whose wire writes are captured
// instead of hitting a broker.
func newTestProcessor(devices *mockDeviceRepo, conns *mockConnectorRepo) (*Processor, *[]sentFrame) {
	p := NewProcessor(devices, conns, nil, config.MQTTConfig{QoS: 1}, testLogger())
	var sent []sentFrame
	p.send = func(_ connector.Connector, out *device.Endpoint, payload string) error {
		sent = append(sent, sentFrame{address: out.Address, payload: payload})
		return nil
	}
	return p, &sent
}

func digitalDevice(isOn bool, trueTok, falseTok string) *device.Device {
	return &device.Device{
		ID:         "dev-1",
		RoomID:     "room-1",
		Name:       "Ceiling Light",
		SignalType: device.SignalDigitalOutput,
		IsOn:       isOn,
		Endpoints: []device.Endpoint{
			{
				ID: "ep-in", DeviceID: "dev-1", ConnectorID: "conn-1",
				Direction: device.DirectionInput, Address: "home/light/state", Scale: 1,
			},
			{
				ID: "ep-out", DeviceID: "dev-1", ConnectorID: "conn-1",
				Direction: device.DirectionOutput, Address: "home/light/set",
				Scale: 1, TrueValue: trueTok, FalseValue: falseTok,
			},
		},
	}
}

func analogDevice(scale, offset float64) *device.Device {
	return &device.Device{
		ID:         "dev-2",
		RoomID:     "room-1",
		Name:       "Radiator Valve",
		SignalType: device.SignalAnalogOutput,
		Endpoints: []device.Endpoint{
			{
				ID: "ep-out", DeviceID: "dev-2", ConnectorID: "conn-1",
				Direction: device.DirectionOutput, Address: "home/valve/set",
				Scale: scale, Offset: offset,
			},
		},
	}
}

func mqttConnector() *connector.Connector {
	return &connector.Connector{
		ID: "conn-1", Transport: connector.TransportMQTT,
		Host: "broker.local", Port: 1883, IsActive: true,
	}
}

func TestExecuteDigitalStateToken(t *testing.T) {
	tests := []struct {
		name    string
		state   string
		wantOn  bool
		wantTok string
	}{
		{name: "on", state: "on", wantOn: true, wantTok: "ON"},
		{name: "uppercase ON", state: "ON", wantOn: true, wantTok: "ON"},
		{name: "true", state: "true", wantOn: true, wantTok: "ON"},
		{name: "numeric 1", state: "1", wantOn: true, wantTok: "ON"},
		{name: "yes", state: "yes", wantOn: true, wantTok: "ON"},
		{name: "off", state: "off", wantOn: false, wantTok: "OFF"},
		{name: "unknown token means off", state: "banana", wantOn: false, wantTok: "OFF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockDeviceRepo{device: digitalDevice(false, "ON", "OFF")}
			p, sent := newTestProcessor(repo, &mockConnectorRepo{conn: mqttConnector()})

			res, err := p.Execute(context.Background(), "dev-1", Request{State: &tt.state})
			if err != nil {
				t.Fatalf("Execute returned error: %v", err)
			}

			if len(*sent) != 1 || (*sent)[0].payload != tt.wantTok {
				t.Errorf("sent %v, want one frame with %q", *sent, tt.wantTok)
			}
			if (*sent)[0].address != "home/light/set" {
				t.Errorf("wrote to %q, want the output endpoint address", (*sent)[0].address)
			}
			if res.Device.IsOn != tt.wantOn {
				t.Errorf("recorded IsOn = %v, want %v", res.Device.IsOn, tt.wantOn)
			}
			wantLevel := 0.0
			if tt.wantOn {
				wantLevel = 1.0
			}
			if res.Device.Value == nil || *res.Device.Value != wantLevel {
				t.Errorf("recorded value = %v, want %v", res.Device.Value, wantLevel)
			}
		})
	}
}

func TestExecuteDigitalPrecedence(t *testing.T) {
	// State beats is_on beats toggle.
	state := "off"
	on := true
	repo := &mockDeviceRepo{device: digitalDevice(false, "1", "0")}
	p, sent := newTestProcessor(repo, &mockConnectorRepo{conn: mqttConnector()})

	res, err := p.Execute(context.Background(), "dev-1",
		Request{State: &state, IsOn: &on, Toggle: true})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if res.Device.IsOn {
		t.Errorf("state token should win over is_on and toggle")
	}
	if (*sent)[0].payload != "0" {
		t.Errorf("sent %q, want false token", (*sent)[0].payload)
	}
}

func TestExecuteDigitalToggle(t *testing.T) {
	repo := &mockDeviceRepo{device: digitalDevice(true, "1", "0")}
	p, sent := newTestProcessor(repo, &mockConnectorRepo{conn: mqttConnector()})

	res, err := p.Execute(context.Background(), "dev-1", Request{Toggle: true})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if res.Device.IsOn {
		t.Errorf("toggle from on should record off")
	}
	if (*sent)[0].payload != "0" {
		t.Errorf("sent %q, want false token", (*sent)[0].payload)
	}
}

func TestExecuteAnalogInvertsTransform(t *testing.T) {
	// eng = raw*0.1 - 5, so eng 20 means raw 250.
	repo := &mockDeviceRepo{device: analogDevice(0.1, -5)}
	p, sent := newTestProcessor(repo, &mockConnectorRepo{conn: mqttConnector()})

	target := 20.0
	res, err := p.Execute(context.Background(), "dev-2", Request{TargetValue: &target})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if (*sent)[0].payload != "250" {
		t.Errorf("sent %q, want raw value 250", (*sent)[0].payload)
	}
	if res.Device.Value == nil || *res.Device.Value != 20 {
		t.Errorf("recorded value = %v, want engineering value 20", res.Device.Value)
	}
}

func TestExecuteAnalogZeroScaleRejected(t *testing.T) {
	repo := &mockDeviceRepo{device: analogDevice(0, 7)}
	p, sent := newTestProcessor(repo, &mockConnectorRepo{conn: mqttConnector()})

	target := 7.0
	_, err := p.Execute(context.Background(), "dev-2", Request{TargetValue: &target})
	if !errors.Is(err, device.ErrZeroScale) {
		t.Fatalf("Execute error = %v, want ErrZeroScale", err)
	}
	if len(*sent) != 0 {
		t.Errorf("a rejected command must not write to the wire")
	}
	if repo.updated {
		t.Errorf("a rejected command must not record state")
	}
}

func TestExecuteAnalogMissingTarget(t *testing.T) {
	repo := &mockDeviceRepo{device: analogDevice(1, 0)}
	p, _ := newTestProcessor(repo, &mockConnectorRepo{conn: mqttConnector()})

	_, err := p.Execute(context.Background(), "dev-2", Request{})
	if !errors.Is(err, ErrNonNumericTarget) {
		t.Fatalf("Execute error = %v, want ErrNonNumericTarget", err)
	}
}

func TestExecuteEmptyDigitalCommandToggles(t *testing.T) {
	// A digital request with no state, is_on or toggle flips the
	// current state.
	repo := &mockDeviceRepo{device: digitalDevice(false, "1", "0")}
	p, sent := newTestProcessor(repo, &mockConnectorRepo{conn: mqttConnector()})

	res, err := p.Execute(context.Background(), "dev-1", Request{})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !res.Device.IsOn {
		t.Errorf("empty command on an off device should record on")
	}
	if (*sent)[0].payload != "1" {
		t.Errorf("sent %q, want true token", (*sent)[0].payload)
	}

	// And back again from on.
	repo = &mockDeviceRepo{device: digitalDevice(true, "1", "0")}
	p, sent = newTestProcessor(repo, &mockConnectorRepo{conn: mqttConnector()})
	res, err = p.Execute(context.Background(), "dev-1", Request{})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if res.Device.IsOn {
		t.Errorf("empty command on an on device should record off")
	}
	if (*sent)[0].payload != "0" {
		t.Errorf("sent %q, want false token", (*sent)[0].payload)
	}
}

func TestExecuteDigitalRejectsTargetValue(t *testing.T) {
	repo := &mockDeviceRepo{device: digitalDevice(false, "1", "0")}
	p, _ := newTestProcessor(repo, &mockConnectorRepo{conn: mqttConnector()})

	target := 1.0
	_, err := p.Execute(context.Background(), "dev-1", Request{TargetValue: &target})
	if !errors.Is(err, ErrDigitalTargetValue) {
		t.Fatalf("Execute error = %v, want ErrDigitalTargetValue", err)
	}
}

func TestExecutePrefersPrimaryOutputEndpoint(t *testing.T) {
	d := digitalDevice(false, "1", "0")
	d.Endpoints = append(d.Endpoints, device.Endpoint{
		ID: "ep-out-primary", DeviceID: "dev-1", ConnectorID: "conn-1",
		Direction: device.DirectionOutput, Address: "home/light/set/primary",
		Scale: 1, TrueValue: "1", FalseValue: "0", IsPrimary: true,
	})
	repo := &mockDeviceRepo{device: d}
	p, sent := newTestProcessor(repo, &mockConnectorRepo{conn: mqttConnector()})

	if _, err := p.Execute(context.Background(), "dev-1", Request{Toggle: true}); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if (*sent)[0].address != "home/light/set/primary" {
		t.Errorf("wrote to %q, want the primary output endpoint", (*sent)[0].address)
	}
}

func TestExecuteNoOutputEndpoint(t *testing.T) {
	d := digitalDevice(false, "1", "0")
	d.Endpoints = d.Endpoints[:1] // input only
	repo := &mockDeviceRepo{device: d}
	p, _ := newTestProcessor(repo, &mockConnectorRepo{conn: mqttConnector()})

	_, err := p.Execute(context.Background(), "dev-1", Request{Toggle: true})
	if !errors.Is(err, ErrNoOutputEndpoint) {
		t.Fatalf("Execute error = %v, want ErrNoOutputEndpoint", err)
	}
}

func TestExecuteInputDeviceNotCommandable(t *testing.T) {
	d := digitalDevice(false, "1", "0")
	d.SignalType = device.SignalDigitalInput
	repo := &mockDeviceRepo{device: d}
	p, _ := newTestProcessor(repo, &mockConnectorRepo{conn: mqttConnector()})

	_, err := p.Execute(context.Background(), "dev-1", Request{Toggle: true})
	if !errors.Is(err, ErrNotCommandable) {
		t.Fatalf("Execute error = %v, want ErrNotCommandable", err)
	}
}

func TestExecuteUnsupportedTransport(t *testing.T) {
	conn := mqttConnector()
	conn.Transport = connector.TransportOPCUA
	repo := &mockDeviceRepo{device: digitalDevice(false, "1", "0")}
	p := NewProcessor(repo, &mockConnectorRepo{conn: conn}, nil, config.MQTTConfig{}, testLogger())

	_, err := p.Execute(context.Background(), "dev-1", Request{Toggle: true})
	if !errors.Is(err, ErrUnsupportedTransport) {
		t.Fatalf("Execute error = %v, want ErrUnsupportedTransport", err)
	}
}

func TestModbusWord(t *testing.T) {
	tests := []struct {
		payload string
		want    uint16
		wantErr bool
	}{
		{payload: "250", want: 250},
		{payload: "249.6", want: 250},
		{payload: "0", want: 0},
		{payload: "65535", want: 65535},
		{payload: "-1", wantErr: true},
		{payload: "70000", wantErr: true},
		{payload: "ON", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := modbusWord(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("modbusWord(%q) expected error", tt.payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("modbusWord(%q) unexpected error: %v", tt.payload, err)
			}
			if got != tt.want {
				t.Errorf("modbusWord(%q) = %d, want %d", tt.payload, got, tt.want)
			}
		})
	}
}

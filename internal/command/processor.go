package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/hbastian/fieldline-core/internal/connector"
	"github.com/hbastian/fieldline-core/internal/device"
	"github.com/hbastian/fieldline-core/internal/infrastructure/config"
	"github.com/hbastian/fieldline-core/internal/infrastructure/logging"
	"github.com/hbastian/fieldline-core/internal/infrastructure/metrics"
	"github.com/hbastian/fieldline-core/internal/infrastructure/mqtt"
	"github.com/hbastian/fieldline-core/internal/ingest"
)

// trueTokens are the state strings interpreted as "turn on". Anything
// else in the state field means off.
var trueTokens = map[string]bool{
	"on": true, "true": true, "1": true, "yes": true,
}

// Request is one command against a device.
//
// For digital devices State takes precedence over IsOn; a request
// carrying neither toggles the current state. For analog devices
// TargetValue is mandatory and given in engineering units.
type Request struct {
	// State is a textual on/off request: "on", "true", "1", "yes" turn
	// the device on, any other value turns it off.
	State *string `json:"state,omitempty"`

	// IsOn sets the digital state directly.
	IsOn *bool `json:"is_on,omitempty"`

	// Toggle explicitly requests a flip of the current digital state.
	// An empty digital request toggles anyway; the field exists so
	// callers can say what they mean.
	Toggle bool `json:"toggle,omitempty"`

	// TargetValue is the requested engineering value for analog devices.
	TargetValue *float64 `json:"target_value,omitempty"`
}

// Result reports what a command did.
type Result struct {
	// Device is the state after the command was applied.
	Device *device.Device `json:"device"`

	// Written is the wire payload sent to the output endpoint.
	Written string `json:"written"`

	// Address is the output endpoint address written to.
	Address string `json:"address"`
}

// Broadcaster receives post-command device updates for room fan-out.
type Broadcaster interface {
	BroadcastDeviceUpdate(roomID string, d *device.Device)
}

// Processor executes device commands: it resolves the device's output
// endpoint, inverts the endpoint transform, writes the wire value
// through the endpoint's connector, and records the commanded state.
type Processor struct {
	devices     device.Repository
	connectors  connector.Repository
	broadcaster Broadcaster
	cfg         config.MQTTConfig
	log         *logging.Logger

	// clients caches one MQTT connection per connector so repeated
	// commands don't re-dial the broker.
	clients   map[string]*mqtt.Client
	clientsMu sync.Mutex

	// send performs the wire write. Defaults to transmit; tests swap
	// it out to avoid dialling real brokers.
	send func(conn connector.Connector, out *device.Endpoint, payload string) error
}

// NewProcessor creates a command processor. broadcaster may be nil.
func NewProcessor(devices device.Repository, connectors connector.Repository,
	broadcaster Broadcaster, cfg config.MQTTConfig, log *logging.Logger) *Processor {
	p := &Processor{
		devices:     devices,
		connectors:  connectors,
		broadcaster: broadcaster,
		cfg:         cfg,
		log:         log.With("component", "command"),
		clients:     make(map[string]*mqtt.Client),
	}
	p.send = p.transmit
	return p
}

// Execute runs one command against a device.
//
// The flow mirrors ingestion in reverse: engineering value in, wire
// value out through the endpoint transform, then the device record is
// updated as a whole and broadcast to its room. Rejections (bad
// request, zero scale, no output endpoint) are returned before
// anything is written.
func (p *Processor) Execute(ctx context.Context, deviceID string, req Request) (*Result, error) {
	res, err := p.execute(ctx, deviceID, req)
	switch {
	case err == nil:
		metrics.CommandsExecuted.WithLabelValues("ok").Inc()
	case isRejection(err):
		metrics.CommandsExecuted.WithLabelValues("rejected").Inc()
	default:
		metrics.CommandsExecuted.WithLabelValues("failed").Inc()
	}
	return res, err
}

func (p *Processor) execute(ctx context.Context, deviceID string, req Request) (*Result, error) {
	d, err := p.devices.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if !d.SignalType.IsOutput() {
		return nil, ErrNotCommandable
	}

	out := outputEndpoint(d)
	if out == nil {
		return nil, ErrNoOutputEndpoint
	}

	conn, err := p.connectors.GetByID(ctx, out.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("resolving output connector: %w", err)
	}

	var payload string
	var update device.StateUpdate
	now := time.Now().UTC()

	if d.SignalType.IsDigital() {
		on, err := resolveDigital(d, req)
		if err != nil {
			return nil, err
		}
		payload = out.BoolToken(on)
		// The numeric level mirrors the state so digital and analog
		// devices read uniformly: 1 on, 0 off.
		level := 0.0
		if on {
			level = 1.0
		}
		update = device.StateUpdate{Raw: payload, Value: &level, IsOn: &on, UpdatedAt: now}
	} else {
		if req.TargetValue == nil {
			return nil, ErrNonNumericTarget
		}
		raw, err := out.RawValue(*req.TargetValue)
		if err != nil {
			return nil, err
		}
		payload = device.FormatValue(raw)
		update = device.StateUpdate{Raw: payload, Value: req.TargetValue, UpdatedAt: now}
	}

	if err := p.send(*conn, out, payload); err != nil {
		return nil, err
	}

	updated, err := p.devices.UpdateState(ctx, d.ID, update)
	if err != nil {
		// The wire write succeeded; report the stale record rather
		// than failing the whole command.
		p.log.Warn("command sent but state not recorded", "device", d.ID, "error", err)
		updated = d
	}

	if p.broadcaster != nil {
		p.broadcaster.BroadcastDeviceUpdate(updated.RoomID, updated)
	}

	p.log.Info("command executed",
		"device", d.ID, "address", out.Address, "written", payload)

	return &Result{Device: updated, Written: payload, Address: out.Address}, nil
}

// resolveDigital works out the requested on/off state. Precedence:
// state token, then is_on; a request with neither toggles the current
// state, whether or not it says so with the toggle field.
func resolveDigital(d *device.Device, req Request) (bool, error) {
	switch {
	case req.State != nil:
		return trueTokens[strings.ToLower(strings.TrimSpace(*req.State))], nil
	case req.IsOn != nil:
		return *req.IsOn, nil
	case req.TargetValue != nil:
		return false, ErrDigitalTargetValue
	}
	return !d.IsOn, nil
}

// outputEndpoint returns the endpoint commands are written through:
// the primary output endpoint if one is marked, otherwise the first
// output endpoint, otherwise nil.
func outputEndpoint(d *device.Device) *device.Endpoint {
	var first *device.Endpoint
	for i := range d.Endpoints {
		if d.Endpoints[i].Direction != device.DirectionOutput {
			continue
		}
		if d.Endpoints[i].IsPrimary {
			return &d.Endpoints[i]
		}
		if first == nil {
			first = &d.Endpoints[i]
		}
	}
	return first
}

// transmit writes the payload through the connector's transport.
func (p *Processor) transmit(conn connector.Connector, out *device.Endpoint, payload string) error {
	switch conn.Transport {
	case connector.TransportMQTT:
		client, err := p.clientFor(conn)
		if err != nil {
			return err
		}
		qos := byte(p.cfg.QoS) //nolint:gosec // G115: validated 0-2 by config
		return client.PublishString(out.Address, payload, qos, false)

	case connector.TransportModbus:
		value, err := modbusWord(payload)
		if err != nil {
			return err
		}
		return ingest.WriteRegister(conn, out.Address, value)

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedTransport, conn.Transport)
	}
}

// modbusWord converts a wire payload to the 16-bit value a register
// write takes. Fractional raw values are rounded.
func modbusWord(payload string) (uint16, error) {
	var f float64
	if _, err := fmt.Sscanf(payload, "%g", &f); err != nil {
		return 0, fmt.Errorf("payload %q is not writable to a register: %w", payload, err)
	}
	r := math.Round(f)
	if r < 0 || r > math.MaxUint16 {
		return 0, fmt.Errorf("payload %q out of register range", payload)
	}
	return uint16(r), nil
}

// clientFor returns a cached MQTT client for a connector, dialling on
// first use.
func (p *Processor) clientFor(conn connector.Connector) (*mqtt.Client, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()

	if client, ok := p.clients[conn.ID]; ok && client.IsConnected() {
		return client, nil
	}

	client, err := mqtt.Connect(mqtt.BrokerOptions{
		Host:                  conn.Host,
		Port:                  conn.Port,
		Username:              conn.Username,
		Password:              conn.Password,
		TLS:                   conn.UseTLS,
		ClientID:              fmt.Sprintf("%s-cmd-%s", p.cfg.ClientIDPrefix, conn.ID),
		QoS:                   byte(p.cfg.QoS), //nolint:gosec // G115: validated 0-2 by config
		InitialReconnectDelay: time.Duration(p.cfg.Reconnect.InitialDelay) * time.Second,
		MaxReconnectDelay:     time.Duration(p.cfg.Reconnect.MaxDelay) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dialling command broker: %w", err)
	}
	client.SetLogger(p.log)

	p.clients[conn.ID] = client
	return client, nil
}

// Close disconnects all cached command clients.
func (p *Processor) Close() {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()

	for id, client := range p.clients {
		client.Close() //nolint:errcheck // Shutdown path
		delete(p.clients, id)
	}
}

// isRejection classifies errors the caller caused, as opposed to
// transport or storage failures.
func isRejection(err error) bool {
	for _, target := range []error{
		ErrNonNumericTarget, ErrDigitalTargetValue,
		ErrNoOutputEndpoint, ErrNotCommandable, ErrUnsupportedTransport,
		device.ErrZeroScale, device.ErrDeviceNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

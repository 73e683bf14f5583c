package ingest

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goburrow/modbus"

	"github.com/hbastian/fieldline-core/internal/connector"
	"github.com/hbastian/fieldline-core/internal/device"
	"github.com/hbastian/fieldline-core/internal/infrastructure/logging"
	"github.com/hbastian/fieldline-core/internal/infrastructure/metrics"
)

// modbusTimeout bounds a single Modbus TCP request.
const modbusTimeout = 5 * time.Second

// registerKind is the Modbus table an endpoint address points into.
type registerKind string

const (
	kindHolding  registerKind = "hr"
	kindInput    registerKind = "ir"
	kindCoil     registerKind = "coil"
	kindDiscrete registerKind = "di"
)

// registerRef is a parsed Modbus endpoint address.
//
// Address format: "<kind>:<register>", e.g. "hr:100", "coil:12".
// Registers are zero-based protocol addresses, not 4xxxx-style
// conventional numbering.
type registerRef struct {
	kind     registerKind
	register uint16
}

// parseRegisterRef parses a Modbus endpoint address.
func parseRegisterRef(address string) (registerRef, error) {
	kindStr, regStr, ok := strings.Cut(address, ":")
	if !ok {
		return registerRef{}, fmt.Errorf("modbus address %q: want <kind>:<register>", address)
	}

	kind := registerKind(strings.ToLower(strings.TrimSpace(kindStr)))
	switch kind {
	case kindHolding, kindInput, kindCoil, kindDiscrete:
	default:
		return registerRef{}, fmt.Errorf("modbus address %q: unknown register kind %q", address, kindStr)
	}

	reg, err := strconv.ParseUint(strings.TrimSpace(regStr), 10, 16)
	if err != nil {
		return registerRef{}, fmt.Errorf("modbus address %q: bad register number: %w", address, err)
	}

	return registerRef{kind: kind, register: uint16(reg)}, nil
}

// modbusWorker polls the input endpoint registers of one Modbus TCP
// connector. Modbus has no push delivery, so readings are pulled on a
// fixed interval and fed through the same pipeline as MQTT messages.
type modbusWorker struct {
	env  Env
	conn connector.Connector
	idx  *addressIndex
	log  *logging.Logger
}

// newModbusWorker creates a worker for a plc_modbus connector.
func newModbusWorker(env Env, conn connector.Connector) *modbusWorker {
	return &modbusWorker{
		env:  env,
		conn: conn,
		idx:  newAddressIndex(),
		log:  env.Log.With("component", "ingest", "connector", conn.ID, "transport", string(conn.Transport)),
	}
}

// Run polls the PLC until the context is cancelled. Connection
// failures retry with bounded exponential backoff. A connector
// without endpoints polls nothing but keeps resyncing, so endpoints
// added later take effect.
func (w *modbusWorker) Run(ctx context.Context) {
	handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", w.conn.Host, w.conn.Port))
	handler.Timeout = modbusTimeout
	defer handler.Close() //nolint:errcheck // Shutdown path

	backoff := newBackoff(
		time.Duration(w.env.MQTT.Reconnect.InitialDelay)*time.Second,
		time.Duration(w.env.MQTT.Reconnect.MaxDelay)*time.Second,
	)

	for {
		if err := handler.Connect(); err == nil {
			break
		} else {
			delay := backoff.next()
			w.log.Warn("plc connection failed, retrying",
				"host", w.conn.Host, "error", err, "retry_in", delay.String())

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}

	client := modbus.NewClient(handler)
	w.log.Info("connected to plc", "host", w.conn.Host, "port", w.conn.Port)

	if err := w.resync(ctx); err != nil {
		w.log.Error("initial endpoint sync failed", "error", err)
	}

	poll := time.NewTicker(time.Duration(w.env.Ingest.ModbusPollInterval) * time.Second)
	defer poll.Stop()

	resync := newResyncTicker(w.env.Ingest.ResyncInterval)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resync.C:
			if err := w.resync(ctx); err != nil {
				w.log.Warn("endpoint resync failed", "error", err)
			}
		case <-poll.C:
			w.pollOnce(ctx, client)
		}
	}
}

// resync re-reads the connector's input endpoints into the poll set.
func (w *modbusWorker) resync(ctx context.Context) error {
	endpoints, err := w.env.Devices.ListInputEndpoints(ctx, w.conn.ID)
	if err != nil {
		return fmt.Errorf("listing input endpoints: %w", err)
	}

	added, removed := w.idx.Replace(endpoints)
	if len(added) > 0 || len(removed) > 0 {
		w.log.Info("poll set updated",
			"added", len(added), "removed", len(removed), "total", w.idx.Len())
	}
	return nil
}

// pollOnce reads every polled register and applies the readings.
// A failed register read drops that address for this cycle only.
func (w *modbusWorker) pollOnce(ctx context.Context, client modbus.Client) {
	for _, address := range w.idx.Addresses() {
		metrics.MessagesReceived.WithLabelValues(string(w.conn.Transport)).Inc()

		sample, err := w.readRegister(client, address)
		if err != nil {
			metrics.MessagesDropped.WithLabelValues(string(w.conn.Transport), "decode_error").Inc()
			w.log.Warn("register read failed", "address", address, "error", err)
			continue
		}

		for _, ep := range w.idx.Resolve(address) {
			w.applyOne(ctx, ep, sample)
		}
	}
}

// applyOne applies a sample to one endpoint with a bounded context.
func (w *modbusWorker) applyOne(ctx context.Context, ep device.ResolvedEndpoint, sample Sample) {
	applyCtx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	if err := w.env.Pipeline.Apply(applyCtx, string(w.conn.Transport), ep, sample); err != nil {
		w.log.Warn("reading not applied",
			"address", ep.Address, "device", ep.DeviceID, "error", err)
	}
}

// readRegister fetches one register or bit and converts it to a sample.
func (w *modbusWorker) readRegister(client modbus.Client, address string) (Sample, error) {
	ref, err := parseRegisterRef(address)
	if err != nil {
		return Sample{}, err
	}

	switch ref.kind {
	case kindHolding, kindInput:
		var results []byte
		if ref.kind == kindHolding {
			results, err = client.ReadHoldingRegisters(ref.register, 1)
		} else {
			results, err = client.ReadInputRegisters(ref.register, 1)
		}
		if err != nil {
			return Sample{}, fmt.Errorf("reading register %s: %w", address, err)
		}
		if len(results) < 2 {
			return Sample{}, fmt.Errorf("reading register %s: short response", address)
		}
		value := float64(binary.BigEndian.Uint16(results))
		text := device.FormatValue(value)
		return Sample{Numeric: &value, Token: text, Raw: text}, nil

	case kindCoil, kindDiscrete:
		var results []byte
		if ref.kind == kindCoil {
			results, err = client.ReadCoils(ref.register, 1)
		} else {
			results, err = client.ReadDiscreteInputs(ref.register, 1)
		}
		if err != nil {
			return Sample{}, fmt.Errorf("reading bit %s: %w", address, err)
		}
		if len(results) < 1 {
			return Sample{}, fmt.Errorf("reading bit %s: short response", address)
		}
		on := results[0]&1 == 1
		raw := "0"
		if on {
			raw = "1"
		}
		return Sample{Bool: &on, Token: raw, Raw: raw}, nil
	}

	return Sample{}, fmt.Errorf("modbus address %q: unreachable kind", address)
}

// WriteRegister writes a command value to a Modbus output endpoint
// address. Analog values go to holding registers, digital states to
// coils. Used by the command processor for plc_modbus connectors.
func WriteRegister(conn connector.Connector, address string, value uint16) error {
	ref, err := parseRegisterRef(address)
	if err != nil {
		return err
	}

	handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", conn.Host, conn.Port))
	handler.Timeout = modbusTimeout
	if err := handler.Connect(); err != nil {
		return fmt.Errorf("connecting to plc %s: %w", conn.Host, err)
	}
	defer handler.Close() //nolint:errcheck // Best effort close

	client := modbus.NewClient(handler)

	switch ref.kind {
	case kindHolding:
		if _, err := client.WriteSingleRegister(ref.register, value); err != nil {
			return fmt.Errorf("writing register %s: %w", address, err)
		}
	case kindCoil:
		coil := uint16(0x0000)
		if value != 0 {
			coil = 0xFF00 // Modbus ON encoding for coil writes
		}
		if _, err := client.WriteSingleCoil(ref.register, coil); err != nil {
			return fmt.Errorf("writing coil %s: %w", address, err)
		}
	default:
		return fmt.Errorf("modbus address %q: kind %q is not writable", address, ref.kind)
	}

	return nil
}

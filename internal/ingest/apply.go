package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/hbastian/fieldline-core/internal/device"
	"github.com/hbastian/fieldline-core/internal/infrastructure/logging"
	"github.com/hbastian/fieldline-core/internal/infrastructure/metrics"
)

// Broadcaster receives applied device updates for room fan-out.
// Implemented by the API websocket hub. Best effort: a slow or absent
// subscriber never blocks ingestion.
type Broadcaster interface {
	BroadcastDeviceUpdate(roomID string, d *device.Device)
}

// Mirror receives applied readings for time-series history.
// Implemented by the InfluxDB client; nil when disabled.
type Mirror interface {
	WriteReading(deviceID, roomID, signalType string, value float64, isOn bool)
}

// Pipeline applies decoded samples to device state and fans the
// result out. It is shared by all workers regardless of transport.
type Pipeline struct {
	devices     device.Repository
	broadcaster Broadcaster
	mirror      Mirror
	log         *logging.Logger
}

// NewPipeline creates the shared apply pipeline.
//
// broadcaster and mirror may be nil; state is then stored without
// fan-out or history.
func NewPipeline(devices device.Repository, broadcaster Broadcaster, mirror Mirror, log *logging.Logger) *Pipeline {
	return &Pipeline{
		devices:     devices,
		broadcaster: broadcaster,
		mirror:      mirror,
		log:         log.With("component", "ingest"),
	}
}

// Apply translates one sample through an endpoint and stores it.
//
// For digital devices the sample is interpreted through the
// endpoint's token mapping; for analog devices it must be numeric and
// is passed through the linear transform. The whole reading is
// written in one statement, then broadcast to the device's room and
// mirrored to the time-series store.
//
// A sample that cannot be interpreted is dropped with a counted
// reason; the error is returned for logging but must not stop the
// calling worker.
func (p *Pipeline) Apply(ctx context.Context, transport string, ep device.ResolvedEndpoint, sample Sample) error {
	update, err := buildUpdate(ep, sample)
	if err != nil {
		metrics.MessagesDropped.WithLabelValues(transport, "decode_error").Inc()
		return err
	}

	d, err := p.devices.UpdateState(ctx, ep.DeviceID, update)
	if err != nil {
		metrics.MessagesDropped.WithLabelValues(transport, "store_error").Inc()
		return fmt.Errorf("applying reading to device %s: %w", ep.DeviceID, err)
	}

	metrics.MessagesApplied.WithLabelValues(transport).Inc()

	if p.broadcaster != nil {
		p.broadcaster.BroadcastDeviceUpdate(ep.RoomID, d)
	}

	if p.mirror != nil {
		var value float64
		if d.Value != nil {
			value = *d.Value
		}
		p.mirror.WriteReading(d.ID, ep.RoomID, string(d.SignalType), value, d.IsOn)
	}

	return nil
}

// buildUpdate converts a sample into a whole-record state update
// using the endpoint's transform.
func buildUpdate(ep device.ResolvedEndpoint, sample Sample) (device.StateUpdate, error) {
	update := device.StateUpdate{
		Raw:       sample.Raw,
		Unit:      sample.Unit,
		UpdatedAt: time.Now().UTC(),
	}

	if ep.DeviceSignalType.IsDigital() {
		var on bool
		switch {
		case sample.Bool != nil:
			on = *sample.Bool
		default:
			parsed, ok := ep.ParseBoolToken(sample.Token)
			if !ok {
				return device.StateUpdate{}, fmt.Errorf("%w: token %q matches no digital mapping", ErrBadPayload, sample.Token)
			}
			on = parsed
		}
		update.IsOn = &on

		// Numeric payloads on digital devices also record the scaled value,
		// so dimmer-style points keep their level alongside the state.
		if sample.Numeric != nil {
			eng := ep.EngineeringValue(*sample.Numeric)
			update.Value = &eng
		}
		return update, nil
	}

	// Analog path: a numeric value is mandatory.
	if sample.Numeric == nil {
		if sample.Bool != nil {
			// Booleans on analog devices read as 0/1 raw.
			raw := 0.0
			if *sample.Bool {
				raw = 1.0
			}
			eng := ep.EngineeringValue(raw)
			update.Value = &eng
			return update, nil
		}
		return device.StateUpdate{}, fmt.Errorf("%w: non-numeric payload %q for analog device", ErrBadPayload, sample.Token)
	}

	eng := ep.EngineeringValue(*sample.Numeric)
	update.Value = &eng
	return update, nil
}

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/hbastian/fieldline-core/internal/connector"
	"github.com/hbastian/fieldline-core/internal/device"
	"github.com/hbastian/fieldline-core/internal/infrastructure/config"
	"github.com/hbastian/fieldline-core/internal/infrastructure/logging"
	"github.com/hbastian/fieldline-core/internal/infrastructure/metrics"
	"github.com/hbastian/fieldline-core/internal/infrastructure/mqtt"
)

// Env bundles everything a worker needs: repositories, the shared
// apply pipeline, logging and client-side defaults. Workers receive
// it explicitly at construction; no package state is involved.
type Env struct {
	Devices  device.Repository
	Pipeline *Pipeline
	Log      *logging.Logger
	MQTT     config.MQTTConfig
	Ingest   config.IngestConfig
}

// runner is one transport worker bound to a connector. Run blocks
// until the context is cancelled; it never returns early, even when
// the connector has no endpoints or the transport is unimplemented.
type runner interface {
	Run(ctx context.Context)
}

// mqttWorker subscribes to the input endpoint addresses of one MQTT
// connector and feeds readings into the pipeline.
type mqttWorker struct {
	env  Env
	conn connector.Connector
	idx  *addressIndex
	log  *logging.Logger
}

// newMQTTWorker creates a worker for an MQTT connector.
func newMQTTWorker(env Env, conn connector.Connector) *mqttWorker {
	return &mqttWorker{
		env:  env,
		conn: conn,
		idx:  newAddressIndex(),
		log:  env.Log.With("component", "ingest", "connector", conn.ID, "transport", string(conn.Transport)),
	}
}

// Run connects to the connector's broker and processes readings until
// the context is cancelled. Connection failures retry with bounded
// exponential backoff; a connector without endpoints stays connected
// and idle so endpoints added later are picked up on resync.
func (w *mqttWorker) Run(ctx context.Context) {
	backoff := newBackoff(
		time.Duration(w.env.MQTT.Reconnect.InitialDelay)*time.Second,
		time.Duration(w.env.MQTT.Reconnect.MaxDelay)*time.Second,
	)

	var client *mqtt.Client
	for {
		var err error
		client, err = mqtt.Connect(w.brokerOptions())
		if err == nil {
			break
		}

		delay := backoff.next()
		w.log.Warn("broker connection failed, retrying",
			"host", w.conn.Host, "error", err, "retry_in", delay.String())

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	defer client.Close() //nolint:errcheck // Shutdown path

	client.SetLogger(w.log)
	w.log.Info("connected to broker", "host", w.conn.Host, "port", w.conn.Port)

	if err := w.resync(ctx, client); err != nil {
		w.log.Error("initial endpoint sync failed", "error", err)
	}

	resync := newResyncTicker(w.env.Ingest.ResyncInterval)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resync.C:
			if err := w.resync(ctx, client); err != nil {
				w.log.Warn("endpoint resync failed", "error", err)
			}
		}
	}
}

// brokerOptions builds connection options from the connector record.
func (w *mqttWorker) brokerOptions() mqtt.BrokerOptions {
	return mqtt.BrokerOptions{
		Host:                  w.conn.Host,
		Port:                  w.conn.Port,
		Username:              w.conn.Username,
		Password:              w.conn.Password,
		TLS:                   w.conn.UseTLS,
		ClientID:              fmt.Sprintf("%s-%s", w.env.MQTT.ClientIDPrefix, w.conn.ID),
		QoS:                   byte(w.env.MQTT.QoS), //nolint:gosec // G115: validated 0-2 by config
		InitialReconnectDelay: time.Duration(w.env.MQTT.Reconnect.InitialDelay) * time.Second,
		MaxReconnectDelay:     time.Duration(w.env.MQTT.Reconnect.MaxDelay) * time.Second,
	}
}

// resync re-reads the connector's input endpoints and adjusts broker
// subscriptions to match: newly configured addresses are subscribed,
// removed ones unsubscribed. Existing subscriptions are untouched.
func (w *mqttWorker) resync(ctx context.Context, client *mqtt.Client) error {
	endpoints, err := w.env.Devices.ListInputEndpoints(ctx, w.conn.ID)
	if err != nil {
		return fmt.Errorf("listing input endpoints: %w", err)
	}

	added, removed := w.idx.Replace(endpoints)
	qos := byte(w.env.MQTT.QoS) //nolint:gosec // G115: validated 0-2 by config

	for _, addr := range removed {
		if err := client.Unsubscribe(addr); err != nil {
			w.log.Warn("unsubscribe failed", "address", addr, "error", err)
		}
	}

	for _, addr := range added {
		if err := client.Subscribe(addr, qos, w.handleMessage); err != nil {
			w.log.Warn("subscribe failed", "address", addr, "error", err)
		}
	}

	if len(added) > 0 || len(removed) > 0 {
		w.log.Info("subscriptions updated",
			"subscribed", len(added), "unsubscribed", len(removed), "total", w.idx.Len())
	}

	return nil
}

// handleMessage processes one broker message: decode, resolve the
// topic against the address index, and apply to every bound endpoint.
// Failures drop the message and are logged by the mqtt client wrapper.
func (w *mqttWorker) handleMessage(topic string, payload []byte) error {
	metrics.MessagesReceived.WithLabelValues(string(w.conn.Transport)).Inc()

	endpoints := w.idx.Resolve(topic)
	if len(endpoints) == 0 {
		metrics.MessagesDropped.WithLabelValues(string(w.conn.Transport), "unknown_address").Inc()
		return fmt.Errorf("no endpoint bound to address %q", topic)
	}

	sample, err := DecodeSample(payload)
	if err != nil {
		metrics.MessagesDropped.WithLabelValues(string(w.conn.Transport), "decode_error").Inc()
		return fmt.Errorf("decoding payload on %q: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	for _, ep := range endpoints {
		if err := w.env.Pipeline.Apply(ctx, string(w.conn.Transport), ep, sample); err != nil {
			w.log.Warn("reading not applied",
				"address", topic, "device", ep.DeviceID, "error", err)
		}
	}

	return nil
}

// applyTimeout bounds how long one reading may spend in the store.
const applyTimeout = 10 * time.Second

// idleWorker covers transports that are declared but have no
// implementation (plc_opcua, http_api, other). It logs once and
// parks until shutdown so the connector slot stays occupied and a
// future resync can replace it.
type idleWorker struct {
	conn connector.Connector
	log  *logging.Logger
}

func newIdleWorker(env Env, conn connector.Connector) *idleWorker {
	return &idleWorker{
		conn: conn,
		log:  env.Log.With("component", "ingest", "connector", conn.ID, "transport", string(conn.Transport)),
	}
}

// Run parks until the context is cancelled.
func (w *idleWorker) Run(ctx context.Context) {
	w.log.Info("transport has no worker implementation, idling")
	<-ctx.Done()
}

// backoff produces bounded exponential delays for reconnect loops.
type backoff struct {
	current time.Duration
	max     time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &backoff{current: initial, max: max}
}

// next returns the current delay and doubles it for the next call,
// capped at the maximum.
func (b *backoff) next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// newResyncTicker returns a ticker for periodic endpoint resync.
// A zero or negative interval disables resync; the returned ticker
// then never fires.
func newResyncTicker(intervalSeconds int) *time.Ticker {
	if intervalSeconds <= 0 {
		t := time.NewTicker(time.Hour)
		t.Stop()
		return t
	}
	return time.NewTicker(time.Duration(intervalSeconds) * time.Second)
}

package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteReading mirrors an applied device reading into InfluxDB.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Failures never affect the relational state update that already
// happened, they are only reported via the SetOnError callback.
//
// Parameters:
//   - deviceID: Device identifier
//   - roomID: Room the device belongs to (tag, low cardinality)
//   - signalType: Device signal type (analog_input, digital_output, ...)
//   - value: Engineering value after scaling
//   - isOn: Digital state at the time of the reading
func (c *Client) WriteReading(deviceID, roomID, signalType string, value float64, isOn bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_readings",
		map[string]string{
			"device_id":   deviceID,
			"room_id":     roomID,
			"signal_type": signalType,
		},
		map[string]interface{}{
			"value": value,
			"is_on": isOn,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit WriteReading.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

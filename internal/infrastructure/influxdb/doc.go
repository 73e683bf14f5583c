// Package influxdb provides an optional time-series mirror for device
// readings.
//
// SQLite stores only the latest state per device. When InfluxDB is
// enabled in config.yaml, every reading applied by the ingestion
// pipeline is also written here as a point, giving queryable history
// without changing the relational model. Writes are batched and
// non-blocking; a mirror failure never fails ingestion.
package influxdb

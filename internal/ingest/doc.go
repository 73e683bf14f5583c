// Package ingest runs the telemetry intake pipeline: one worker per
// active connector, each feeding decoded readings through a shared
// apply path into device state, the room broadcast hub and the
// optional time-series mirror.
//
// # Address resolution
//
// Each worker keeps an address index built from its connector's input
// endpoints. Resolution is exact string match; readings on unknown
// addresses are dropped, counted and logged, never fatal. Several
// endpoints may share one address, in which case a single reading
// updates every bound device.
//
// # Resynchronisation
//
// Workers re-read their endpoint configuration on a fixed interval
// and diff the result against their live subscriptions or poll set,
// so endpoint changes take effect without restarting anything. The
// manager applies the same treatment to the connector set itself.
package ingest

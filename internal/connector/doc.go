// Package connector manages the upstream sources and sinks devices
// exchange data with: MQTT brokers, Modbus PLCs, and transports that
// are declared but not yet driven by a worker (OPC UA, HTTP APIs).
// Integrations are organisational labels over connectors.
//
// A connector row carries its own broker or PLC address and
// credentials. Marking a connector active makes the ingestion manager
// start a worker for it on the next resynchronisation.
package connector

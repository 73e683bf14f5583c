// Package config loads and validates Fieldline Core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded
// defaults, and finally overridden by FIELDLINE_* environment
// variables. The result is validated before use, so the rest of the
// application can treat the Config struct as trusted input.
//
// Note that MQTT broker addresses and credentials are deliberately NOT
// part of this file: connectors are database records managed through
// the API, and each ingestion worker reads its own connection details
// from its connector row. The mqtt section here only carries
// client-side defaults (QoS, reconnect backoff, client ID prefix).
package config

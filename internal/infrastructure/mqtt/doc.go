// Package mqtt provides MQTT client functionality for Fieldline Core.
//
// This package wraps the Eclipse Paho MQTT client with connection
// management, automatic reconnection with exponential backoff, and
// subscription restoration. Unlike the other infrastructure packages
// it is not configured from config.yaml: broker host, port and
// credentials live on connector records, and one Client is dialled
// per active connector by the ingestion manager.
//
// # Reconnection
//
// Connection loss triggers paho's auto-reconnect with backoff bounded
// by the connector's configured delays. Tracked subscriptions are
// restored on every reconnect, so ingestion resumes without
// intervention.
package mqtt

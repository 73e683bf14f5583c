package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultOpTimeout is the maximum time to wait for publish/subscribe acks.
	defaultOpTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// BrokerOptions describes how to reach one broker. Each connector row
// carries its own broker details, so unlike most infrastructure
// packages this one is not driven by config.yaml: a client is dialled
// per active connector.
type BrokerOptions struct {
	// Host is the broker hostname or IP address.
	Host string

	// Port is the broker port (typically 1883, or 8883 for TLS).
	Port int

	// Username and Password are optional broker credentials.
	Username string
	Password string

	// TLS enables an encrypted connection (ssl:// scheme).
	TLS bool

	// ClientID identifies this client to the broker. Must be unique
	// per broker; collisions cause the broker to drop the older session.
	ClientID string

	// QoS is the default quality of service for publishes.
	QoS byte

	// InitialReconnectDelay and MaxReconnectDelay bound the exponential
	// backoff used when the connection is lost.
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
}

// buildClientOptions creates paho MQTT options from broker options.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Auto-reconnect with exponential backoff
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(opts BrokerOptions) *pahomqtt.ClientOptions {
	po := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if opts.TLS {
		scheme = "ssl"
	}
	po.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, opts.Host, opts.Port))

	po.SetClientID(opts.ClientID)

	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	po.SetCleanSession(true)

	// Auto-reconnect with exponential backoff
	po.SetAutoReconnect(true)
	po.SetConnectRetry(true)
	po.SetConnectRetryInterval(opts.InitialReconnectDelay)
	po.SetMaxReconnectInterval(opts.MaxReconnectDelay)

	po.SetConnectTimeout(defaultConnectTimeout)

	// Keepalive - broker sends PINGs to detect dead connections
	po.SetKeepAlive(defaultKeepAlive)

	if opts.TLS {
		po.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return po
}

package connector

import (
	"errors"
	"time"
)

// Transport identifies the protocol a connector speaks.
type Transport string

const (
	// TransportMQTT is a connection to an MQTT broker. Fully supported:
	// input endpoints are subscribed, output endpoints published.
	TransportMQTT Transport = "mqtt"

	// TransportModbus is a Modbus TCP connection to a PLC. Input
	// endpoints are polled; output endpoints written as registers.
	TransportModbus Transport = "plc_modbus"

	// TransportOPCUA is declared for configuration but has no worker
	// implementation yet. Workers for it idle.
	TransportOPCUA Transport = "plc_opcua"

	// TransportHTTPAPI is declared for configuration but has no worker
	// implementation yet.
	TransportHTTPAPI Transport = "http_api"

	// TransportOther marks connectors managed outside this system.
	TransportOther Transport = "other"
)

// ValidTransports is the set of accepted transport values.
var ValidTransports = []Transport{
	TransportMQTT, TransportModbus, TransportOPCUA, TransportHTTPAPI, TransportOther,
}

// IsValidTransport returns true for a recognised transport value.
func IsValidTransport(t Transport) bool {
	for _, v := range ValidTransports {
		if t == v {
			return true
		}
	}
	return false
}

// Integration is a user-facing label grouping related connectors,
// for example "Heating" or "Solar". Purely organisational.
type Integration struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Connector describes one upstream data source or sink: a broker or
// PLC this system connects to. Endpoints reference a connector for
// their traffic; the ingestion manager starts one worker per active
// connector.
type Connector struct {
	ID            string    `json:"id"`
	UserID        string    `json:"-"`
	IntegrationID string    `json:"integration_id,omitempty"`
	Name          string    `json:"name"`
	Transport     Transport `json:"transport"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Username      string    `json:"username,omitempty"`
	Password      string    `json:"-"` // never serialised
	UseTLS        bool      `json:"use_tls"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks the connector fields are acceptable for persistence.
func (c *Connector) Validate() error {
	if c.Name == "" {
		return ErrInvalidName
	}
	if !IsValidTransport(c.Transport) {
		return ErrInvalidTransport
	}
	if c.Port < 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// Sentinel errors for connector operations.
var (
	ErrConnectorNotFound   = errors.New("connector not found")
	ErrConnectorExists     = errors.New("connector with this name already exists")
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrIntegrationExists   = errors.New("integration with this name already exists")
	ErrInvalidName         = errors.New("connector name cannot be empty")
	ErrInvalidTransport    = errors.New("unrecognised transport")
	ErrInvalidPort         = errors.New("port must be 0-65535")
)

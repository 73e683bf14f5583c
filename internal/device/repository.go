package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device and endpoint persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Create inserts a new device.
	// Returns ErrDeviceExists if the room already has a device with this name.
	Create(ctx context.Context, d *Device) error

	// GetByID retrieves a device with its endpoints.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// ListByRoom retrieves all devices in a room, ordered by name,
	// without endpoints.
	ListByRoom(ctx context.Context, roomID string) ([]Device, error)

	// Update modifies a device's name, signal type and unit.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, d *Device) error

	// Delete removes a device and, via foreign keys, its endpoints.
	Delete(ctx context.Context, id string) error

	// UpdateState applies one reading to a device as a single UPDATE
	// statement and returns the resulting device row. The unit is only
	// written if the device has none yet; nil Value/IsOn leave the
	// stored fields untouched. Returns ErrDeviceNotFound if the device
	// does not exist.
	UpdateState(ctx context.Context, id string, update StateUpdate) (*Device, error)

	// CreateEndpoint inserts a new endpoint for a device.
	CreateEndpoint(ctx context.Context, e *Endpoint) error

	// GetEndpoint retrieves an endpoint by ID.
	// Returns ErrEndpointNotFound if it does not exist.
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)

	// UpdateEndpoint modifies an endpoint's address, transform and tokens.
	UpdateEndpoint(ctx context.Context, e *Endpoint) error

	// DeleteEndpoint removes an endpoint by ID.
	DeleteEndpoint(ctx context.Context, id string) error

	// ListInputEndpoints retrieves all input endpoints carried by a
	// connector, joined with device signal type and room. This is the
	// query the ingestion workers build their address index from.
	ListInputEndpoints(ctx context.Context, connectorID string) ([]ResolvedEndpoint, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed device repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, room_id, name, signal_type, unit, value, raw_value,
	is_on, updated_at, created_at`

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	query := `
		INSERT INTO devices (id, room_id, name, signal_type, unit, is_on, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	d.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.RoomID, d.Name, string(d.SignalType), d.Unit, d.IsOn, d.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// GetByID retrieves a device with its endpoints.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}

	endpoints, err := r.listEndpointsByDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Endpoints = endpoints

	return d, nil
}

// ListByRoom retrieves all devices in a room.
func (r *SQLiteRepository) ListByRoom(ctx context.Context, roomID string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE room_id = ? ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows close

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Update modifies a device's name, signal type and unit.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	query := `
		UPDATE devices
		SET name = ?, signal_type = ?, unit = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		d.Name, string(d.SignalType), d.Unit, d.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDeviceExists
		}
		return fmt.Errorf("updating device: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// UpdateState applies one reading to a device.
//
// All state fields are written by one UPDATE scoped to the primary
// key. SQLite serialises writers, so two concurrent readings can only
// interleave at whole-statement granularity: the stored row always
// reflects exactly one reading, never a mix of two. Last write wins.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, update StateUpdate) (*Device, error) {
	query := `
		UPDATE devices
		SET value      = COALESCE(?, value),
			raw_value  = ?,
			unit       = CASE WHEN unit = '' THEN ? ELSE unit END,
			is_on      = COALESCE(?, is_on),
			updated_at = ?
		WHERE id = ?`

	var isOn any
	if update.IsOn != nil {
		isOn = *update.IsOn
	}
	var value any
	if update.Value != nil {
		value = *update.Value
	}

	result, err := r.db.ExecContext(ctx, query,
		value, update.Raw, update.Unit, isOn, update.UpdatedAt.UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating device state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking state update result: %w", err)
	}
	if affected == 0 {
		return nil, ErrDeviceNotFound
	}

	// Re-read so callers broadcast exactly what was stored, including
	// a unit that an earlier reading may have pinned.
	query = `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("reloading device state: %w", err)
	}
	return d, nil
}

const endpointColumns = `id, device_id, connector_id, direction, address,
	scale, offset_value, true_value, false_value, is_primary, created_at, updated_at`

// CreateEndpoint inserts a new endpoint for a device.
func (r *SQLiteRepository) CreateEndpoint(ctx context.Context, e *Endpoint) error {
	query := `
		INSERT INTO endpoints (id, device_id, connector_id, direction, address,
			scale, offset_value, true_value, false_value, is_primary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.DeviceID, e.ConnectorID, string(e.Direction), e.Address,
		e.Scale, e.Offset, e.TrueValue, e.FalseValue, e.IsPrimary, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting endpoint: %w", err)
	}
	return nil
}

// GetEndpoint retrieves an endpoint by ID.
func (r *SQLiteRepository) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE id = ?`

	e, err := scanEndpoint(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEndpointNotFound
		}
		return nil, fmt.Errorf("querying endpoint: %w", err)
	}
	return e, nil
}

// UpdateEndpoint modifies an endpoint's address, transform and tokens.
func (r *SQLiteRepository) UpdateEndpoint(ctx context.Context, e *Endpoint) error {
	query := `
		UPDATE endpoints
		SET connector_id = ?, direction = ?, address = ?, scale = ?, offset_value = ?,
			true_value = ?, false_value = ?, is_primary = ?, updated_at = ?
		WHERE id = ?`

	e.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, query,
		e.ConnectorID, string(e.Direction), e.Address, e.Scale, e.Offset,
		e.TrueValue, e.FalseValue, e.IsPrimary, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating endpoint: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// DeleteEndpoint removes an endpoint by ID.
func (r *SQLiteRepository) DeleteEndpoint(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM endpoints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting endpoint: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// ListInputEndpoints retrieves all input endpoints for a connector,
// joined with device signal type and room.
func (r *SQLiteRepository) ListInputEndpoints(ctx context.Context, connectorID string) ([]ResolvedEndpoint, error) {
	query := `
		SELECT e.id, e.device_id, e.connector_id, e.direction, e.address,
			e.scale, e.offset_value, e.true_value, e.false_value, e.is_primary,
			e.created_at, e.updated_at,
			d.signal_type, d.room_id
		FROM endpoints e
		JOIN devices d ON d.id = e.device_id
		WHERE e.connector_id = ? AND e.direction = 'input'
		ORDER BY e.address`

	rows, err := r.db.QueryContext(ctx, query, connectorID)
	if err != nil {
		return nil, fmt.Errorf("querying input endpoints: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows close

	var resolved []ResolvedEndpoint
	for rows.Next() {
		var re ResolvedEndpoint
		var direction, signalType string
		if err := rows.Scan(&re.ID, &re.DeviceID, &re.ConnectorID, &direction, &re.Address,
			&re.Scale, &re.Offset, &re.TrueValue, &re.FalseValue, &re.IsPrimary,
			&re.CreatedAt, &re.UpdatedAt,
			&signalType, &re.RoomID); err != nil {
			return nil, fmt.Errorf("scanning input endpoint: %w", err)
		}
		re.Direction = Direction(direction)
		re.DeviceSignalType = SignalType(signalType)
		resolved = append(resolved, re)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating input endpoints: %w", err)
	}
	return resolved, nil
}

// listEndpointsByDevice retrieves all endpoints bound to a device.
func (r *SQLiteRepository) listEndpointsByDevice(ctx context.Context, deviceID string) ([]Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE device_id = ? ORDER BY direction, address`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying device endpoints: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows close

	var endpoints []Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		endpoints = append(endpoints, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating endpoints: %w", err)
	}
	return endpoints, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice scans one device row.
func scanDevice(s scanner) (*Device, error) {
	var d Device
	var signalType string
	var value sql.NullFloat64
	var updatedAt sql.NullTime

	err := s.Scan(&d.ID, &d.RoomID, &d.Name, &signalType, &d.Unit,
		&value, &d.RawValue, &d.IsOn, &updatedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}

	d.SignalType = SignalType(signalType)
	if value.Valid {
		d.Value = &value.Float64
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		d.UpdatedAt = &t
	}
	return &d, nil
}

// scanEndpoint scans one endpoint row.
func scanEndpoint(s scanner) (*Endpoint, error) {
	var e Endpoint
	var direction string

	err := s.Scan(&e.ID, &e.DeviceID, &e.ConnectorID, &direction, &e.Address,
		&e.Scale, &e.Offset, &e.TrueValue, &e.FalseValue, &e.IsPrimary,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.Direction = Direction(direction)
	return &e, nil
}

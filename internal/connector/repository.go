package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for connector and integration
// persistence operations.
type Repository interface {
	// Create inserts a new connector.
	// Returns ErrConnectorExists if the user already has one with this name.
	Create(ctx context.Context, c *Connector) error

	// GetByID retrieves a connector by ID.
	// Returns ErrConnectorNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*Connector, error)

	// ListByUser retrieves all connectors owned by a user, ordered by name.
	ListByUser(ctx context.Context, userID string) ([]Connector, error)

	// ListActive retrieves all active connectors across users.
	// The ingestion manager starts one worker per returned connector.
	ListActive(ctx context.Context) ([]Connector, error)

	// Update modifies a connector.
	// Returns ErrConnectorNotFound if it does not exist.
	Update(ctx context.Context, c *Connector) error

	// Delete removes a connector and, via foreign keys, its endpoints.
	Delete(ctx context.Context, id string) error

	// CreateIntegration inserts a new integration label.
	CreateIntegration(ctx context.Context, in *Integration) error

	// ListIntegrations retrieves a user's integrations, ordered by name.
	ListIntegrations(ctx context.Context, userID string) ([]Integration, error)

	// DeleteIntegration removes an integration. Connectors referencing
	// it keep working with a cleared integration_id.
	DeleteIntegration(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed connector repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const connectorColumns = `id, user_id, COALESCE(integration_id, ''), name, transport,
	host, port, username, password, use_tls, is_active, created_at, updated_at`

// Create inserts a new connector.
func (r *SQLiteRepository) Create(ctx context.Context, c *Connector) error {
	query := `
		INSERT INTO connectors (id, user_id, integration_id, name, transport,
			host, port, username, password, use_tls, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.UserID, nullable(c.IntegrationID), c.Name, string(c.Transport),
		c.Host, c.Port, c.Username, c.Password, c.UseTLS, c.IsActive,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConnectorExists
		}
		return fmt.Errorf("inserting connector: %w", err)
	}
	return nil
}

// GetByID retrieves a connector by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Connector, error) {
	query := `SELECT ` + connectorColumns + ` FROM connectors WHERE id = ?`

	c, err := scanConnector(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConnectorNotFound
		}
		return nil, fmt.Errorf("querying connector: %w", err)
	}
	return c, nil
}

// ListByUser retrieves all connectors owned by a user.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]Connector, error) {
	query := `SELECT ` + connectorColumns + ` FROM connectors WHERE user_id = ? ORDER BY name`
	return r.queryConnectors(ctx, query, userID)
}

// ListActive retrieves all active connectors across users.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]Connector, error) {
	query := `SELECT ` + connectorColumns + ` FROM connectors WHERE is_active = 1 ORDER BY name`
	return r.queryConnectors(ctx, query)
}

// Update modifies a connector.
func (r *SQLiteRepository) Update(ctx context.Context, c *Connector) error {
	query := `
		UPDATE connectors
		SET integration_id = ?, name = ?, transport = ?, host = ?, port = ?,
			username = ?, password = ?, use_tls = ?, is_active = ?, updated_at = ?
		WHERE id = ?`

	c.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, query,
		nullable(c.IntegrationID), c.Name, string(c.Transport), c.Host, c.Port,
		c.Username, c.Password, c.UseTLS, c.IsActive, c.UpdatedAt, c.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConnectorExists
		}
		return fmt.Errorf("updating connector: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrConnectorNotFound
	}
	return nil
}

// Delete removes a connector by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM connectors WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting connector: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrConnectorNotFound
	}
	return nil
}

// CreateIntegration inserts a new integration label.
func (r *SQLiteRepository) CreateIntegration(ctx context.Context, in *Integration) error {
	query := `
		INSERT INTO integrations (id, user_id, name, kind, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	in.CreatedAt = now
	in.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		in.ID, in.UserID, in.Name, in.Kind, in.Notes, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrIntegrationExists
		}
		return fmt.Errorf("inserting integration: %w", err)
	}
	return nil
}

// ListIntegrations retrieves a user's integrations.
func (r *SQLiteRepository) ListIntegrations(ctx context.Context, userID string) ([]Integration, error) {
	query := `
		SELECT id, user_id, name, kind, notes, created_at, updated_at
		FROM integrations
		WHERE user_id = ?
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying integrations: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows close

	var integrations []Integration
	for rows.Next() {
		var in Integration
		if err := rows.Scan(&in.ID, &in.UserID, &in.Name, &in.Kind, &in.Notes,
			&in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning integration: %w", err)
		}
		integrations = append(integrations, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating integrations: %w", err)
	}
	return integrations, nil
}

// DeleteIntegration removes an integration by ID.
func (r *SQLiteRepository) DeleteIntegration(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM integrations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting integration: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrIntegrationNotFound
	}
	return nil
}

// queryConnectors runs a query returning connector rows.
func (r *SQLiteRepository) queryConnectors(ctx context.Context, query string, args ...any) ([]Connector, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying connectors: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows close

	var connectors []Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning connector: %w", err)
		}
		connectors = append(connectors, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connectors: %w", err)
	}
	return connectors, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

// scanConnector scans one connector row.
func scanConnector(s scanner) (*Connector, error) {
	var c Connector
	var transport string
	err := s.Scan(&c.ID, &c.UserID, &c.IntegrationID, &c.Name, &transport,
		&c.Host, &c.Port, &c.Username, &c.Password, &c.UseTLS, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Transport = Transport(transport)
	return &c, nil
}

// nullable converts an empty string to a NULL-able value for optional FKs.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package room

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for room persistence operations.
type Repository interface {
	// Create inserts a new room.
	// Returns ErrRoomExists if the user already has a room with this name.
	Create(ctx context.Context, room *Room) error

	// GetByID retrieves a room by ID.
	// Returns ErrRoomNotFound if the room does not exist.
	GetByID(ctx context.Context, id string) (*Room, error)

	// ListByUser retrieves all rooms owned by a user, ordered by name.
	ListByUser(ctx context.Context, userID string) ([]Room, error)

	// Update modifies a room's name and description.
	// Returns ErrRoomNotFound if the room does not exist.
	Update(ctx context.Context, room *Room) error

	// Delete removes a room and, via foreign keys, its devices.
	// Returns ErrRoomNotFound if the room does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed room repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new room.
func (r *SQLiteRepository) Create(ctx context.Context, room *Room) error {
	query := `
		INSERT INTO rooms (id, user_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		room.ID, room.UserID, room.Name, room.Description,
		room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrRoomExists
		}
		return fmt.Errorf("inserting room: %w", err)
	}
	return nil
}

// GetByID retrieves a room by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Room, error) {
	query := `
		SELECT id, user_id, name, description, created_at, updated_at
		FROM rooms
		WHERE id = ?`

	var rm Room
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rm.ID, &rm.UserID, &rm.Name, &rm.Description,
		&rm.CreatedAt, &rm.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("querying room: %w", err)
	}
	return &rm, nil
}

// ListByUser retrieves all rooms owned by a user.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]Room, error) {
	query := `
		SELECT id, user_id, name, description, created_at, updated_at
		FROM rooms
		WHERE user_id = ?
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows close

	var rooms []Room
	for rows.Next() {
		var rm Room
		if err := rows.Scan(&rm.ID, &rm.UserID, &rm.Name, &rm.Description,
			&rm.CreatedAt, &rm.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		rooms = append(rooms, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rooms: %w", err)
	}
	return rooms, nil
}

// Update modifies a room's name and description.
func (r *SQLiteRepository) Update(ctx context.Context, room *Room) error {
	query := `
		UPDATE rooms
		SET name = ?, description = ?, updated_at = ?
		WHERE id = ?`

	room.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, query,
		room.Name, room.Description, room.UpdatedAt, room.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrRoomExists
		}
		return fmt.Errorf("updating room: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// Delete removes a room by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

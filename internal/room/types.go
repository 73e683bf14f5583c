package room

import (
	"errors"
	"time"
)

// Room is a physical grouping of devices. Rooms belong to a single
// user and are the unit of websocket fan-out: state changes for a
// device are broadcast to subscribers of the device's room.
type Room struct {
	ID          string    `json:"id"`
	UserID      string    `json:"-"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// maxNameLength bounds room names.
const maxNameLength = 100

// Validate checks the room fields are acceptable for persistence.
func (r *Room) Validate() error {
	if r.Name == "" {
		return ErrInvalidName
	}
	if len(r.Name) > maxNameLength {
		return ErrInvalidName
	}
	return nil
}

// Sentinel errors for room operations.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room with this name already exists")
	ErrInvalidName  = errors.New("room name must be 1-100 characters")
)

package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewEventID generates a time-ordered UUID v7 for exported message events.
func NewEventID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewConnectionID returns a sortable identifier for one live connection.
func NewConnectionID() string {
	return ulid.Make().String()
}

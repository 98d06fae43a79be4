package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/eldtechnologies/parley/internal/models"
)

var (
	// ErrNotFound is returned when a room does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a room cannot be deleted because messages
	// still reference it, e.g. an append raced the cascade.
	ErrConflict = errors.New("conflict")
)

// Error wraps a durable-store failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// MessageStore is the durable append-only record of chat messages.
type MessageStore interface {
	// AppendMessage assigns id and timestamp. The room must exist.
	AppendMessage(ctx context.Context, sender, body string, roomID int64) (*models.Message, error)
	// ListMessagesByRoom returns messages ascending by id. An empty room is not an error.
	ListMessagesByRoom(ctx context.Context, roomID int64) ([]models.Message, error)
	// DeleteMessagesByRoom removes every message of a room.
	DeleteMessagesByRoom(ctx context.Context, roomID int64) error
}

// RoomRegistry tracks rooms and their participants.
type RoomRegistry interface {
	CreateRoom(ctx context.Context, participants []string) (*models.Room, error)
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	// AddParticipant is idempotent and atomic per room.
	AddParticipant(ctx context.Context, roomID int64, identity string) (*models.Room, error)
	// DeleteRoom deletes the room's messages first, then the room.
	DeleteRoom(ctx context.Context, id int64) error
}

// Stats holds aggregate counts for the stats endpoint.
type Stats struct {
	Rooms    int64
	Messages int64
}

// DataStore defines the interface for persistent storage of rooms and messages.
// PostgresStore, SQLiteStore and MemoryStore implement it.
type DataStore interface {
	MessageStore
	RoomRegistry

	Close()
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}

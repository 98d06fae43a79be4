package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eldtechnologies/parley/internal/models"
)

// MemoryStore keeps rooms and messages in process memory. It is used for
// tests and for STORE_DRIVER=memory; nothing survives a restart.
type MemoryStore struct {
	mu            sync.RWMutex
	rooms         map[int64]*models.Room
	messages      map[int64][]models.Message
	nextRoomID    int64
	nextMessageID int64

	roomLocks *roomLocks
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:     make(map[int64]*models.Room),
		messages:  make(map[int64][]models.Message),
		roomLocks: newRoomLocks(),
		now:       time.Now,
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// CreateRoom creates a room with de-duplicated participants.
func (s *MemoryStore) CreateRoom(ctx context.Context, participants []string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRoomID++
	room := &models.Room{
		ID:           s.nextRoomID,
		Participants: models.UniqueParticipants(participants),
	}
	s.rooms[room.ID] = room
	return copyRoom(room), nil
}

// GetRoom retrieves a room by ID.
func (s *MemoryStore) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRoom(room), nil
}

// ListRooms returns all rooms ascending by id.
func (s *MemoryStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]models.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, *copyRoom(room))
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

// AddParticipant appends identity to the room unless it is already present.
// Mutations of one room are serialized by that room's lock.
func (s *MemoryStore) AddParticipant(ctx context.Context, roomID int64, identity string) (*models.Room, error) {
	unlock := s.roomLocks.lock(roomID)
	defer unlock()

	current, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if current.HasParticipant(identity) {
		return current, nil
	}

	next := append(current.Participants, identity)

	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		// Deleted while we held only the room lock.
		return nil, ErrNotFound
	}
	room.Participants = next
	return copyRoom(room), nil
}

// DeleteRoom removes the room's messages and then the room.
func (s *MemoryStore) DeleteRoom(ctx context.Context, id int64) error {
	unlock := s.roomLocks.lock(id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	delete(s.rooms, id)
	return nil
}

// AppendMessage stores a message, assigning the next id and a UTC timestamp.
func (s *MemoryStore) AppendMessage(ctx context.Context, sender, body string, roomID int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, storeErr("append message", ErrNotFound)
	}

	s.nextMessageID++
	msg := models.Message{
		ID:        s.nextMessageID,
		Timestamp: s.now().UTC(),
		Sender:    sender,
		Body:      body,
		RoomID:    roomID,
	}
	s.messages[roomID] = append(s.messages[roomID], msg)
	return &msg, nil
}

// ListMessagesByRoom returns a copy of the room's messages in id order.
func (s *MemoryStore) ListMessagesByRoom(ctx context.Context, roomID int64) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]models.Message, len(s.messages[roomID]))
	copy(msgs, s.messages[roomID])
	return msgs, nil
}

// DeleteMessagesByRoom removes every message of a room.
func (s *MemoryStore) DeleteMessagesByRoom(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	delete(s.messages, roomID)
	s.mu.Unlock()
	return nil
}

// Stats returns room and message counts.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	st.Rooms = int64(len(s.rooms))
	for _, msgs := range s.messages {
		st.Messages += int64(len(msgs))
	}
	return st, nil
}

func copyRoom(r *models.Room) *models.Room {
	participants := make([]string, len(r.Participants))
	copy(participants, r.Participants)
	return &models.Room{ID: r.ID, Participants: participants}
}

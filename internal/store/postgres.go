package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/parley/internal/models"
)

// foreignKeyViolation is the SQLSTATE for foreign_key_violation.
const foreignKeyViolation = "23503"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id BIGSERIAL PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS room_participants (
	id BIGSERIAL PRIMARY KEY,
	room_id BIGINT NOT NULL REFERENCES rooms(id),
	identity TEXT NOT NULL,
	UNIQUE (room_id, identity)
);

CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	room_id BIGINT NOT NULL REFERENCES rooms(id),
	sender TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_messages_room_id ON messages(room_id, id);
`

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool and
// applies the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateRoom creates a new room with its initial participants.
func (s *PostgresStore) CreateRoom(ctx context.Context, participants []string) (*models.Room, error) {
	participants = models.UniqueParticipants(participants)

	var id int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO rooms DEFAULT VALUES RETURNING id
		`).Scan(&id); err != nil {
			return err
		}
		for _, identity := range participants {
			if _, err := tx.Exec(ctx, `
				INSERT INTO room_participants (room_id, identity) VALUES ($1, $2)
			`, id, identity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("create room", err)
	}
	return &models.Room{ID: id, Participants: participants}, nil
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return nil, storeErr("get room", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT identity FROM room_participants WHERE room_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return nil, storeErr("get room", err)
	}
	participants, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeErr("get room", err)
	}
	if participants == nil {
		participants = []string{}
	}
	return &models.Room{ID: id, Participants: participants}, nil
}

// ListRooms returns all rooms ascending by id.
func (s *PostgresStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, COALESCE(
			array_agg(p.identity ORDER BY p.id) FILTER (WHERE p.identity IS NOT NULL),
			'{}'
		)
		FROM rooms r
		LEFT JOIN room_participants p ON p.room_id = r.id
		GROUP BY r.id
		ORDER BY r.id
	`)
	if err != nil {
		return nil, storeErr("list rooms", err)
	}
	defer rows.Close()

	rooms := []models.Room{}
	for rows.Next() {
		var room models.Room
		if err := rows.Scan(&room.ID, &room.Participants); err != nil {
			return nil, storeErr("list rooms", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list rooms", err)
	}
	return rooms, nil
}

// AddParticipant adds identity to the room; the unique constraint makes
// repeated and concurrent calls safe.
func (s *PostgresStore) AddParticipant(ctx context.Context, roomID int64, identity string) (*models.Room, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_participants (room_id, identity) VALUES ($1, $2)
		ON CONFLICT (room_id, identity) DO NOTHING
	`, roomID, identity)
	if err != nil {
		if isPgForeignKey(err) {
			return nil, ErrNotFound
		}
		return nil, storeErr("add participant", err)
	}
	return s.GetRoom(ctx, roomID)
}

// DeleteRoom deletes the room's messages and participants, then the room.
// A message appended concurrently after the cascade surfaces as ErrConflict.
func (s *PostgresStore) DeleteRoom(ctx context.Context, id int64) error {
	var deleted int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE room_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM room_participants WHERE room_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		if isPgForeignKey(err) {
			return ErrConflict
		}
		return storeErr("delete room", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage inserts a message and returns it with its assigned id and timestamp.
// Appends to one room are serialized with a transaction-scoped advisory lock so
// that ids and timestamps within a room advance together.
func (s *PostgresStore) AppendMessage(ctx context.Context, sender, body string, roomID int64) (*models.Message, error) {
	msg := &models.Message{}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, roomID); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
			INSERT INTO messages (room_id, sender, body, created_at)
			VALUES ($1, $2, $3, clock_timestamp())
			RETURNING id, room_id, sender, body, created_at
		`, roomID, sender, body).Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.Sender,
			&msg.Body,
			&msg.Timestamp,
		)
	})
	if err != nil {
		if isPgForeignKey(err) {
			return nil, storeErr("append message", ErrNotFound)
		}
		return nil, storeErr("append message", err)
	}
	msg.Timestamp = msg.Timestamp.UTC()
	return msg, nil
}

// ListMessagesByRoom returns the room's messages ascending by id.
func (s *PostgresStore) ListMessagesByRoom(ctx context.Context, roomID int64) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, sender, body, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY id
	`, roomID)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.Sender,
			&msg.Body,
			&msg.Timestamp,
		)
		if err != nil {
			return nil, storeErr("list messages", err)
		}
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list messages", err)
	}
	return messages, nil
}

// DeleteMessagesByRoom removes every message of a room.
func (s *PostgresStore) DeleteMessagesByRoom(ctx context.Context, roomID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE room_id = $1`, roomID)
	return storeErr("delete messages", err)
}

// Stats returns room and message counts.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM rooms), (SELECT COUNT(*) FROM messages)
	`).Scan(&st.Rooms, &st.Messages)
	if err != nil {
		return Stats{}, storeErr("stats", err)
	}
	return st, nil
}

func isPgForeignKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

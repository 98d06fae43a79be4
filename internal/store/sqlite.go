package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/parley/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/parley.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/parley.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite would otherwise answer concurrent
	// appends with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_participants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL REFERENCES rooms(id),
		identity TEXT NOT NULL,
		UNIQUE (room_id, identity)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL REFERENCES rooms(id),
		sender TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_id ON messages(room_id, id);
	CREATE INDEX IF NOT EXISTS idx_room_participants_room_id ON room_participants(room_id, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateRoom creates a new room with its initial participants.
func (s *SQLiteStore) CreateRoom(ctx context.Context, participants []string) (*models.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("create room", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO rooms (created_at) VALUES (?)`, time.Now().UTC())
	if err != nil {
		return nil, storeErr("create room", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr("create room", err)
	}

	participants = models.UniqueParticipants(participants)
	for _, identity := range participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO room_participants (room_id, identity) VALUES (?, ?)
		`, id, identity); err != nil {
			return nil, storeErr("create room", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("create room", err)
	}
	return &models.Room{ID: id, Participants: participants}, nil
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get room", err)
	}

	participants, err := s.participants(ctx, id)
	if err != nil {
		return nil, storeErr("get room", err)
	}
	return &models.Room{ID: id, Participants: participants}, nil
}

func (s *SQLiteStore) participants(ctx context.Context, roomID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity FROM room_participants WHERE room_id = ? ORDER BY id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := []string{}
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, err
		}
		participants = append(participants, identity)
	}
	return participants, rows.Err()
}

// ListRooms returns all rooms ascending by id.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, p.identity
		FROM rooms r
		LEFT JOIN room_participants p ON p.room_id = r.id
		ORDER BY r.id, p.id
	`)
	if err != nil {
		return nil, storeErr("list rooms", err)
	}
	defer rows.Close()

	rooms := []models.Room{}
	for rows.Next() {
		var id int64
		var identity sql.NullString
		if err := rows.Scan(&id, &identity); err != nil {
			return nil, storeErr("list rooms", err)
		}
		if len(rooms) == 0 || rooms[len(rooms)-1].ID != id {
			rooms = append(rooms, models.Room{ID: id, Participants: []string{}})
		}
		if identity.Valid {
			last := &rooms[len(rooms)-1]
			last.Participants = append(last.Participants, identity.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list rooms", err)
	}
	return rooms, nil
}

// AddParticipant adds identity to the room; the unique constraint makes
// repeated and concurrent calls safe.
func (s *SQLiteStore) AddParticipant(ctx context.Context, roomID int64, identity string) (*models.Room, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_participants (room_id, identity) VALUES (?, ?)
		ON CONFLICT (room_id, identity) DO NOTHING
	`, roomID, identity)
	if err != nil {
		if isSQLiteForeignKey(err) {
			return nil, ErrNotFound
		}
		return nil, storeErr("add participant", err)
	}
	return s.GetRoom(ctx, roomID)
}

// DeleteRoom deletes the room's participants and messages, then the room, in one transaction.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("delete room", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, id); err != nil {
		return storeErr("delete room", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM room_participants WHERE room_id = ?`, id); err != nil {
		return storeErr("delete room", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		if isSQLiteForeignKey(err) {
			return ErrConflict
		}
		return storeErr("delete room", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete room", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return storeErr("delete room", err)
	}
	return nil
}

// AppendMessage inserts a message and returns it with its assigned id and timestamp.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sender, body string, roomID int64) (*models.Message, error) {
	// The transaction holds the single connection, so the timestamp is taken
	// in the same order ids are assigned.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("append message", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (room_id, sender, body, created_at) VALUES (?, ?, ?, ?)
	`, roomID, sender, body, now)
	if err != nil {
		if isSQLiteForeignKey(err) {
			return nil, storeErr("append message", ErrNotFound)
		}
		return nil, storeErr("append message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr("append message", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr("append message", err)
	}

	return &models.Message{
		ID:        id,
		Timestamp: now,
		Sender:    sender,
		Body:      body,
		RoomID:    roomID,
	}, nil
}

// ListMessagesByRoom returns the room's messages ascending by id.
func (s *SQLiteStore) ListMessagesByRoom(ctx context.Context, roomID int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender, body, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY id
	`, roomID)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Sender, &msg.Body, &msg.Timestamp); err != nil {
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
func (s *SQLiteStore) DeleteMessagesByRoom(ctx context.Context, roomID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, roomID)
	return storeErr("delete messages", err)
}

// Stats returns room and message counts.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM rooms), (SELECT COUNT(*) FROM messages)
	`).Scan(&st.Rooms, &st.Messages)
	if err != nil {
		return Stats{}, storeErr("stats", err)
	}
	return st, nil
}

func isSQLiteForeignKey(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

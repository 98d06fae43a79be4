package models

import "time"

// Message represents a persisted chat message.
type Message struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Body      string    `json:"message"`
	RoomID    int64     `json:"room_id"`
}

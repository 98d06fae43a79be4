package store

import (
	"context"
	"time"

	"github.com/eldtechnologies/parley/internal/metrics"
	"github.com/eldtechnologies/parley/internal/models"
)

// Instrumented wraps a DataStore and records per-operation latency.
type Instrumented struct {
	DataStore
}

// Instrument returns ds wrapped with latency metrics.
func Instrument(ds DataStore) *Instrumented {
	return &Instrumented{DataStore: ds}
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Instrumented) AppendMessage(ctx context.Context, sender, body string, roomID int64) (*models.Message, error) {
	defer observe("append_message", time.Now())
	return s.DataStore.AppendMessage(ctx, sender, body, roomID)
}

func (s *Instrumented) ListMessagesByRoom(ctx context.Context, roomID int64) ([]models.Message, error) {
	defer observe("list_messages", time.Now())
	return s.DataStore.ListMessagesByRoom(ctx, roomID)
}

func (s *Instrumented) CreateRoom(ctx context.Context, participants []string) (*models.Room, error) {
	defer observe("create_room", time.Now())
	return s.DataStore.CreateRoom(ctx, participants)
}

func (s *Instrumented) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	defer observe("get_room", time.Now())
	return s.DataStore.GetRoom(ctx, id)
}

func (s *Instrumented) AddParticipant(ctx context.Context, roomID int64, identity string) (*models.Room, error) {
	defer observe("add_participant", time.Now())
	return s.DataStore.AddParticipant(ctx, roomID, identity)
}

func (s *Instrumented) DeleteRoom(ctx context.Context, id int64) error {
	defer observe("delete_room", time.Now())
	return s.DataStore.DeleteRoom(ctx, id)
}

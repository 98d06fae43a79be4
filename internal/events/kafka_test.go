package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/eldtechnologies/parley/internal/models"
)

type fakeWriter struct {
	written []kafka.Message
	err     error
	closed  bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_Emit(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w, logger: zerolog.Nop()}

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sink.Emit(context.Background(), models.Message{ID: 7, RoomID: 3, Sender: "alice", Body: "hi", Timestamp: ts})

	if len(w.written) != 1 {
		t.Fatalf("expected 1 record, got %d", len(w.written))
	}
	rec := w.written[0]
	if string(rec.Key) != "3" {
		t.Fatalf("expected key 3, got %q", rec.Key)
	}
	if !rec.Time.Equal(ts) {
		t.Fatalf("expected record time %v, got %v", ts, rec.Time)
	}

	var ev MessageEvent
	if err := json.Unmarshal(rec.Value, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != MessagePosted || ev.Message.ID != 7 || ev.Message.Body != "hi" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.EventID.Version() != 7 {
		t.Fatalf("expected v7 event id, got %s", ev.EventID)
	}
}

func TestKafkaSink_EmitErrorIsSwallowed(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	sink := &KafkaSink{writer: w, logger: zerolog.Nop()}

	sink.Emit(context.Background(), models.Message{ID: 1, RoomID: 1})

	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if !w.closed {
		t.Fatal("writer not closed")
	}
}

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/broadcast"
	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

type sinkRecorder struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (s *sinkRecorder) Emit(ctx context.Context, msg models.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func newTestService(t *testing.T, opts Options) (*Service, *store.MemoryStore, *broadcast.Broadcaster[models.Message]) {
	t.Helper()
	st := store.NewMemoryStore()
	b := broadcast.New[models.Message]("test", 10)
	t.Cleanup(b.Close)
	opts.Logger = zerolog.Nop()
	return NewService(st, st, b, opts), st, b
}

func next(t *testing.T, sub *broadcast.Subscription[models.Message]) models.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestSend_PersistsJoinsAndPublishes(t *testing.T) {
	ctx := context.Background()
	sink := &sinkRecorder{}
	svc, st, b := newTestService(t, Options{Sink: sink})

	room, _ := st.CreateRoom(ctx, nil)
	sub := b.Subscribe(broadcast.Global())
	defer sub.Close()

	msg, err := svc.Send(ctx, "  alice ", "hello", room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Sender != "alice" || msg.Body != "hello" || msg.RoomID != room.ID {
		t.Fatalf("unexpected message %+v", msg)
	}

	got, _ := st.GetRoom(ctx, room.ID)
	if len(got.Participants) != 1 || got.Participants[0] != "alice" {
		t.Fatalf("sender not joined: %v", got.Participants)
	}

	live := next(t, sub)
	if live.ID != msg.ID {
		t.Fatalf("live message %d != persisted %d", live.ID, msg.ID)
	}

	// Anything delivered live is already in history.
	history, _ := svc.History(ctx, room.ID)
	if len(history) != 1 || history[0].ID != live.ID {
		t.Fatalf("history does not contain live message: %v", history)
	}

	if len(sink.msgs) != 1 || sink.msgs[0].ID != msg.ID {
		t.Fatalf("sink did not receive message: %v", sink.msgs)
	}
}

func TestSend_SecondSendDoesNotDuplicateParticipant(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t, Options{})
	room, _ := st.CreateRoom(ctx, []string{"alice"})

	for i := 0; i < 2; i++ {
		if _, err := svc.Send(ctx, "alice", "hi", room.ID); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := st.GetRoom(ctx, room.ID)
	if len(got.Participants) != 1 {
		t.Fatalf("expected [alice], got %v", got.Participants)
	}
}

func TestSend_ZeroSubscribersSucceeds(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t, Options{})
	room, _ := st.CreateRoom(ctx, nil)

	if _, err := svc.Send(ctx, "alice", "nobody listening", room.ID); err != nil {
		t.Fatalf("send with zero subscribers failed: %v", err)
	}
	history, _ := svc.History(ctx, room.ID)
	if len(history) != 1 {
		t.Fatalf("expected message in history, got %d", len(history))
	}
}

func TestSend_PublishFailureKeepsMessage(t *testing.T) {
	ctx := context.Background()
	svc, st, b := newTestService(t, Options{})
	room, _ := st.CreateRoom(ctx, nil)
	b.Close()

	msg, err := svc.Send(ctx, "alice", "after shutdown", room.ID)
	if err != nil {
		t.Fatalf("publish failure must not fail send: %v", err)
	}
	history, _ := svc.History(ctx, room.ID)
	if len(history) != 1 || history[0].ID != msg.ID {
		t.Fatalf("persisted message missing: %v", history)
	}
}

func TestSend_RoomNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	if _, err := svc.Send(context.Background(), "alice", "hi", 42); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSend_Validation(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t, Options{})
	room, _ := st.CreateRoom(ctx, nil)

	tests := []struct {
		name   string
		sender string
		body   string
		room   int64
		field  string
	}{
		{"zero room", "alice", "hi", 0, "room_id"},
		{"negative room", "alice", "hi", -1, "room_id"},
		{"empty sender", "   ", "hi", room.ID, "sender"},
		{"long sender", strings.Repeat("a", 101), "hi", room.ID, "sender"},
		{"empty body", "alice", " ", room.ID, "message"},
		{"long body", "alice", strings.Repeat("x", 4097), room.ID, "message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(ctx, tt.sender, tt.body, tt.room)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}

	history, _ := svc.History(ctx, room.ID)
	if len(history) != 0 {
		t.Fatalf("invalid sends must not persist, got %d", len(history))
	}
}

func TestSend_RoomScopedDelivery(t *testing.T) {
	ctx := context.Background()
	svc, st, b := newTestService(t, Options{RoomScoped: true})
	r1, _ := st.CreateRoom(ctx, nil)
	r2, _ := st.CreateRoom(ctx, nil)

	global := b.Subscribe(broadcast.Global())
	defer global.Close()
	only2 := b.Subscribe(broadcast.Room(r2.ID))
	defer only2.Close()

	svc.Send(ctx, "alice", "for room 1", r1.ID)
	svc.Send(ctx, "bob", "for room 2", r2.ID)

	if m := next(t, global); m.RoomID != r1.ID {
		t.Fatalf("global expected room 1 first, got %d", m.RoomID)
	}
	if m := next(t, global); m.RoomID != r2.ID {
		t.Fatalf("global expected room 2 second, got %d", m.RoomID)
	}
	if m := next(t, only2); m.RoomID != r2.ID {
		t.Fatalf("room subscriber got foreign message from room %d", m.RoomID)
	}
}

func TestSend_ConcurrentJoins(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t, Options{})
	room, _ := st.CreateRoom(ctx, nil)

	var wg sync.WaitGroup
	for _, sender := range []string{"alice", "bob", "carol", "dave"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			if _, err := svc.Send(ctx, sender, "hi", room.ID); err != nil {
				t.Error(err)
			}
		}(sender)
	}
	wg.Wait()

	got, _ := st.GetRoom(ctx, room.ID)
	if len(got.Participants) != 4 {
		t.Fatalf("lost participant update: %v", got.Participants)
	}
}

func TestHistory_InvalidRoom(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	if _, err := svc.History(context.Background(), 0); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

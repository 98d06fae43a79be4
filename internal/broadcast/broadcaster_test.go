package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func nextWithin(t *testing.T, sub *Subscription[int]) (int, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return sub.Next(ctx)
}

func TestBroadcaster_DeliversInOrder(t *testing.T) {
	b := New[int]("test", 10)
	sub := b.Subscribe(Global())
	defer sub.Close()

	for i := 1; i <= 3; i++ {
		n, err := b.Publish(Global(), i)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Fatalf("expected 1 receiver, got %d", n)
		}
	}

	for want := 1; want <= 3; want++ {
		got, err := nextWithin(t, sub)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestBroadcaster_ZeroSubscribersIsNotAnError(t *testing.T) {
	b := New[int]("test", 10)

	n, err := b.Publish(Global(), 1)
	if err != nil {
		t.Fatalf("publish with no subscribers failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 receivers, got %d", n)
	}

	// Values published before Subscribe are never delivered.
	sub := b.Subscribe(Global())
	defer sub.Close()
	b.Publish(Global(), 2)

	got, err := nextWithin(t, sub)
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestBroadcaster_SubscribeAfterPublish(t *testing.T) {
	b := New[int]("test", 10)
	early := b.Subscribe(Global())
	defer early.Close()

	b.Publish(Global(), 1)

	late := b.Subscribe(Global())
	defer late.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := late.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("late subscriber should see nothing, got %v", err)
	}

	if got, _ := nextWithin(t, early); got != 1 {
		t.Fatalf("early subscriber expected 1, got %d", got)
	}
}

func TestBroadcaster_LaggedSubscriber(t *testing.T) {
	b := New[int]("test", 10)
	slow := b.Subscribe(Global())
	defer slow.Close()
	fast := b.Subscribe(Global())
	defer fast.Close()

	for i := 1; i <= 11; i++ {
		b.Publish(Global(), i)
		if got, err := nextWithin(t, fast); err != nil || got != i {
			t.Fatalf("fast subscriber: expected %d, got %d (%v)", i, got, err)
		}
	}

	_, err := nextWithin(t, slow)
	var lagged *LaggedError
	if !errors.As(err, &lagged) {
		t.Fatalf("expected LaggedError, got %v", err)
	}
	if lagged.Skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", lagged.Skipped)
	}

	for want := 2; want <= 11; want++ {
		got, err := nextWithin(t, slow)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestBroadcaster_ScopeFiltering(t *testing.T) {
	b := New[int]("test", 10)
	global := b.Subscribe(Global())
	defer global.Close()
	room1 := b.Subscribe(Room(1))
	defer room1.Close()

	n, _ := b.Publish(Room(2), 20)
	if n != 1 {
		t.Fatalf("expected 1 matching receiver, got %d", n)
	}
	b.Publish(Room(1), 10)
	b.Publish(Global(), 99)

	for _, want := range []int{20, 10, 99} {
		got, err := nextWithin(t, global)
		if err != nil || got != want {
			t.Fatalf("global: expected %d, got %d (%v)", want, got, err)
		}
	}
	for _, want := range []int{10, 99} {
		got, err := nextWithin(t, room1)
		if err != nil || got != want {
			t.Fatalf("room1: expected %d, got %d (%v)", want, got, err)
		}
	}
}

func TestBroadcaster_CloseDrainsThenErrClosed(t *testing.T) {
	b := New[int]("test", 10)
	sub := b.Subscribe(Global())
	defer sub.Close()

	b.Publish(Global(), 1)
	b.Close()

	if _, err := b.Publish(Global(), 2); !errors.Is(err, ErrClosed) {
		t.Fatalf("publish after close: expected ErrClosed, got %v", err)
	}
	if got, err := nextWithin(t, sub); err != nil || got != 1 {
		t.Fatalf("expected buffered 1, got %d (%v)", got, err)
	}
	if _, err := nextWithin(t, sub); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBroadcaster_CloseWakesWaiters(t *testing.T) {
	b := New[int]("test", 10)
	sub := b.Subscribe(Global())
	defer sub.Close()

	done := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}
}

func TestSubscription_CloseReleases(t *testing.T) {
	b := New[int]("test", 10)
	sub := b.Subscribe(Global())
	if b.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.Subscribers())
	}

	sub.Close()
	sub.Close()
	if b.Subscribers() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Subscribers())
	}
	if _, err := nextWithin(t, sub); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from released subscription, got %v", err)
	}
}

func TestBroadcaster_ConcurrentPublishersSameOrder(t *testing.T) {
	const publishers, perPublisher = 4, 25
	b := New[int]("test", publishers*perPublisher)

	subA := b.Subscribe(Global())
	defer subA.Close()
	subB := b.Subscribe(Global())
	defer subB.Close()

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				b.Publish(Global(), p*perPublisher+i)
			}
		}(p)
	}
	wg.Wait()

	for i := 0; i < publishers*perPublisher; i++ {
		a, err := nextWithin(t, subA)
		if err != nil {
			t.Fatal(err)
		}
		bv, err := nextWithin(t, subB)
		if err != nil {
			t.Fatal(err)
		}
		if a != bv {
			t.Fatalf("subscribers disagree at %d: %d vs %d", i, a, bv)
		}
	}
}

func TestBroadcaster_ContextCancel(t *testing.T) {
	b := New[int]("test", 10)
	sub := b.Subscribe(Global())
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestScope_Matches(t *testing.T) {
	if !Global().Matches(Room(3)) || !Room(3).Matches(Global()) {
		t.Fatal("global must match any room")
	}
	if !Room(3).Matches(Room(3)) {
		t.Fatal("same room must match")
	}
	if Room(3).Matches(Room(4)) {
		t.Fatal("different rooms must not match")
	}
	if Room(7).String() != "room:7" || Global().String() != "global" {
		t.Fatalf("unexpected scope strings %q %q", Room(7), Global())
	}
}

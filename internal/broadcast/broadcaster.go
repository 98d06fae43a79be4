// Package broadcast implements a bounded in-memory fan-out channel.
//
// Every Broadcaster keeps the most recent N published entries in a ring.
// Subscribers read through their own cursor; one that falls more than N
// entries behind loses the oldest entries and is told how many it missed.
// Publishers never wait for subscribers.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eldtechnologies/parley/internal/metrics"
)

// ErrClosed is returned once the Broadcaster has been shut down.
var ErrClosed = errors.New("broadcast: channel closed")

// LaggedError reports that a subscription fell behind and Skipped entries
// were dropped for it. The subscription remains usable.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("broadcast: subscriber lagged, %d messages skipped", e.Skipped)
}

type entry[T any] struct {
	scope Scope
	value T
}

// Broadcaster is a multi-producer, multi-consumer channel with a fixed
// capacity and drop-oldest semantics for slow consumers.
type Broadcaster[T any] struct {
	name string

	mu     sync.Mutex
	buf    []entry[T]
	head   uint64 // sequence number of the next publish
	subs   map[*Subscription[T]]struct{}
	closed bool
	notify chan struct{} // closed and replaced on every publish
}

// New creates a Broadcaster retaining the last capacity entries. name labels
// its metrics.
func New[T any](name string, capacity int) *Broadcaster[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Broadcaster[T]{
		name:   name,
		buf:    make([]entry[T], capacity),
		subs:   make(map[*Subscription[T]]struct{}),
		notify: make(chan struct{}),
	}
}

// Name returns the metrics label of the broadcaster.
func (b *Broadcaster[T]) Name() string {
	return b.name
}

// Capacity returns the number of entries retained for subscribers.
func (b *Broadcaster[T]) Capacity() int {
	return len(b.buf)
}

// Publish appends v under scope and wakes every waiting subscriber. It never
// blocks. It returns the number of subscriptions whose scope matches; with no
// subscriptions at all the value is dropped and 0 is returned.
func (b *Broadcaster[T]) Publish(scope Scope, v T) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	if len(b.subs) == 0 {
		metrics.BroadcastDropped.WithLabelValues(b.name).Inc()
		return 0, nil
	}

	b.buf[b.head%uint64(len(b.buf))] = entry[T]{scope: scope, value: v}
	b.head++
	close(b.notify)
	b.notify = make(chan struct{})

	receivers := 0
	for sub := range b.subs {
		if scope.Matches(sub.scope) {
			receivers++
		}
	}
	metrics.BroadcastPublished.WithLabelValues(b.name).Inc()
	return receivers, nil
}

// Subscribe returns a subscription that observes values published under a
// matching scope after Subscribe returns.
func (b *Broadcaster[T]) Subscribe(scope Scope) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription[T]{b: b, scope: scope, next: b.head}
	if !b.closed {
		b.subs[sub] = struct{}{}
		metrics.SubscribersActive.WithLabelValues(b.name).Inc()
	}
	return sub
}

// Subscribers returns the number of open subscriptions.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts the broadcaster down. Subscribers drain what is still buffered
// and then receive ErrClosed. Further publishes fail with ErrClosed.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

// oldest returns the sequence number of the oldest retained entry.
// Callers hold b.mu.
func (b *Broadcaster[T]) oldest() uint64 {
	n := uint64(len(b.buf))
	if b.head <= n {
		return 0
	}
	return b.head - n
}

// Subscription is one consumer's cursor into a Broadcaster. It must only be
// read from a single goroutine.
type Subscription[T any] struct {
	b        *Broadcaster[T]
	scope    Scope
	next     uint64
	released bool
}

// Next blocks until a matching value is available, the subscription lagged,
// the broadcaster closed, or ctx is done. A *LaggedError is not terminal:
// the following call resumes at the oldest retained entry.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	b := s.b

	for {
		b.mu.Lock()
		if s.released {
			b.mu.Unlock()
			return zero, ErrClosed
		}

		if s.next < b.head {
			if oldest := b.oldest(); s.next < oldest {
				skipped := oldest - s.next
				s.next = oldest
				b.mu.Unlock()
				metrics.SubscriberLagged.WithLabelValues(b.name).Add(float64(skipped))
				return zero, &LaggedError{Skipped: skipped}
			}

			e := b.buf[s.next%uint64(len(b.buf))]
			s.next++
			b.mu.Unlock()
			if !e.scope.Matches(s.scope) {
				continue
			}
			return e.value, nil
		}

		if b.closed {
			b.mu.Unlock()
			return zero, ErrClosed
		}

		wait := b.notify
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.released {
		return
	}
	s.released = true
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		metrics.SubscribersActive.WithLabelValues(b.name).Dec()
	}
}

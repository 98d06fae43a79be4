package stream

import (
	"context"
	"errors"

	"github.com/eldtechnologies/parley/internal/broadcast"
)

// Conn is a duplex connection: a Transport for outbound values plus an
// inbound read side. Close must unblock a pending Receive and be safe to
// call more than once.
type Conn[T any] interface {
	Transport[T]
	Receive(ctx context.Context) (T, error)
	Close() error
}

// Relay republishes every inbound value verbatim under the global scope and
// forwards everything published to the same connection, including the
// connection's own values. Nothing is persisted.
type Relay[T any] struct {
	b       *broadcast.Broadcaster[T]
	conn    Conn[T]
	manager *Manager[T]
}

// NewRelay creates a relay for conn on b.
func NewRelay[T any](b *broadcast.Broadcaster[T], conn Conn[T], opts Options) *Relay[T] {
	return &Relay[T]{
		b:       b,
		conn:    conn,
		manager: NewManager[T](b, broadcast.Global(), conn, opts),
	}
}

// ID returns the connection id.
func (r *Relay[T]) ID() string {
	return r.manager.ID()
}

// Run relays until the peer disconnects, a write fails, or the broadcaster
// shuts down. The connection is closed on return.
func (r *Relay[T]) Run(ctx context.Context) State {
	r.manager.Start()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan State, 1)
	go func() {
		reason := r.manager.Forward(ctx)
		// Unblock the read loop below.
		r.conn.Close()
		done <- reason
	}()

	for {
		v, err := r.conn.Receive(ctx)
		if err != nil {
			break
		}
		if _, err := r.b.Publish(broadcast.Global(), v); errors.Is(err, broadcast.ErrClosed) {
			// Forward reports the shutdown itself once it drains.
			<-done
			return ServerShutdown
		}
	}

	cancel()
	return <-done
}

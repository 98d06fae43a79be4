// Package stream forwards a broadcast subscription to one live connection.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/broadcast"
	"github.com/eldtechnologies/parley/internal/ids"
	"github.com/eldtechnologies/parley/internal/metrics"
)

// State is a step in the life of a Manager.
type State int

const (
	Connecting State = iota
	Subscribed
	Forwarding
	ClientClosed
	TransportError
	ServerShutdown
	Terminated
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Forwarding:
		return "forwarding"
	case ClientClosed:
		return "client_closed"
	case TransportError:
		return "transport_error"
	case ServerShutdown:
		return "server_shutdown"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Transport is the outbound half of a live connection. The Manager never
// calls it from more than one goroutine at a time.
type Transport[T any] interface {
	// Send writes one delivered value.
	Send(ctx context.Context, v T) error
	// KeepAlive writes a transport-level heartbeat on an idle connection.
	KeepAlive(ctx context.Context) error
	// Lagged tells the peer that skipped values were dropped.
	Lagged(ctx context.Context, skipped uint64) error
}

// Options configure a Manager.
type Options struct {
	// KeepAlive is the idle interval after which a heartbeat is written.
	// Zero disables heartbeats.
	KeepAlive time.Duration
	// Transport labels logs and metrics, e.g. "sse" or "ws".
	Transport string
	Logger    zerolog.Logger
}

var errIdle = errors.New("stream: idle")

// Manager owns one subscription and forwards it to one Transport until the
// client goes away, a write fails, or the broadcaster shuts down.
type Manager[T any] struct {
	id        string
	b         *broadcast.Broadcaster[T]
	scope     broadcast.Scope
	transport Transport[T]
	opts      Options
	logger    zerolog.Logger

	mu     sync.Mutex
	state  State
	reason State
	sub    *broadcast.Subscription[T]

	forwarded uint64
	lagged    uint64
	started   time.Time
}

// NewManager creates a Manager in the Connecting state.
func NewManager[T any](b *broadcast.Broadcaster[T], scope broadcast.Scope, transport Transport[T], opts Options) *Manager[T] {
	id := ids.NewConnectionID()
	return &Manager[T]{
		id:        id,
		b:         b,
		scope:     scope,
		transport: transport,
		opts:      opts,
		logger: opts.Logger.With().
			Str("conn_id", id).
			Str("transport", opts.Transport).
			Str("scope", scope.String()).
			Logger(),
		state: Connecting,
	}
}

// ID returns the connection id used in logs.
func (m *Manager[T]) ID() string {
	return m.id
}

// State returns the current state.
func (m *Manager[T]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason returns why forwarding stopped, or Connecting if it has not.
func (m *Manager[T]) Reason() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

func (m *Manager[T]) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Start subscribes. Values published after Start returns are delivered.
func (m *Manager[T]) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connecting {
		return
	}
	m.sub = m.b.Subscribe(m.scope)
	m.state = Subscribed
	m.started = time.Now()
	m.logger.Info().Msg("subscriber connected")
}

// Run subscribes and forwards until termination. It returns the reason.
func (m *Manager[T]) Run(ctx context.Context) State {
	m.Start()
	return m.Forward(ctx)
}

// Forward delivers values to the transport until termination and returns
// the reason. Cancelling ctx counts as the client closing. Start must have
// been called.
func (m *Manager[T]) Forward(ctx context.Context) State {
	if m.State() != Subscribed {
		return m.Reason()
	}
	m.setState(Forwarding)

	reason := m.forward(ctx)
	m.terminate(reason)
	return reason
}

func (m *Manager[T]) forward(ctx context.Context) State {
	for {
		v, err := m.next(ctx)

		var lagged *broadcast.LaggedError
		switch {
		case err == nil:
			if err := m.transport.Send(ctx, v); err != nil {
				return m.writeFailed(ctx, err)
			}
			m.forwarded++

		case errors.Is(err, errIdle):
			if err := m.transport.KeepAlive(ctx); err != nil {
				return m.writeFailed(ctx, err)
			}
			metrics.KeepAlivesSent.WithLabelValues(m.opts.Transport).Inc()

		case errors.As(err, &lagged):
			m.lagged += lagged.Skipped
			m.logger.Warn().
				Uint64("skipped", lagged.Skipped).
				Msg("subscriber lagged")
			if err := m.transport.Lagged(ctx, lagged.Skipped); err != nil {
				return m.writeFailed(ctx, err)
			}

		case errors.Is(err, broadcast.ErrClosed):
			return ServerShutdown

		default:
			return ClientClosed
		}
	}
}

// next reads the subscription, turning an idle keep-alive interval into errIdle.
func (m *Manager[T]) next(ctx context.Context) (T, error) {
	if m.opts.KeepAlive <= 0 {
		return m.sub.Next(ctx)
	}

	nctx, cancel := context.WithTimeout(ctx, m.opts.KeepAlive)
	v, err := m.sub.Next(nctx)
	cancel()
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		var zero T
		return zero, errIdle
	}
	return v, err
}

func (m *Manager[T]) writeFailed(ctx context.Context, err error) State {
	if ctx.Err() != nil {
		return ClientClosed
	}
	m.logger.Debug().Err(err).Msg("transport write failed")
	return TransportError
}

func (m *Manager[T]) terminate(reason State) {
	m.mu.Lock()
	m.sub.Close()
	m.reason = reason
	m.state = Terminated
	m.mu.Unlock()

	metrics.SubscriptionsEnded.WithLabelValues(m.opts.Transport, reason.String()).Inc()
	m.logger.Info().
		Str("reason", reason.String()).
		Uint64("forwarded", m.forwarded).
		Uint64("lagged", m.lagged).
		Dur("duration", time.Since(m.started)).
		Msg("subscriber terminated")
}

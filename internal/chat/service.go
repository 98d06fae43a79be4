// Package chat ingests messages: it validates them, records the sender as a
// room participant, persists the message and then publishes it live.
package chat

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/broadcast"
	"github.com/eldtechnologies/parley/internal/metrics"
	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

const (
	MaxSenderLength = 100  // characters
	MaxBodyLength   = 4096 // bytes
)

// EventSink receives every persisted message after it was published. It must
// not block the caller for long and its failures are the sink's concern.
type EventSink interface {
	Emit(ctx context.Context, msg models.Message)
}

// Options configure a Service.
type Options struct {
	// RoomScoped publishes under the message's room scope instead of global.
	RoomScoped bool
	// Sink is optional.
	Sink   EventSink
	Logger zerolog.Logger
}

// Service is the single write path for chat messages.
type Service struct {
	rooms      store.RoomRegistry
	messages   store.MessageStore
	broadcast  *broadcast.Broadcaster[models.Message]
	sink       EventSink
	roomScoped bool
	logger     zerolog.Logger
}

// NewService creates a Service.
func NewService(rooms store.RoomRegistry, messages store.MessageStore, b *broadcast.Broadcaster[models.Message], opts Options) *Service {
	return &Service{
		rooms:      rooms,
		messages:   messages,
		broadcast:  b,
		sink:       opts.Sink,
		roomScoped: opts.RoomScoped,
		logger:     opts.Logger,
	}
}

// Send validates and persists a message, then publishes it to live
// subscribers. The message is returned once persisted even if live delivery
// fails; history remains the system of record.
func (s *Service) Send(ctx context.Context, sender, body string, roomID int64) (*models.Message, error) {
	sender = sanitizeSender(sender)
	if err := validate(sender, body, roomID); err != nil {
		return nil, err
	}

	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	// Join-on-send.
	if _, err := s.rooms.AddParticipant(ctx, roomID, sender); err != nil {
		return nil, err
	}

	msg, err := s.messages.AppendMessage(ctx, sender, body, roomID)
	if err != nil {
		return nil, err
	}
	metrics.MessagesPosted.Inc()

	scope := broadcast.Global()
	if s.roomScoped {
		scope = broadcast.Room(roomID)
	}
	receivers, err := s.broadcast.Publish(scope, *msg)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Int64("message_id", msg.ID).
			Int64("room_id", roomID).
			Msg("live publish failed, message persisted")
	} else {
		s.logger.Debug().
			Int64("message_id", msg.ID).
			Int64("room_id", roomID).
			Int("receivers", receivers).
			Msg("message published")
	}

	if s.sink != nil {
		s.sink.Emit(ctx, *msg)
	}

	return msg, nil
}

// History returns a room's messages ascending by id.
func (s *Service) History(ctx context.Context, roomID int64) ([]models.Message, error) {
	if roomID <= 0 {
		return nil, invalid("room_id", "must be a positive integer")
	}
	return s.messages.ListMessagesByRoom(ctx, roomID)
}

// RoomScoped reports whether messages are published under their room scope.
// When false every subscriber receives every room's messages.
func (s *Service) RoomScoped() bool {
	return s.roomScoped
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func validate(sender, body string, roomID int64) error {
	if roomID <= 0 {
		return invalid("room_id", "must be a positive integer")
	}
	if sender == "" {
		return invalid("sender", "is required")
	}
	if utf8.RuneCountInString(sender) > MaxSenderLength {
		return invalid("sender", "too long (max 100 characters)")
	}
	if strings.TrimSpace(body) == "" {
		return invalid("message", "is required")
	}
	if len(body) > MaxBodyLength {
		return invalid("message", "too long (max 4096 bytes)")
	}
	return nil
}

// sanitizeSender trims the sender and removes control characters.
func sanitizeSender(sender string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, sender))
}

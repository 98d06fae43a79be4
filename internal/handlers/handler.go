package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/broadcast"
	"github.com/eldtechnologies/parley/internal/chat"
	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

// Deps are the dependencies shared by all handlers. The relay-only server
// leaves Store, Chat and Messages nil.
type Deps struct {
	Store    store.DataStore
	Redis    *store.RedisStore
	Chat     *chat.Service
	Messages *broadcast.Broadcaster[models.Message]
	Relay    *broadcast.Broadcaster[Frame]

	// KeepAlive is the idle interval for stream heartbeats.
	KeepAlive time.Duration
	Logger    zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store     store.DataStore
	redis     *store.RedisStore
	chat      *chat.Service
	messages  *broadcast.Broadcaster[models.Message]
	relay     *broadcast.Broadcaster[Frame]
	keepAlive time.Duration
	logger    zerolog.Logger
	started   time.Time
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:     d.Store,
		redis:     d.Redis,
		chat:      d.Chat,
		messages:  d.Messages,
		relay:     d.Relay,
		keepAlive: d.KeepAlive,
		logger:    d.Logger,
		started:   time.Now(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps err to a status code and writes it as a JSON error.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	h.Error(w, status, message)
}

func statusFor(err error) (int, string) {
	var ve *chat.ValidationError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "room not found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "room still has messages"
	case errors.Is(err, broadcast.ErrClosed):
		return http.StatusServiceUnavailable, "server shutting down"
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "request body too large"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return &chat.ValidationError{Field: "body", Reason: "invalid JSON"}
	}
	return nil
}

// cleanIdentity trims an identity and removes control characters. It
// reports false for empty identities or ones longer than 100 characters.
func cleanIdentity(identity string) (string, bool) {
	identity = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, identity))

	if identity == "" || utf8.RuneCountInString(identity) > chat.MaxSenderLength {
		return "", false
	}
	return identity, true
}

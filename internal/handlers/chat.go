package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/eldtechnologies/parley/internal/broadcast"
	"github.com/eldtechnologies/parley/internal/chat"
	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/stream"
)

// SendRequest represents the send message request.
type SendRequest struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
	RoomID  int64  `json:"room_id"`
}

// SendMessage persists a message and publishes it to live subscribers.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	msg, err := h.chat.Send(r.Context(), req.Sender, req.Message, req.RoomID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, msg)
}

// History returns every message of the room given by ?room_id, oldest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseRoomID(r.URL.Query().Get("room_id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	msgs, err := h.chat.History(r.Context(), roomID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, msgs)
}

// Subscribe streams live messages as server-sent events. With ?room_id the
// stream is restricted to that room, but only when delivery is room scoped;
// the X-Parley-Room-Filter response header reports which applies.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	scope := broadcast.Global()
	if raw := r.URL.Query().Get("room_id"); raw != "" {
		roomID, err := parseRoomID(raw)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		if _, err := h.store.GetRoom(r.Context(), roomID); err != nil {
			h.Fail(w, r, err)
			return
		}
		scope = broadcast.Room(roomID)

		if h.chat != nil && h.chat.RoomScoped() {
			w.Header().Set("X-Parley-Room-Filter", "active")
		} else {
			w.Header().Set("X-Parley-Room-Filter", "inactive")
			h.logger.Info().
				Int64("room_id", roomID).
				Msg("room filter requested but ROOM_SCOPED_DELIVERY is off, streaming all rooms")
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// The stream outlives the server's WriteTimeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	m := stream.NewManager[models.Message](h.messages, scope, &sseTransport{w: w, flusher: flusher}, stream.Options{
		KeepAlive: h.keepAlive,
		Transport: "sse",
		Logger:    h.logger,
	})
	m.Start()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	m.Forward(r.Context())
}

func parseRoomID(raw string) (int64, error) {
	if raw == "" {
		return 0, &chat.ValidationError{Field: "room_id", Reason: "is required"}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &chat.ValidationError{Field: "room_id", Reason: "must be a positive integer"}
	}
	return id, nil
}

// sseTransport writes server-sent events.
type sseTransport struct {
	w       io.Writer
	flusher http.Flusher
}

func (t *sseTransport) Send(ctx context.Context, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(t.w, "event: message\nid: %d\ndata: %s\n\n", msg.ID, data); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *sseTransport) KeepAlive(ctx context.Context) error {
	if _, err := io.WriteString(t.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *sseTransport) Lagged(ctx context.Context, skipped uint64) error {
	if _, err := fmt.Fprintf(t.w, "event: lagged\ndata: {\"skipped\":%d}\n\n", skipped); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/parley/internal/chat"
	"github.com/eldtechnologies/parley/internal/metrics"
)

// CreateRoomRequest represents the room creation request.
type CreateRoomRequest struct {
	Participants []string `json:"participants"`
}

// AddParticipantRequest represents the join request.
type AddParticipantRequest struct {
	Identity string `json:"identity"`
}

// ListRooms returns every room ascending by id.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.ListRooms(r.Context())
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, rooms)
}

// CreateRoom creates a room with optional initial participants.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.Fail(w, r, err)
			return
		}
	}

	participants := make([]string, 0, len(req.Participants))
	for _, p := range req.Participants {
		identity, ok := cleanIdentity(p)
		if !ok {
			h.Error(w, http.StatusBadRequest, "participants must be 1-100 characters")
			return
		}
		participants = append(participants, identity)
	}

	room, err := h.store.CreateRoom(r.Context(), participants)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	metrics.RoomsCreated.Inc()

	h.JSON(w, http.StatusCreated, room)
}

// GetRoom returns one room.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDParam(r)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	room, err := h.store.GetRoom(r.Context(), id)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, room)
}

// AddParticipant adds an identity to a room. Adding an existing member is a no-op.
func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDParam(r)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	var req AddParticipantRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	identity, ok := cleanIdentity(req.Identity)
	if !ok {
		h.Error(w, http.StatusBadRequest, "identity must be 1-100 characters")
		return
	}

	room, err := h.store.AddParticipant(r.Context(), id, identity)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, room)
}

// DeleteRoom deletes a room together with its messages.
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDParam(r)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	if err := h.store.DeleteRoom(r.Context(), id); err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func roomIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &chat.ValidationError{Field: "room_id", Reason: "must be a positive integer"}
	}
	return id, nil
}

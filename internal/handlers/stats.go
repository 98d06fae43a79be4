package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalRooms    int64          `json:"total_rooms"`
	TotalMessages int64          `json:"total_messages"`
	Subscribers   map[string]int `json:"subscribers"`
	Started       string         `json:"started"`
}

// Stats returns room and message totals and live subscriber counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Stats(r.Context())
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalRooms:    st.Rooms,
		TotalMessages: st.Messages,
		Subscribers:   h.subscriberCounts(),
		Started:       formatTimeAgo(h.started),
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}

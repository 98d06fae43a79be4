package models

// Room represents a chat room and its participants in first-seen order.
type Room struct {
	ID           int64    `json:"id"`
	Participants []string `json:"participants"`
}

// HasParticipant reports whether identity is already a member of the room.
func (r *Room) HasParticipant(identity string) bool {
	for _, p := range r.Participants {
		if p == identity {
			return true
		}
	}
	return false
}

// UniqueParticipants returns identities with duplicates and blanks removed,
// preserving the order in which each identity was first seen.
func UniqueParticipants(identities []string) []string {
	seen := make(map[string]bool, len(identities))
	out := make([]string, 0, len(identities))
	for _, id := range identities {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

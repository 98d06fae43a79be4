package broadcast

import "strconv"

// Scope selects which published messages a subscription observes.
// The zero value is the global scope.
type Scope struct {
	room int64
}

// Global returns the scope that matches every message.
func Global() Scope {
	return Scope{}
}

// Room returns the scope restricted to one room.
func Room(id int64) Scope {
	return Scope{room: id}
}

// IsGlobal reports whether s is the global scope.
func (s Scope) IsGlobal() bool {
	return s.room == 0
}

// RoomID returns the room of a room scope, or 0 for the global scope.
func (s Scope) RoomID() int64 {
	return s.room
}

// Matches reports whether a message published under s is visible to a
// subscription with scope sub. Either side being global matches.
func (s Scope) Matches(sub Scope) bool {
	return s.IsGlobal() || sub.IsGlobal() || s.room == sub.room
}

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "room:" + strconv.FormatInt(s.room, 10)
}

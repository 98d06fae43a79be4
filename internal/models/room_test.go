package models

import (
	"reflect"
	"testing"
)

func TestUniqueParticipants_KeepsFirstSeenOrder(t *testing.T) {
	got := UniqueParticipants([]string{"bob", "alice", "bob", "", "carol", "alice"})
	want := []string{"bob", "alice", "carol"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestUniqueParticipants_EmptyInput(t *testing.T) {
	got := UniqueParticipants(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestRoom_HasParticipant(t *testing.T) {
	room := Room{ID: 1, Participants: []string{"alice"}}
	if !room.HasParticipant("alice") {
		t.Error("expected alice to be a participant")
	}
	if room.HasParticipant("bob") {
		t.Error("bob should not be a participant")
	}
}

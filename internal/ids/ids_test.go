package ids

import "testing"

func TestNewEventIDIsV7(t *testing.T) {
	id := NewEventID()
	if id.Version() != 7 {
		t.Fatalf("expected version 7, got %d", id.Version())
	}
	if NewEventID() == id {
		t.Fatal("event ids should differ")
	}
}

func TestNewConnectionIDSorts(t *testing.T) {
	a := NewConnectionID()
	b := NewConnectionID()
	if len(a) != 26 {
		t.Fatalf("expected 26 char ulid, got %q", a)
	}
	if a == b {
		t.Fatal("connection ids should differ")
	}
	if b < a {
		t.Fatalf("ids from one process should be monotonic: %s then %s", a, b)
	}
}

package session

import (
	"testing"
)

func TestCreate_AssignsDistinctIDs(t *testing.T) {
	r := NewRegistry()

	id1, err := r.Create("text", "c1", "c2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := r.Create("text", "c3", "c4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 == id2 {
		t.Fatal("session IDs must be unique")
	}
	if r.Count() != 2 {
		t.Errorf("expected 2 active sessions, got %d", r.Count())
	}
}

func TestCreate_RejectsSameConnection(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("text", "c1", "c1"); err == nil {
		t.Fatal("expected error pairing a connection with itself")
	}
}

func TestCreate_RejectsBusyConnection(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Create("text", "c1", "c2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Create("text", "c2", "c3"); err == nil {
		t.Fatal("expected error: c2 is already in a session")
	}
	if r.Count() != 1 {
		t.Errorf("failed create must not leave state behind, count=%d", r.Count())
	}
}

func TestFindByConn(t *testing.T) {
	r := NewRegistry()

	id, _ := r.Create("video", "c1", "c2")

	for _, conn := range []string{"c1", "c2"} {
		s, ok := r.FindByConn(conn)
		if !ok {
			t.Fatalf("expected session for %s", conn)
		}
		if s.ID != id {
			t.Errorf("expected session %s for %s, got %s", id, conn, s.ID)
		}
	}

	if _, ok := r.FindByConn("c3"); ok {
		t.Error("unexpected session for unpaired connection")
	}
}

func TestPartner(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Create("text", "c1", "c2")
	s, _ := r.Find(id)

	if got := s.Partner("c1"); got != "c2" {
		t.Errorf("Partner(c1) = %q, want c2", got)
	}
	if got := s.Partner("c2"); got != "c1" {
		t.Errorf("Partner(c2) = %q, want c1", got)
	}
	if got := s.Partner("c3"); got != "" {
		t.Errorf("Partner(c3) = %q, want empty", got)
	}
}

func TestEnd(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Create("text", "c1", "c2")

	ended, ok := r.End(id)
	if !ok {
		t.Fatal("expected End to succeed")
	}
	if ended.A != "c1" || ended.B != "c2" {
		t.Errorf("unexpected final state: %+v", ended)
	}

	// Ending releases both participants for new sessions.
	if _, ok := r.FindByConn("c1"); ok {
		t.Error("c1 still indexed after End")
	}
	if _, err := r.Create("text", "c1", "c2"); err != nil {
		t.Errorf("expected participants to be reusable after End: %v", err)
	}

	// Second End on the same id is a no-op.
	if _, ok := r.End(id); ok {
		t.Error("expected second End to report the session gone")
	}
}

func TestMarkReaction(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Create("text", "c1", "c2")

	if !r.MarkReaction(id, "c1|bob@campus.edu|like") {
		t.Fatal("first occurrence must be accepted")
	}
	if r.MarkReaction(id, "c1|bob@campus.edu|like") {
		t.Error("duplicate key must be rejected")
	}
	if !r.MarkReaction(id, "c1|bob@campus.edu|report") {
		t.Error("different kind is a different key")
	}

	if r.MarkReaction("no-such-session", "k") {
		t.Error("unknown session must be rejected")
	}

	// Ending the session drops its dedup state.
	r.End(id)
	if r.MarkReaction(id, "anything") {
		t.Error("ended session must reject reactions")
	}
}

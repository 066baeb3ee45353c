package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid profile message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Profile(t *testing.T) {
	input := []byte(`{"type":"profile","name":"Maya","email":"maya@campus.edu","interests":["music","chess"]}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeProfile {
		t.Fatalf("expected type %q, got %q", TypeProfile, msgType)
	}

	pm, ok := msg.(ProfileMsg)
	if !ok {
		t.Fatalf("expected ProfileMsg, got %T", msg)
	}
	if pm.Email != "maya@campus.edu" {
		t.Errorf("expected email %q, got %q", "maya@campus.edu", pm.Email)
	}
	if len(pm.Interests) != 2 {
		t.Fatalf("expected 2 interests, got %d", len(pm.Interests))
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid match_request message
// ---------------------------------------------------------------------------

func TestParseClientMessage_MatchRequest(t *testing.T) {
	input := []byte(`{"type":"match_request","mode":"video"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMatchRequest {
		t.Fatalf("expected type %q, got %q", TypeMatchRequest, msgType)
	}

	mm, ok := msg.(MatchRequestMsg)
	if !ok {
		t.Fatalf("expected MatchRequestMsg, got %T", msg)
	}
	if mm.Mode != "video" {
		t.Errorf("expected mode %q, got %q", "video", mm.Mode)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid chat message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"message","session_id":"abc-123","body":"Hello!","from":"Maya"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.SessionID != "abc-123" {
		t.Errorf("expected session_id %q, got %q", "abc-123", cm.SessionID)
	}
	if cm.Body != "Hello!" {
		t.Errorf("expected body %q, got %q", "Hello!", cm.Body)
	}
}

// ---------------------------------------------------------------------------
// Test: All three signaling types decode into SignalMsg
// ---------------------------------------------------------------------------

func TestParseClientMessage_Signaling(t *testing.T) {
	for _, typ := range []string{TypeOffer, TypeAnswer, TypeICE} {
		input := []byte(`{"type":"` + typ + `","session_id":"s-1","description":{"sdp":"v=0"}}`)

		msgType, msg, err := ParseClientMessage(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		if msgType != typ {
			t.Fatalf("expected type %q, got %q", typ, msgType)
		}

		sm, ok := msg.(SignalMsg)
		if !ok {
			t.Fatalf("%s: expected SignalMsg, got %T", typ, msg)
		}
		if sm.SessionID != "s-1" {
			t.Errorf("%s: expected session_id %q, got %q", typ, "s-1", sm.SessionID)
		}
		if len(sm.Description) == 0 {
			t.Errorf("%s: expected description to be captured", typ)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a reaction message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Reaction(t *testing.T) {
	input := []byte(`{"type":"reaction","session_id":"s-1","email":"bob@campus.edu","kind":"report"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeReaction {
		t.Fatalf("expected type %q, got %q", TypeReaction, msgType)
	}

	rm, ok := msg.(ReactionMsg)
	if !ok {
		t.Fatalf("expected ReactionMsg, got %T", msg)
	}
	if rm.Email != "bob@campus.edu" || rm.Kind != ReactionReport {
		t.Errorf("unexpected reaction payload: %+v", rm)
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed input handling
// ---------------------------------------------------------------------------

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"session_id":"s-1"}`)); err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":"teleport"}`)); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a paired server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_Paired(t *testing.T) {
	payload := PairedMsg{
		SessionID: "uuid-456",
		Mode:      "text",
		Partner:   PartnerView{Name: "Maya", Email: "maya@campus.edu", Interest: "music"},
		Initiator: true,
	}

	data, err := NewServerMessage(TypePaired, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypePaired {
		t.Errorf("expected type %q, got %v", TypePaired, result["type"])
	}
	if result["session_id"] != "uuid-456" {
		t.Errorf("expected session_id %q, got %v", "uuid-456", result["session_id"])
	}
	if result["initiator"] != true {
		t.Errorf("expected initiator true, got %v", result["initiator"])
	}

	partner, ok := result["partner"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected partner to be an object, got %T", result["partner"])
	}
	if partner["email"] != "maya@campus.edu" {
		t.Errorf("expected partner email %q, got %v", "maya@campus.edu", partner["email"])
	}
}

// ---------------------------------------------------------------------------
// Test: Type field is always injected, even over a zero payload field
// ---------------------------------------------------------------------------

func TestNewServerMessage_TypeInjected(t *testing.T) {
	data, err := NewServerMessage(TypePong, PongMsg{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypePong {
		t.Errorf("expected type %q, got %v", TypePong, result["type"])
	}
}

// ---------------------------------------------------------------------------
// Test: Reaction kind validation
// ---------------------------------------------------------------------------

func TestValidReactionKind(t *testing.T) {
	for _, kind := range []string{ReactionLike, ReactionDislike, ReactionReport} {
		if !ValidReactionKind(kind) {
			t.Errorf("expected %q to be valid", kind)
		}
	}
	for _, kind := range []string{"", "LIKE", "upvote"} {
		if ValidReactionKind(kind) {
			t.Errorf("expected %q to be invalid", kind)
		}
	}
}

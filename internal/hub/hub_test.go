package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/campuslink/match-server/internal/protocol"
)

// fakeTransport is a recording Transport double. onLivenessCheck, when set,
// runs before IsConnected answers, letting tests interleave teardown with a
// drain in progress.
type fakeTransport struct {
	mu              sync.Mutex
	sent            map[string][]map[string]interface{}
	gone            map[string]bool
	onLivenessCheck func(connID string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent: make(map[string][]map[string]interface{}),
		gone: make(map[string]bool),
	}
}

func (f *fakeTransport) SendMessage(connID string, data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent[connID] = append(f.sent[connID], m)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) IsConnected(connID string) bool {
	if f.onLivenessCheck != nil {
		f.onLivenessCheck(connID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.gone[connID]
}

func (f *fakeTransport) lastOfType(connID, msgType string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.sent[connID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == msgType {
			return msgs[i]
		}
	}
	return nil
}

func (f *fakeTransport) countOfType(connID, msgType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, m := range f.sent[connID] {
		if m["type"] == msgType {
			n++
		}
	}
	return n
}

func newTestHub() (*Hub, *fakeTransport) {
	tr := newFakeTransport()
	return New(Config{}, tr), tr
}

// pairUp registers two profiles, runs them through matchmaking, and returns
// the shared session id.
func pairUp(t *testing.T, h *Hub, tr *fakeTransport, a, b string) string {
	t.Helper()
	h.Profile(a, protocol.ProfileMsg{Name: a, Email: a + "@campus.edu"})
	h.Profile(b, protocol.ProfileMsg{Name: b, Email: b + "@campus.edu"})
	h.MatchRequest(a, protocol.MatchRequestMsg{Mode: "text"})
	h.MatchRequest(b, protocol.MatchRequestMsg{Mode: "text"})

	p := tr.lastOfType(a, "paired")
	if p == nil {
		t.Fatalf("expected %s to be paired", a)
	}
	return p["session_id"].(string)
}

func TestProfile_RequiresEmail(t *testing.T) {
	h, tr := newTestHub()

	h.Profile("c1", protocol.ProfileMsg{Name: "Maya"})

	errMsg := tr.lastOfType("c1", "error")
	if errMsg == nil || errMsg["code"] != "invalid_profile" {
		t.Fatalf("expected invalid_profile error, got %v", errMsg)
	}
	if _, ok := h.Identities.ProfileFor("c1"); ok {
		t.Error("profile without email must not be attached")
	}
}

func TestMatchRequest_InvalidMode(t *testing.T) {
	h, tr := newTestHub()
	h.Profile("c1", protocol.ProfileMsg{Email: "a@campus.edu"})

	h.MatchRequest("c1", protocol.MatchRequestMsg{Mode: "audio"})

	errMsg := tr.lastOfType("c1", "error")
	if errMsg == nil || errMsg["code"] != "invalid_mode" {
		t.Fatalf("expected invalid_mode error, got %v", errMsg)
	}
}

func TestMatchFlow_EndToEnd(t *testing.T) {
	h, tr := newTestHub()

	id := pairUp(t, h, tr, "c1", "c2")

	p2 := tr.lastOfType("c2", "paired")
	if p2 == nil || p2["session_id"] != id {
		t.Fatal("both peers must share the session id")
	}

	// Chat flows through with a server timestamp.
	h.Message("c1", protocol.ChatMsg{SessionID: id, Body: "hi", From: "c1"})
	msg := tr.lastOfType("c2", "message")
	if msg == nil {
		t.Fatal("expected relayed message")
	}
	if _, ok := msg["ts"].(float64); !ok {
		t.Error("relayed message must carry a server timestamp")
	}
}

func TestMessage_Validation(t *testing.T) {
	h, tr := newTestHub()
	id := pairUp(t, h, tr, "c1", "c2")

	h.Message("c1", protocol.ChatMsg{SessionID: "", Body: "hi"})
	if e := tr.lastOfType("c1", "error"); e == nil || e["code"] != "invalid_message" {
		t.Errorf("expected invalid_message for missing session_id, got %v", e)
	}

	h.Message("c1", protocol.ChatMsg{SessionID: id, Body: ""})
	if tr.countOfType("c1", "error") != 2 {
		t.Error("expected invalid_message for empty body")
	}
	if tr.lastOfType("c2", "message") != nil {
		t.Error("invalid messages must not reach the partner")
	}
}

func TestLeave_DistinguishesSessionEndedFromPartnerLeft(t *testing.T) {
	h, tr := newTestHub()
	id := pairUp(t, h, tr, "c1", "c2")

	h.Leave("c1", protocol.LeaveMsg{SessionID: id})

	// The leaver is told its own session ended; the partner that someone left.
	if m := tr.lastOfType("c1", "session_ended"); m == nil || m["session_id"] != id {
		t.Errorf("expected session_ended for the leaver, got %v", m)
	}
	if tr.lastOfType("c1", "partner_left") != nil {
		t.Error("the leaver must not receive partner_left")
	}
	if m := tr.lastOfType("c2", "partner_left"); m == nil || m["session_id"] != id {
		t.Errorf("expected partner_left for the partner, got %v", m)
	}
	if tr.lastOfType("c2", "session_ended") != nil {
		t.Error("the partner must not receive session_ended")
	}

	if h.Sessions.Count() != 0 {
		t.Error("session must be gone after leave")
	}
	// Leave also detaches the identity; a new profile is required to re-match.
	if _, ok := h.Identities.ProfileFor("c1"); ok {
		t.Error("expected identity detached after leave")
	}
}

func TestLeave_WithoutSessionID(t *testing.T) {
	h, tr := newTestHub()
	pairUp(t, h, tr, "c1", "c2")

	// The reverse index resolves the session when the client omits the id.
	h.Leave("c1", protocol.LeaveMsg{})

	if tr.lastOfType("c2", "partner_left") == nil {
		t.Fatal("expected partner_left via reverse lookup")
	}
	if h.Sessions.Count() != 0 {
		t.Error("session must be gone")
	}
}

func TestDisconnect_CleansEverything(t *testing.T) {
	h, tr := newTestHub()
	id := pairUp(t, h, tr, "c1", "c2")

	tr.gone["c1"] = true
	h.Disconnect("c1")

	// Exactly one partner_left; no session_ended to a dead socket.
	if tr.countOfType("c2", "partner_left") != 1 {
		t.Errorf("expected exactly one partner_left, got %d",
			tr.countOfType("c2", "partner_left"))
	}
	if tr.lastOfType("c1", "session_ended") != nil {
		t.Error("must not send session_ended to a disconnected socket")
	}

	if h.Sessions.Count() != 0 {
		t.Error("session must be gone after disconnect")
	}
	if _, ok := h.Identities.ProfileFor("c1"); ok {
		t.Error("identity must be detached after disconnect")
	}
	for mode, n := range h.QueueLengths() {
		if n != 0 {
			t.Errorf("queue %s not empty after disconnect: %d", mode, n)
		}
	}

	// Late frames referencing the dead session are silently dropped.
	before := len(tr.sent["c2"])
	h.Message("c2", protocol.ChatMsg{SessionID: id, Body: "ghost", From: "c2"})
	h.Typing("c2", protocol.TypingMsg{SessionID: id, IsTyping: true})
	if len(tr.sent["c2"]) != before {
		t.Error("expected no deliveries for the ended session")
	}
	if tr.lastOfType("c2", "error") != nil {
		t.Error("stale references must be dropped without an error")
	}
}

func TestDisconnect_WhileQueued(t *testing.T) {
	h, tr := newTestHub()

	h.Profile("c1", protocol.ProfileMsg{Email: "a@campus.edu"})
	h.MatchRequest("c1", protocol.MatchRequestMsg{Mode: "video"})

	h.Disconnect("c1")

	if n := h.QueueLengths()["video"]; n != 0 {
		t.Errorf("expected empty video queue, got %d", n)
	}

	// A later waiter must not be paired with the ghost.
	h.Profile("c2", protocol.ProfileMsg{Email: "b@campus.edu"})
	h.MatchRequest("c2", protocol.MatchRequestMsg{Mode: "video"})
	if tr.lastOfType("c2", "paired") != nil {
		t.Error("c2 must wait, the only other entry disconnected")
	}
}

func TestDisconnect_DuringDrainStillTearsDown(t *testing.T) {
	h, tr := newTestHub()

	h.Profile("c1", protocol.ProfileMsg{Email: "a@campus.edu"})
	h.Profile("c2", protocol.ProfileMsg{Email: "b@campus.edu"})
	h.MatchRequest("c1", protocol.MatchRequestMsg{Mode: "text"})

	// c2's transport dies while the drain is mid-pairing: its teardown
	// starts before the liveness check answers, but the answer is already
	// stale. The teardown must block on the drain lock, find the session
	// the drain created, and end it.
	var wg sync.WaitGroup
	var once sync.Once
	tr.onLivenessCheck = func(connID string) {
		if connID != "c2" {
			return
		}
		once.Do(func() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.Disconnect("c2")
			}()
			// Give the teardown goroutine time to reach the drain lock.
			time.Sleep(10 * time.Millisecond)
		})
	}

	h.MatchRequest("c2", protocol.MatchRequestMsg{Mode: "text"})
	wg.Wait()

	if n := h.Sessions.Count(); n != 0 {
		t.Fatalf("session containing a torn-down handle survived, count=%d", n)
	}
	if got := tr.countOfType("c1", "partner_left"); got != 1 {
		t.Errorf("expected exactly one partner_left for the survivor, got %d", got)
	}
	if _, ok := h.Identities.ProfileFor("c2"); ok {
		t.Error("identity must be detached after teardown")
	}
	for mode, n := range h.QueueLengths() {
		if n != 0 {
			t.Errorf("queue %s not empty, len=%d", mode, n)
		}
	}
}

func TestReaction_BanGatesRematch(t *testing.T) {
	h, tr := newTestHub()
	id := pairUp(t, h, tr, "c1", "c2")

	for i := 0; i < 3; i++ {
		h.Reaction("c1", protocol.ReactionMsg{
			SessionID: id, Email: "c2@campus.edu", Kind: "report",
		})
	}

	// The banned peer is notified on its live connection.
	notice := tr.lastOfType("c2", "banned")
	if notice == nil {
		t.Fatal("expected ban notice after three reports")
	}

	// And can no longer enter a queue.
	h.MatchRequest("c2", protocol.MatchRequestMsg{Mode: "text"})
	if tr.lastOfType("c2", "queued") != nil {
		t.Error("banned email must be rejected from matchmaking")
	}
	if tr.countOfType("c2", "banned") < 2 {
		t.Error("expected a ban notice on the rejected match request")
	}
}

func TestReaction_Validation(t *testing.T) {
	h, tr := newTestHub()
	id := pairUp(t, h, tr, "c1", "c2")

	h.Reaction("c1", protocol.ReactionMsg{SessionID: id, Email: "c2@campus.edu", Kind: "upvote"})
	if e := tr.lastOfType("c1", "error"); e == nil || e["code"] != "invalid_reaction" {
		t.Errorf("expected invalid_reaction, got %v", e)
	}

	h.Reaction("c1", protocol.ReactionMsg{Email: "c2@campus.edu", Kind: "like"})
	if tr.countOfType("c1", "error") != 2 {
		t.Error("expected invalid_reaction for missing session_id")
	}
}

func TestReputation_Lookup(t *testing.T) {
	h, tr := newTestHub()
	id := pairUp(t, h, tr, "c1", "c2")

	h.Reaction("c1", protocol.ReactionMsg{SessionID: id, Email: "C2@Campus.EDU", Kind: "like"})

	rec := h.Reputation("c2@campus.edu")
	if rec.Likes != 1 {
		t.Errorf("expected 1 like, got %+v", rec)
	}
	// Lookup normalizes the email the same way the ledger does.
	if rec2 := h.Reputation("C2@CAMPUS.edu"); rec2.Likes != 1 {
		t.Errorf("expected case-insensitive lookup, got %+v", rec2)
	}
	if h.Reputation("ghost@campus.edu").Banned {
		t.Error("unknown email must report a zero record")
	}
}

func TestSignal_RelayedBetweenPeers(t *testing.T) {
	h, tr := newTestHub()
	id := pairUp(t, h, tr, "c1", "c2")

	h.Signal("c1", protocol.TypeOffer, protocol.SignalMsg{
		SessionID:   id,
		Description: json.RawMessage(`{"sdp":"v=0"}`),
	})

	if tr.lastOfType("c2", "offer") == nil {
		t.Fatal("expected offer relayed to partner")
	}

	h.Signal("c2", protocol.TypeAnswer, protocol.SignalMsg{
		SessionID:   id,
		Description: json.RawMessage(`{"sdp":"v=0"}`),
	})
	if tr.lastOfType("c1", "answer") == nil {
		t.Fatal("expected answer relayed back")
	}
}

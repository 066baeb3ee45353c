// Package reputation keeps per-email like/dislike/report counters and the
// derived ban flag. An email is banned once it collects ReportThreshold
// reports or DislikeThreshold dislikes; the flag is monotonic, there is no
// unban path.
package reputation

import (
	"fmt"
	"sync"

	"github.com/campuslink/match-server/internal/identity"
)

const (
	// ReportThreshold is the number of reports that triggers a ban.
	ReportThreshold = 3

	// DislikeThreshold is the number of dislikes that triggers a ban.
	DislikeThreshold = 10
)

// Reaction kinds accepted by ApplyReaction.
const (
	KindLike    = "like"
	KindDislike = "dislike"
	KindReport  = "report"
)

// Record holds the reputation counters for one email. Counters never
// decrease and Banned never reverts to false.
type Record struct {
	Likes    uint
	Dislikes uint
	Reports  uint
	Banned   bool
}

// Ledger is a thread-safe table of reputation records keyed by normalized
// email. Records are created lazily on first mutation; reads never create.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{records: make(map[string]*Record)}
}

// Get returns the record for an email, or the zero-valued record if the
// email has never been seen. It never creates an entry.
func (l *Ledger) Get(email string) Record {
	email = identity.NormalizeEmail(email)

	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.records[email]; ok {
		return *r
	}
	return Record{}
}

// IsBanned reports whether the email has crossed a ban threshold.
func (l *Ledger) IsBanned(email string) bool {
	return l.Get(email).Banned
}

// Ensure creates a zero-valued record for the email if none exists. Called
// on profile registration so a record exists for the lifetime of the process.
func (l *Ledger) Ensure(email string) Record {
	email = identity.NormalizeEmail(email)

	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[email]
	if !ok {
		r = &Record{}
		l.records[email] = r
	}
	return *r
}

// ApplyReaction increments the counter matching kind, recomputes the ban
// flag, and returns the updated record. The second return value is true when
// this call flipped Banned from false to true; the caller must then fan out
// a ban notice and keep the email out of future queues.
//
// Repeated reactions are not deduplicated here; that is the relay layer's
// concern.
func (l *Ledger) ApplyReaction(email, kind string) (Record, bool, error) {
	email = identity.NormalizeEmail(email)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Validate before the lazy insert: a rejected reaction must not
	// materialize a record.
	switch kind {
	case KindLike, KindDislike, KindReport:
	default:
		var rec Record
		if r, ok := l.records[email]; ok {
			rec = *r
		}
		return rec, false, fmt.Errorf("reputation: unknown reaction kind %q", kind)
	}

	r, ok := l.records[email]
	if !ok {
		r = &Record{}
		l.records[email] = r
	}

	switch kind {
	case KindLike:
		r.Likes++
	case KindDislike:
		r.Dislikes++
	case KindReport:
		r.Reports++
	}

	flipped := false
	if !r.Banned && (r.Reports >= ReportThreshold || r.Dislikes >= DislikeThreshold) {
		r.Banned = true
		flipped = true
	}
	return *r, flipped, nil
}

package conversation

import (
	"sync"
	"time"

	"github.com/lumapay/paybot/internal/model/payment"
)

// chdVault holds raw cardholder data between the turn that captured it and
// the confirmation turn that tokenizes it. It is process-local and mutex
// guarded; nothing in it is ever serialized, persisted, or logged. Entries
// expire so abandoned sessions do not pin card data in memory.
type chdVault struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]vaultEntry
}

type vaultEntry struct {
	details   payment.CardDetails
	expiresAt time.Time
}

func newVault(ttl time.Duration) *chdVault {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &chdVault{ttl: ttl, m: make(map[string]vaultEntry)}
}

// update merges fields into the session's entry and refreshes its deadline.
func (v *chdVault) update(sessionID string, fn func(*payment.CardDetails)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.purgeLocked()

	entry := v.m[sessionID]
	fn(&entry.details)
	entry.expiresAt = time.Now().Add(v.ttl)
	v.m[sessionID] = entry
}

// peek returns the current details without extending their lifetime.
func (v *chdVault) peek(sessionID string) payment.CardDetails {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.purgeLocked()
	return v.m[sessionID].details
}

// take removes and returns the entry in one step. Exactly one of several
// concurrent confirmations can obtain the details, which is what bounds
// tokenization to a single provider call per session.
func (v *chdVault) take(sessionID string) (payment.CardDetails, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.purgeLocked()

	entry, ok := v.m[sessionID]
	if ok {
		delete(v.m, sessionID)
	}
	return entry.details, ok
}

// restore puts taken details back with a fresh deadline, used when a
// tokenization attempt failed in transport and the user may retry.
func (v *chdVault) restore(sessionID string, details payment.CardDetails) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[sessionID] = vaultEntry{details: details, expiresAt: time.Now().Add(v.ttl)}
}

// clear drops the entry; called on terminal transitions and after every
// tokenization attempt that consumed the data.
func (v *chdVault) clear(sessionID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.m, sessionID)
}

func (v *chdVault) purgeLocked() {
	now := time.Now()
	for id, entry := range v.m {
		if now.After(entry.expiresAt) {
			delete(v.m, id)
		}
	}
}

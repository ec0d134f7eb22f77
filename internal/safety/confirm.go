package safety

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// confirmTTL bounds how long a reboot/shutdown confirmation token stays
// valid. Long enough for an operator to re-issue the command, short
// enough that a stale token in a shell history is useless.
const confirmTTL = 5 * time.Minute

// pendingOp is an outstanding destructive request awaiting its second
// call.
type pendingOp struct {
	op        string
	createdAt time.Time
}

// ConfirmationTracker hands out single-use, time-limited tokens for the
// destructive system operations (reboot, shutdown). The first API call
// receives a token; only a second call presenting that token executes.
type ConfirmationTracker struct {
	mu     sync.Mutex
	tokens map[string]pendingOp
	now    func() time.Time
}

// NewConfirmationTracker returns an empty tracker.
func NewConfirmationTracker() *ConfirmationTracker {
	return &ConfirmationTracker{
		tokens: make(map[string]pendingOp),
		now:    time.Now,
	}
}

// Request records a pending operation and returns its opaque token.
func (ct *ConfirmationTracker) Request(op string) string {
	token := newToken()

	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.sweep()
	ct.tokens[token] = pendingOp{op: op, createdAt: ct.now()}
	return token
}

// Confirm consumes token and reports whether it was valid, unexpired,
// and issued for the same operation. Tokens are single-use either way.
func (ct *ConfirmationTracker) Confirm(op, token string) bool {
	if token == "" {
		return false
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	pending, ok := ct.tokens[token]
	if !ok {
		return false
	}
	delete(ct.tokens, token)

	if pending.op != op {
		return false
	}
	return ct.now().Sub(pending.createdAt) <= confirmTTL
}

// sweep drops expired tokens. Caller holds ct.mu.
func (ct *ConfirmationTracker) sweep() {
	for token, pending := range ct.tokens {
		if ct.now().Sub(pending.createdAt) > confirmTTL {
			delete(ct.tokens, token)
		}
	}
}

// newToken returns a 32-character hex token.
func newToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the kernel is in serious trouble;
		// a time-derived token at least keeps the daemon up.
		return hex.EncodeToString([]byte(time.Now().String()))[:32]
	}
	return hex.EncodeToString(b[:])
}

// Package latch implements the certification latch of spec.md section
// 4.7: a thread_id -> one-shot ticket map that parks originating session
// threads until their transaction's certification outcome is available.
//
// Tickets are built on github.com/glycerine/loquet, the teacher's typed
// one-shot channel (used as Message.DoneCh in the rpc25519 root package),
// which already gives idempotent, panic-free double-close -- exactly the
// "release must be idempotent-safe under spurious wakeups" requirement.
package latch

import (
	"fmt"
	"sync"

	"github.com/glycerine/loquet"

	"github.com/glycerine/groupcert/engine"
)

// Ticket is the one-shot handle a session thread waits on.
type Ticket struct {
	ch *loquet.Chan[engine.Outcome]
}

// Wait blocks until Release has been called for this ticket, then
// returns the delivered outcome. Calling Wait after Release has already
// happened returns the outcome immediately -- loquet.Chan's WhenClosed
// channel stays readable forever once closed.
func (t *Ticket) Wait() engine.Outcome {
	<-t.ch.WhenClosed()
	closeVal, _ := t.ch.Read()
	return *closeVal
}

// Latch is the thread_id -> Ticket registry.
type Latch struct {
	mu      sync.Mutex
	tickets map[int64]*Ticket
}

// New returns an empty Latch.
func New() *Latch {
	return &Latch{tickets: make(map[int64]*Ticket)}
}

// Register creates and returns a fresh ticket for threadID. It is an
// error to register a threadID that already has a pending ticket -- the
// originating session registers exactly once per transaction before it
// is certified; the certifier handler only calls Release.
func (l *Latch) Register(threadID int64) (*Ticket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.tickets[threadID]; exists {
		return nil, fmt.Errorf("latch: thread %d already has a pending ticket", threadID)
	}
	t := &Ticket{ch: loquet.NewChan[engine.Outcome](&engine.Outcome{})}
	l.tickets[threadID] = t
	return t, nil
}

// Release delivers outcome to threadID's ticket and removes it from the
// registry. Release on an unknown threadID is a silent no-op: the
// originating session may have already timed out and abandoned its
// ticket.
func (l *Latch) Release(threadID int64, outcome engine.Outcome) {
	l.mu.Lock()
	t, ok := l.tickets[threadID]
	if ok {
		delete(l.tickets, threadID)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	t.ch.CloseWith(&outcome)
}

// Pending reports how many tickets are currently outstanding, for status
// reporting.
func (l *Latch) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tickets)
}

// Package pipeline implements the composable handler chain of spec.md
// section 4.3: an ordered sequence of handlers, each tagged with a role
// and a uniqueness discipline, that catalogs, certifies, re-labels and
// applies events.
//
// Per spec.md section 9's design note, handlers forward explicitly by
// calling into the next handler rather than through embedded raw
// pointers: a Chain carries the remaining handler slice and each
// Handler.HandleEvent/HandleAction decides whether to call chain.Next or
// stop locally and signal the Continuation.
package pipeline

import (
	"fmt"

	"github.com/glycerine/loquet"

	"github.com/glycerine/groupcert/certdb"
	"github.com/glycerine/groupcert/engine"
	"github.com/glycerine/groupcert/gcs"
)

// Role tags which concern a handler implements, per spec.md section 4.3.
type Role int

const (
	RoleEventCataloger Role = iota
	RoleCertifier
	RoleApplier
)

func (r Role) String() string {
	switch r {
	case RoleEventCataloger:
		return "EVENT_CATALOGER"
	case RoleCertifier:
		return "CERTIFIER"
	case RoleApplier:
		return "APPLIER"
	default:
		return "UNKNOWN_ROLE"
	}
}

// EventKind discriminates the pipeline event envelope of spec.md section
// 3.
type EventKind int

const (
	KindTransactionContext EventKind = iota
	KindGIDLog
	KindViewChange
	KindPassthrough
)

// Event is the discriminated envelope every handler sees. Exactly one of
// the payload fields is populated, selected by Kind.
type Event struct {
	Kind EventKind

	// TRANSACTION_CONTEXT
	Txn *engine.TransactionEvent

	// GID_LOG
	GID engine.GID

	// VIEW_CHANGE
	ViewID string
	// CertSnapshot is attached by the certifier handler on VIEW_CHANGE,
	// for donors to hand to a joining recovery module.
	CertSnapshot *certdb.Snapshot

	// PASSTHROUGH
	Passthrough []byte
}

// Result is what a handler delivers to a Continuation once it has
// finished (or dropped) an event.
type Result struct {
	// Dropped is true when a handler deliberately ended processing
	// without an error -- e.g. a negatively certified remote
	// transaction, per spec.md section 4.5.
	Dropped bool
	Err     error
}

// Continuation is the single-shot synchronization primitive of spec.md
// section 4.3: built on github.com/glycerine/loquet's one-shot typed
// channel, the same primitive the teacher uses for Message.DoneCh in
// hdr.go, which already guarantees exactly-once, panic-free delivery.
type Continuation struct {
	ch *loquet.Chan[Result]
}

// NewContinuation returns a fresh, unsignaled Continuation.
func NewContinuation() *Continuation {
	return &Continuation{ch: loquet.NewChan[Result](&Result{})}
}

// Signal delivers result exactly once. A second Signal on the same
// Continuation is a caller bug; loquet.Chan.Close is idempotent against
// accidental double-close so this never panics, but only the first
// result is ever observed by Wait.
func (c *Continuation) Signal(result Result) {
	c.ch.CloseWith(&result)
}

// Wait blocks until Signal has been called and returns its result.
func (c *Continuation) Wait() Result {
	<-c.ch.WhenClosed()
	closeVal, _ := c.ch.Read()
	return *closeVal
}

// Action is a control-plane message distinct from data events, per
// spec.md section 4.3.
type ActionKind int

const (
	ActionStart ActionKind = iota
	ActionStop
	ActionApplierConfig
	ActionCertifierConfig
	ActionCertSnapshotInstall
	ActionViewChange
	ActionGCSInterfaces
)

// Action carries a control-plane message through the pipeline's
// HandleAction path.
type Action struct {
	Kind ActionKind

	// ActionViewChange
	View      gcs.View
	IsLeaving bool

	// ActionCertSnapshotInstall
	Snapshot *certdb.Snapshot

	// ActionApplierConfig / ActionCertifierConfig / ActionGCSInterfaces
	// carry an opaque configuration value the concrete handler knows
	// how to interpret; the pipeline package never inspects it.
	Config any
}

// Chain is the remaining slice of handlers a Handler forwards into.
type Chain struct {
	handlers []Handler
	idx      int
}

// Next invokes the next handler in the chain's HandleEvent, or -- if the
// chain is exhausted -- signals cont as done-without-error, since an
// event that fell off the end of the pipeline unconsumed is not itself
// an error (a PASSTHROUGH event with no interested handler, say).
func (c *Chain) Next(ev *Event, cont *Continuation) {
	if c.idx >= len(c.handlers) {
		cont.Signal(Result{})
		return
	}
	h := c.handlers[c.idx]
	c.idx++
	h.HandleEvent(ev, c, cont)
}

// NextAction invokes the next handler's HandleAction, or returns nil if
// the chain is exhausted.
func (c *Chain) NextAction(a Action) error {
	if c.idx >= len(c.handlers) {
		return nil
	}
	h := c.handlers[c.idx]
	c.idx++
	return h.HandleAction(a, c)
}

// Handler is the capability set every pipeline stage implements, per
// spec.md section 9's "polymorphic chain over the capability set"
// design note.
type Handler interface {
	Role() Role
	IsUnique() bool
	HandleEvent(ev *Event, next *Chain, cont *Continuation)
	HandleAction(a Action, next *Chain) error
}

// Pipeline is a named, fixed, ordered list of handlers.
type Pipeline struct {
	Name     string
	handlers []Handler
}

// New constructs a Pipeline from handlers in head-to-tail order,
// validating the uniqueness discipline of spec.md section 4.3: two
// unique handlers of the same role in one pipeline is a fatal
// configuration error.
func New(name string, handlers ...Handler) (*Pipeline, error) {
	seen := make(map[Role]bool)
	for _, h := range handlers {
		if h.IsUnique() {
			if seen[h.Role()] {
				return nil, fmt.Errorf("pipeline %q: duplicate unique handler for role %v", name, h.Role())
			}
			seen[h.Role()] = true
		}
	}
	return &Pipeline{Name: name, handlers: append([]Handler(nil), handlers...)}, nil
}

// Inject pushes ev through the pipeline from the head, returning the
// Continuation the caller should Wait on. The applier's main loop calls
// Inject twice per embedded engine event (its TRANSACTION_CONTEXT and
// the GID_LOG that follows it) and once per view change.
func (p *Pipeline) Inject(ev *Event) *Continuation {
	cont := NewContinuation()
	c := &Chain{handlers: p.handlers}
	c.Next(ev, cont)
	return cont
}

// Dispatch pushes an Action through the pipeline from the head.
func (p *Pipeline) Dispatch(a Action) error {
	c := &Chain{handlers: p.handlers}
	return c.NextAction(a)
}

// Handlers returns the pipeline's handler list, head first, for
// inspection (status reporting, tests).
func (p *Pipeline) Handlers() []Handler {
	return append([]Handler(nil), p.handlers...)
}

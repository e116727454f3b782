// Package applier implements the single serialized consumer of
// totally-ordered GCS messages described in spec.md section 4.4: it owns
// one worker goroutine that decodes packets, injects pipeline events, and
// handles suspend/resume/view-change.
//
// Lifecycle plumbing is built on github.com/glycerine/idem's Halter, the
// same ReqStop/Done idiom the teacher uses throughout rpc25519 and tube
// (e.g. Server/Client.Close, TubeNode.Halt): ReqStop is closed to request
// shutdown, Done is closed by the worker goroutine when it has actually
// exited, and terminate(timeout) times out on Done.Chan rather than
// blocking forever.
package applier

import (
	"fmt"
	"sync"
	"time"

	"github.com/glycerine/idem"

	"github.com/glycerine/groupcert/engine"
	"github.com/glycerine/groupcert/groupqueue"
	"github.com/glycerine/groupcert/pipeline"
)

// State is the applier lifecycle state of spec.md section 4.4.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateSuspended
	StateStopped
)

// PacketKind discriminates control packets from data packets in the
// applier's queue.
type PacketKind int

const (
	PacketData PacketKind = iota
	PacketTermination
	PacketSuspension
	PacketViewChange
)

// Packet is what GCS delivery and the control path push into the
// applier's queue.
type Packet struct {
	Kind PacketKind

	// PacketData: one or more concatenated engine events delivered in a
	// single GCS message.
	Events []*engine.TransactionEvent

	// PacketViewChange
	ViewID string
}

// Applier owns the consumer goroutine.
type Applier struct {
	Halt *idem.Halter

	queue    *groupqueue.Queue[Packet]
	pipeline *pipeline.Pipeline

	startBarrier *idem.IdemCloseChan

	mu        sync.Mutex
	state     State
	suspended bool
	inflight  int
	cond      *sync.Cond // guards suspended/inflight/state transitions
}

// New returns an Applier wired to pl, in state NOT_STARTED.
func New(pl *pipeline.Pipeline) *Applier {
	a := &Applier{
		Halt:         idem.NewHalter(),
		queue:        groupqueue.New[Packet](),
		pipeline:     pl,
		startBarrier: idem.NewIdemCloseChan(),
		state:        StateNotStarted,
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Start launches the consumer goroutine and blocks until it has actually
// entered RUNNING, per spec.md section 4.4's "callers that started it
// block until the edge is observed" and section 5's start-barrier note.
func (a *Applier) Start() {
	go a.run()
	<-a.startBarrier.Chan
}

func (a *Applier) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// State returns the current lifecycle state, for status reporting.
func (a *Applier) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Applier) run() {
	defer a.Halt.Done.Close()
	a.setState(StateRunning)
	a.startBarrier.Close()

	for {
		pkt, ok := a.queue.Pop()
		if !ok {
			return
		}
		switch pkt.Kind {
		case PacketTermination:
			a.setState(StateStopped)
			return
		case PacketSuspension:
			a.enterSuspension()
		case PacketViewChange:
			a.inject(&pipeline.Event{Kind: pipeline.KindViewChange, ViewID: pkt.ViewID})
		default:
			for _, ev := range pkt.Events {
				// Mirrors the engine's own binlog pairing (spec.md section
				// 4.5): a Transaction_context-like event is always
				// immediately followed by a GID-log-like event in the same
				// embedded-event window, whether or not the certifier
				// handler had anything to do with the latter.
				a.inject(&pipeline.Event{Kind: pipeline.KindTransactionContext, Txn: ev})
				a.inject(&pipeline.Event{Kind: pipeline.KindGIDLog})
			}
		}
	}
}

func (a *Applier) inject(ev *pipeline.Event) {
	a.mu.Lock()
	a.inflight++
	a.mu.Unlock()

	cont := a.pipeline.Inject(ev)
	cont.Wait()

	a.mu.Lock()
	a.inflight--
	a.cond.Broadcast()
	a.mu.Unlock()
}

// enterSuspension marks the applier suspended, wakes any waiter blocked
// in WaitForCompleteSuspension, then blocks the worker goroutine itself
// until Resume is called.
func (a *Applier) enterSuspension() {
	a.mu.Lock()
	a.state = StateSuspended
	a.suspended = true
	a.cond.Broadcast()
	for a.suspended {
		a.cond.Wait()
	}
	a.state = StateRunning
	a.mu.Unlock()
}

// Suspend enqueues a SUSPENSION control packet, per spec.md section 4.4 --
// recovery calls this, then WaitForCompleteSuspension.
func (a *Applier) Suspend() {
	a.queue.Push(Packet{Kind: PacketSuspension})
}

// WaitForCompleteSuspension returns only after (a) the worker goroutine
// has entered suspended==true and (b) every event injected before
// suspension has finished executing -- waited for on the applier's
// condition variable, which every finished injection broadcasts.
// It returns early with an error if abort fires first.
func (a *Applier) WaitForCompleteSuspension(abort <-chan struct{}) error {
	done := make(chan struct{})
	go func() {
		a.mu.Lock()
		for !(a.suspended && a.inflight == 0) {
			a.cond.Wait()
		}
		a.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-abort:
		return fmt.Errorf("applier: suspension wait aborted")
	}
}

// Resume wakes the suspended worker goroutine, per spec.md section 4.4.
func (a *Applier) Resume() {
	a.mu.Lock()
	a.suspended = false
	a.cond.Broadcast()
	a.mu.Unlock()
}

// ViewChange enqueues a VIEW_CHANGE control packet, synthesized by GCS's
// view-change callback.
func (a *Applier) ViewChange(viewID string) {
	a.queue.Push(Packet{Kind: PacketViewChange, ViewID: viewID})
}

// Deliver enqueues a data packet containing one or more concatenated
// engine events, as produced by a single GCS delivery.
func (a *Applier) Deliver(events ...*engine.TransactionEvent) {
	a.queue.Push(Packet{Kind: PacketData, Events: events})
}

// QueueDepth returns the number of packets not yet processed, for
// status.Status and recovery's drain-threshold poll.
func (a *Applier) QueueDepth() int {
	return a.queue.Size()
}

// Terminate requests the worker goroutine stop, interrupts any
// suspension wait, and waits up to timeout for it to actually exit. A
// second Terminate call after a successful one returns nil immediately,
// per spec.md section 8's idempotence property.
func (a *Applier) Terminate(timeout time.Duration) error {
	if a.Halt.Done.IsClosed() {
		return nil
	}
	a.Halt.ReqStop.Close()
	a.queue.Push(Packet{Kind: PacketTermination})
	// in case the worker is blocked inside enterSuspension, wake it so
	// it can observe the termination packet queued behind it once it
	// returns from suspension -- cooperative wakeup per spec.md section
	// 9, rather than an OS thread signal.
	a.Resume()

	select {
	case <-a.Halt.Done.Chan:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("applier: terminate timed out after %v", timeout)
	}
}

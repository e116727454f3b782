package handlers

import (
	"context"

	"github.com/glycerine/groupcert/certdb"
	"github.com/glycerine/groupcert/engine"
	"github.com/glycerine/groupcert/pipeline"
)

// ViewChangeFunc is notified of every VIEW_CHANGE event that reaches the
// tail of the pipeline, after the certifier handler has attached its
// certification snapshot -- the hook recovery uses to learn when its
// join view's snapshot has arrived (spec.md section 4.6's view-change
// interlock).
type ViewChangeFunc func(viewID string, snap *certdb.Snapshot)

// SQLApplyHandler is the SQL_APPLIER pipeline stage of spec.md section
// 4.5: the tail of the pipeline, responsible for replaying a remotely
// originated, positively certified transaction against the engine.
// Locally originated transactions never reach this stage -- the
// certifier handler ends the pipeline for them as soon as it has
// published their outcome to the certification latch, since the
// originating session already executed the work before certification.
type SQLApplyHandler struct {
	host engine.Host

	onViewChange ViewChangeFunc

	// pending carries a forwarded TRANSACTION_CONTEXT's body from that
	// event to the GID_LOG event immediately following it, same
	// single-flight reasoning as CertifierHandler.stashedGno.
	pending *engine.TransactionEvent
}

// NewSQLApplyHandler returns a SQLApplyHandler that replays against
// host. onViewChange may be nil.
func NewSQLApplyHandler(host engine.Host, onViewChange ViewChangeFunc) *SQLApplyHandler {
	return &SQLApplyHandler{host: host, onViewChange: onViewChange}
}

func (h *SQLApplyHandler) Role() pipeline.Role { return pipeline.RoleApplier }
func (h *SQLApplyHandler) IsUnique() bool      { return true }

func (h *SQLApplyHandler) HandleEvent(ev *pipeline.Event, next *pipeline.Chain, cont *pipeline.Continuation) {
	switch ev.Kind {
	case pipeline.KindTransactionContext:
		h.pending = ev.Txn
		next.Next(ev, cont)
	case pipeline.KindGIDLog:
		h.apply(ev, next, cont)
	case pipeline.KindViewChange:
		if h.onViewChange != nil {
			h.onViewChange(ev.ViewID, ev.CertSnapshot)
		}
		next.Next(ev, cont)
	default:
		next.Next(ev, cont)
	}
}

func (h *SQLApplyHandler) apply(ev *pipeline.Event, next *pipeline.Chain, cont *pipeline.Continuation) {
	txn := h.pending
	h.pending = nil
	if txn == nil {
		cont.Signal(pipeline.Result{})
		return
	}
	if err := h.host.ApplyTransaction(context.Background(), ev.GID, txn.Body); err != nil {
		cont.Signal(pipeline.Result{Err: err})
		return
	}
	next.Next(ev, cont)
}

func (h *SQLApplyHandler) HandleAction(a pipeline.Action, next *pipeline.Chain) error {
	return next.NextAction(a)
}

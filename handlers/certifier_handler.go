package handlers

import (
	"github.com/glycerine/groupcert/certifier"
	"github.com/glycerine/groupcert/engine"
	"github.com/glycerine/groupcert/latch"
	"github.com/glycerine/groupcert/pipeline"
)

// CertifierHandler is the CERTIFIER pipeline stage of spec.md section
// 4.5.
type CertifierHandler struct {
	localUUID string
	cert      *certifier.Certifier
	latch     *latch.Latch

	// stashedGno carries a positively-certified remote transaction's gno
	// from TRANSACTION_CONTEXT to the GID_LOG event immediately
	// following it in the same embedded-event window. The applier
	// injects events one at a time and waits for each to finish before
	// injecting the next, so a single field is safe here: there is
	// never more than one transaction in flight through this handler.
	stashedGno int64
}

// NewCertifierHandler returns a CertifierHandler for the node identified
// by localUUID.
func NewCertifierHandler(localUUID string, cert *certifier.Certifier, l *latch.Latch) *CertifierHandler {
	return &CertifierHandler{localUUID: localUUID, cert: cert, latch: l}
}

func (h *CertifierHandler) Role() pipeline.Role { return pipeline.RoleCertifier }
func (h *CertifierHandler) IsUnique() bool      { return true }

func (h *CertifierHandler) HandleEvent(ev *pipeline.Event, next *pipeline.Chain, cont *pipeline.Continuation) {
	switch ev.Kind {
	case pipeline.KindTransactionContext:
		h.handleTransactionContext(ev, next, cont)
	case pipeline.KindGIDLog:
		h.handleGIDLog(ev, next, cont)
	case pipeline.KindViewChange:
		snap := h.cert.GetCertificationInfo()
		ev.CertSnapshot = &snap
		next.Next(ev, cont)
	default:
		next.Next(ev, cont)
	}
}

func (h *CertifierHandler) handleTransactionContext(ev *pipeline.Event, next *pipeline.Chain, cont *pipeline.Continuation) {
	txn := ev.Txn
	gno, err := h.cert.Certify(txn.SnapshotVersion, txn.WriteSet)

	if txn.OriginUUID == h.localUUID {
		outcome := engine.Outcome{Err: err}
		if err == nil && gno > 0 {
			outcome.GID = engine.GID{ClusterSID: h.cert.ClusterSID(), GNO: gno}
		}
		h.latch.Release(txn.ThreadID, outcome)
		cont.Signal(pipeline.Result{Err: err})
		return
	}

	if err != nil || gno <= 0 {
		// remote origin, negative (or an internal certifier error):
		// silently drop, per spec.md section 4.5.
		cont.Signal(pipeline.Result{Dropped: true})
		return
	}

	h.stashedGno = gno
	next.Next(ev, cont)
}

func (h *CertifierHandler) handleGIDLog(ev *pipeline.Event, next *pipeline.Chain, cont *pipeline.Continuation) {
	if h.stashedGno == 0 {
		// nothing stashed: the TRANSACTION_CONTEXT immediately before this
		// GID_LOG was either locally originated (already ended the
		// pipeline at the certifier stage) or a remote transaction that
		// certified negatively (already dropped). Either way this GID_LOG
		// has no work to do and must not reach the apply stage with a
		// stale pending body.
		cont.Signal(pipeline.Result{Dropped: true})
		return
	}
	ev.GID = engine.GID{ClusterSID: h.cert.ClusterSID(), GNO: h.stashedGno}
	h.stashedGno = 0
	next.Next(ev, cont)
}

func (h *CertifierHandler) HandleAction(a pipeline.Action, next *pipeline.Chain) error {
	return next.NextAction(a)
}

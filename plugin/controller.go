package plugin

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/glycerine/groupcert/applier"
	"github.com/glycerine/groupcert/broadcaster"
	"github.com/glycerine/groupcert/certdb"
	"github.com/glycerine/groupcert/certifier"
	"github.com/glycerine/groupcert/engine"
	"github.com/glycerine/groupcert/gcs"
	"github.com/glycerine/groupcert/handlers"
	"github.com/glycerine/groupcert/latch"
	"github.com/glycerine/groupcert/member"
	"github.com/glycerine/groupcert/pipeline"
	"github.com/glycerine/groupcert/recovery"
	"github.com/glycerine/groupcert/status"
)

// Controller is the single entry point that wires the certification
// pipeline, applier, recovery, broadcaster, and member registry into one
// running component, matching the teacher's TubeNode as the thing
// cmd/groupcertctl drives.
type Controller struct {
	cfg  Config
	svc  gcs.Service
	host engine.Host

	registry *member.Registry
	cert     *certifier.Certifier
	latch    *latch.Latch
	pipeline *pipeline.Pipeline
	applier  *applier.Applier
	bcast    *broadcaster.Broadcaster

	mu      sync.Mutex
	running bool

	recoveryMu     sync.Mutex
	activeRecovery *recovery.Recovery
}

// New constructs a Controller wired for cfg, against svc and host. cfg
// should already have had SetDefaults/FinishConfig applied.
func New(cfg Config, svc gcs.Service, host engine.Host) (*Controller, error) {
	reg := member.New(cfg.LocalUUID)
	cert := certifier.New()
	l := latch.New()

	ctl := &Controller{
		cfg:      cfg,
		svc:      svc,
		host:     host,
		registry: reg,
		cert:     cert,
		latch:    l,
	}

	cat := handlers.NewCataloger(nil)
	ch := handlers.NewCertifierHandler(cfg.LocalUUID, cert, l)
	sa := handlers.NewSQLApplyHandler(host, ctl.onPipelineViewChange)
	pl, err := pipeline.New("groupcert", cat, ch, sa)
	if err != nil {
		return nil, Errorf(ErrPipelineError, "%v", err)
	}

	ctl.pipeline = pl
	ctl.applier = applier.New(pl)
	isOnline := func() bool { return reg.StatusOf(cfg.LocalUUID) == member.StatusOnline }
	ctl.bcast = broadcaster.New(host, svc, cfg.BroadcastInterval, isOnline, nil)
	return ctl, nil
}

// onPipelineViewChange routes a certification snapshot attached to a
// VIEW_CHANGE event to the currently running recovery attempt, if any.
func (ctl *Controller) onPipelineViewChange(viewID string, snap *certdb.Snapshot) {
	if snap == nil {
		return
	}
	ctl.recoveryMu.Lock()
	rec := ctl.activeRecovery
	ctl.recoveryMu.Unlock()
	if rec != nil {
		rec.DeliverSnapshot(*snap)
	}
}

// Start joins the group, seeds the certifier, and launches the applier
// and broadcaster threads. It is an error to call Start twice without an
// intervening Stop.
func (ctl *Controller) Start(ctx context.Context) error {
	ctl.mu.Lock()
	if ctl.running {
		ctl.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctl.running = true
	ctl.mu.Unlock()

	lastExecuted, err := ctl.host.GetLastExecutedGno(ctx, ctl.cfg.GroupName)
	if err != nil {
		return Errorf(ErrApplierInitError, "%v", err)
	}
	lastDelivered, err := ctl.host.GetLastDeliveredGno(ctx, ctl.cfg.GroupName)
	if err != nil {
		return Errorf(ErrApplierInitError, "%v", err)
	}
	ctl.cert.Init(lastExecuted, lastDelivered, ctl.cfg.GroupName)

	if snap, ok, err := loadSnapshot(ctl.cfg.SnapshotPath); err != nil {
		ctl.mu.Lock()
		ctl.running = false
		ctl.mu.Unlock()
		return Errorf(ErrSnapshotError, "load persisted snapshot: %v", err)
	} else if ok {
		ctl.cert.SetCertificationInfo(snap)
	}

	if err := ctl.svc.Join(ctx, ctl.cfg.GroupName, ctl); err != nil {
		ctl.mu.Lock()
		ctl.running = false
		ctl.mu.Unlock()
		return Errorf(ErrGcsJoinError, "%v", err)
	}

	ctl.applier.Start()
	ctl.bcast.Start()
	return nil
}

// Stop terminates the applier and broadcaster threads and leaves the
// group, each bounded by cfg.ComponentsStopTimeout.
func (ctl *Controller) Stop(ctx context.Context) error {
	ctl.mu.Lock()
	if !ctl.running {
		ctl.mu.Unlock()
		return nil
	}
	ctl.running = false
	ctl.mu.Unlock()

	timeout := ctl.cfg.ComponentsStopTimeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}

	if err := ctl.applier.Terminate(timeout); err != nil {
		return Errorf(ErrTimeout, "%v", err)
	}

	// Safe now that the applier has fully drained: no certify call can
	// race the snapshot read.
	if err := saveSnapshot(ctl.cfg.SnapshotPath, ctl.cert.GetCertificationInfo()); err != nil {
		return Errorf(ErrSnapshotError, "persist snapshot: %v", err)
	}

	if err := ctl.bcast.Stop(timeout); err != nil {
		return Errorf(ErrTimeout, "%v", err)
	}
	return ctl.svc.Leave(ctx)
}

// Status assembles the user-visible status record of spec.md section 7.
func (ctl *Controller) Status() status.Status {
	ctl.mu.Lock()
	running := ctl.running
	ctl.mu.Unlock()
	return status.Assemble(running, ctl.registry, ctl.cert, ctl.applier, status.TransportCounters{})
}

// txnWire is the on-the-wire shape of an engine.TransactionEvent carried
// by a PayloadTransaction message -- engine.TransactionEvent itself
// can't cross the GCS boundary as Go values, so the controller encodes
// it with github.com/goccy/go-json, the same fast drop-in the rest of
// this module uses for certdb/stableset payloads.
type txnWire struct {
	OriginUUID      string                 `json:"origin_uuid"`
	ThreadID        int64                  `json:"thread_id"`
	SnapshotVersion int64                  `json:"snapshot_version"`
	WriteSet        []engine.WriteSetItem  `json:"write_set"`
	Body            []byte                 `json:"body"`
}

// EncodeTransaction serializes a transaction event for broadcast as
// gcs.PayloadTransaction.
func EncodeTransaction(ev *engine.TransactionEvent) ([]byte, error) {
	w := txnWire{
		OriginUUID:      ev.OriginUUID,
		ThreadID:        ev.ThreadID,
		SnapshotVersion: ev.SnapshotVersion,
		WriteSet:        ev.WriteSet,
		Body:            ev.Body,
	}
	return json.Marshal(w)
}

func decodeTransaction(payload []byte) (*engine.TransactionEvent, error) {
	var w txnWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	return &engine.TransactionEvent{
		OriginUUID:      w.OriginUUID,
		ThreadID:        w.ThreadID,
		SnapshotVersion: w.SnapshotVersion,
		WriteSet:        w.WriteSet,
		Body:            w.Body,
	}, nil
}

// OnMessage implements gcs.Callbacks. Per spec.md section 5, GCS
// callback contexts must not block on cluster-wide operations; this
// only decodes and pushes into the applier's queue or updates in-memory
// state under a short-held lock.
func (ctl *Controller) OnMessage(payloadType gcs.PayloadType, payload []byte, senderUUID string) {
	switch payloadType {
	case gcs.PayloadTransaction:
		ev, err := decodeTransaction(payload)
		if err != nil {
			return
		}
		ctl.applier.Deliver(ev)
	case gcs.PayloadCertificationEvent:
		ctl.cert.HandleCertifierData(senderUUID, payload)
	case gcs.PayloadRecoveryEnd:
		uuid, err := recovery.DecodeRecoveryEnd(payload)
		if err != nil {
			return
		}
		ctl.registry.SetStatus(uuid, member.StatusOnline)
	}
}

// OnView implements gcs.Callbacks.
func (ctl *Controller) OnView(view gcs.View) {
	prev, hadPrev := ctl.registry.View()
	ctl.registry.InstallView(view)
	ctl.cert.HandleViewChange(ctl.registry.MemberUUIDs())
	ctl.applier.ViewChange(view.ID)

	if hadPrev {
		for _, m := range prev.Members {
			if _, ok := view.ByUUID(m.UUID); !ok {
				ctl.recoveryMu.Lock()
				rec := ctl.activeRecovery
				ctl.recoveryMu.Unlock()
				if rec != nil {
					rec.DonorLeft(m.UUID)
				}
			}
		}
	}

	// spec.md section 8's boundary behavior: a view change that leaves
	// only the local member terminates any in-flight recovery rather
	// than let it hunt for a donor that can never appear.
	if ctl.registry.SoleMember() {
		ctl.recoveryMu.Lock()
		rec := ctl.activeRecovery
		ctl.recoveryMu.Unlock()
		if rec != nil {
			rec.Halt.ReqStop.Close()
		}
		return
	}

	if local, ok := view.Local(); ok && ctl.registry.StatusOf(local.UUID) != member.StatusOnline {
		ctl.beginRecovery(view.ID)
	}
}

// OnExchangedData implements gcs.Callbacks. groupcert does not itself
// need per-member metadata beyond what the view already carries; hosts
// that exchange extra data (e.g. advertised host/port) can subclass
// Controller's wiring to consume it.
func (ctl *Controller) OnExchangedData(byMember map[string][]byte) {}

func (ctl *Controller) beginRecovery(viewID string) {
	ctl.recoveryMu.Lock()
	if ctl.activeRecovery != nil {
		ctl.recoveryMu.Unlock()
		return
	}
	ctl.registry.SetStatus(ctl.cfg.LocalUUID, member.StatusRecovering)
	rec := recovery.New(recovery.Config{
		LocalUUID:             ctl.cfg.LocalUUID,
		RecoveryUser:          ctl.cfg.RecoveryUser,
		RecoveryPassword:      ctl.cfg.RecoveryPassword,
		MaxConnectionAttempts: ctl.cfg.RecoveryRetryCount,
	}, ctl.applier, ctl.registry, ctl.cert, ctl.svc, ctl.host)
	ctl.activeRecovery = rec
	ctl.recoveryMu.Unlock()

	go func() {
		rec.Run(context.Background(), viewID)
		ctl.recoveryMu.Lock()
		ctl.activeRecovery = nil
		ctl.recoveryMu.Unlock()
	}()
}

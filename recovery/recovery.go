// Package recovery implements the joiner recovery state machine of
// spec.md section 4.6: suspend the applier, pick a donor, drive the
// engine's replication-thread API against it until the join view's
// certification snapshot arrives, install it, resume, drain, and
// announce ONLINE.
package recovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/glycerine/idem"

	"github.com/glycerine/groupcert/applier"
	"github.com/glycerine/groupcert/certdb"
	"github.com/glycerine/groupcert/engine"
	"github.com/glycerine/groupcert/gcs"
	"github.com/glycerine/groupcert/member"
)

// State is the recovery state machine's current state, per spec.md
// section 4.6's diagram.
type State int

const (
	StateIdle State = iota
	StateSuspendApplier
	StateSelectDonor
	StateConnectDonor
	StateStreaming
	StateInstallSnapshot
	StateResumeApplier
	StateDrain
	StateAnnounceOnline
	StateFailover
	StateAbort
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSuspendApplier:
		return "SUSPEND_APPLIER"
	case StateSelectDonor:
		return "SELECT_DONOR"
	case StateConnectDonor:
		return "CONNECT_DONOR"
	case StateStreaming:
		return "STREAMING"
	case StateInstallSnapshot:
		return "INSTALL_SNAPSHOT"
	case StateResumeApplier:
		return "RESUME_APPLIER"
	case StateDrain:
		return "DRAIN"
	case StateAnnounceOnline:
		return "ANNOUNCE_ONLINE"
	case StateFailover:
		return "FAILOVER"
	case StateAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Config parameters the engine/plugin layer supplies.
type Config struct {
	LocalUUID             string
	RecoveryUser          string
	RecoveryPassword      string
	SSL                   bool
	HeartbeatSeconds      float64
	MaxConnectionAttempts int // recovery_retry_count; 0 == unlimited within the currently-available donor set
	DrainThreshold        int // default 0
	DrainPollInterval     time.Duration
}

// DefaultDrainPollInterval is used when Config.DrainPollInterval is <= 0.
const DefaultDrainPollInterval = 50 * time.Millisecond

// Recovery drives one joiner's recovery attempt.
type Recovery struct {
	Halt *idem.Halter

	cfg      Config
	applier  *applier.Applier
	registry *member.Registry
	cert     installer
	svc      gcs.Service
	host     engine.Host

	mu    sync.Mutex
	state State

	donorMu          sync.Mutex
	rejected         map[string]bool
	attempts         int
	currentDonor     string
	transferFinished bool

	snapshotCh chan certdb.Snapshot
	abortCh    chan error
}

// installer is the subset of certifier.Certifier recovery needs,
// narrowed so this package doesn't import certifier directly and create
// a cycle risk as the two packages grow.
type installer interface {
	SetCertificationInfo(s certdb.Snapshot)
}

// New returns a Recovery ready to drive one join attempt.
func New(cfg Config, a *applier.Applier, reg *member.Registry, cert installer, svc gcs.Service, host engine.Host) *Recovery {
	if cfg.DrainPollInterval <= 0 {
		cfg.DrainPollInterval = DefaultDrainPollInterval
	}
	return &Recovery{
		Halt:       idem.NewHalter(),
		cfg:        cfg,
		applier:    a,
		registry:   reg,
		cert:       cert,
		svc:        svc,
		host:       host,
		rejected:   make(map[string]bool),
		snapshotCh: make(chan certdb.Snapshot, 1),
		abortCh:    make(chan error, 1),
	}
}

func (r *Recovery) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// State returns the current state, for status reporting.
func (r *Recovery) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CurrentDonor returns the uuid of the donor the current attempt is
// connected to (or was last connected to), for status reporting and
// tests.
func (r *Recovery) CurrentDonor() string {
	r.donorMu.Lock()
	defer r.donorMu.Unlock()
	return r.currentDonor
}

// DeliverSnapshot is called by the certifier/applier wiring once the
// VIEW_CHANGE event for this joiner's join view has been observed in
// the donor stream, carrying the certification snapshot attached to
// that marker (spec.md section 4.6's view-change interlock). It is a
// no-op once a snapshot has already been delivered for this attempt.
func (r *Recovery) DeliverSnapshot(snap certdb.Snapshot) {
	select {
	case r.snapshotCh <- snap:
	default:
	}
}

// DonorLeft is called by the view-change callback path when a member
// leaves the group; if it was the current donor mid-stream, this
// triggers FAILOVER per spec.md section 4.6.
func (r *Recovery) DonorLeft(uuid string) {
	r.donorMu.Lock()
	defer r.donorMu.Unlock()
	if r.currentDonor != uuid || r.State() != StateStreaming {
		return
	}
	if r.transferFinished {
		// the transfer already completed; downgrade to a no-op, per
		// spec.md section 4.6's failover-vs-finish race.
		return
	}
	r.setState(StateFailover)
	r.rejected[uuid] = true
	select {
	case r.abortCh <- errDonorLeft:
	default:
	}
}

var errDonorLeft = fmt.Errorf("recovery: current donor left the group")

// Run drives the full state machine for one join attempt against
// viewID, blocking until the joiner reaches ONLINE or recovery aborts.
// Callers run it in its own goroutine, per spec.md section 4.6's "a
// single state machine per joiner, driven by a dedicated thread".
func (r *Recovery) Run(ctx context.Context, viewID string) error {
	defer r.Halt.Done.Close()

	r.setState(StateSuspendApplier)
	r.applier.Suspend()
	if err := r.applier.WaitForCompleteSuspension(r.Halt.ReqStop.Chan); err != nil {
		return r.abort(ctx, err)
	}

	bo := newBackoff(defaultBackoffConfig)

	for {
		r.setState(StateSelectDonor)
		donor, err := r.selectDonor()
		if err != nil {
			return r.abort(ctx, err)
		}

		r.donorMu.Lock()
		r.currentDonor = donor.UUID
		r.transferFinished = false
		r.donorMu.Unlock()

		r.setState(StateConnectDonor)
		if err := r.connectDonor(ctx, viewID, donor); err != nil {
			r.donorMu.Lock()
			r.rejected[donor.UUID] = true
			r.attempts++
			attempts := r.attempts
			r.donorMu.Unlock()
			if r.cfg.MaxConnectionAttempts > 0 && attempts >= r.cfg.MaxConnectionAttempts {
				return r.abort(ctx, fmt.Errorf("recovery: exhausted connection attempts: %w", err))
			}
			select {
			case <-time.After(bo.next()):
				continue
			case <-ctx.Done():
				return r.abort(ctx, ctx.Err())
			case <-r.Halt.ReqStop.Chan:
				return r.abort(ctx, fmt.Errorf("recovery: stop requested"))
			}
		}
		bo.reset()

		r.setState(StateStreaming)
		snap, err := r.awaitSnapshot(ctx)
		if err == errDonorLeft {
			continue // loop back to SELECT_DONOR with the failed donor rejected
		}
		if err != nil {
			return r.abort(ctx, err)
		}

		r.donorMu.Lock()
		r.transferFinished = true
		r.donorMu.Unlock()

		r.setState(StateInstallSnapshot)
		r.cert.SetCertificationInfo(snap)

		r.setState(StateResumeApplier)
		r.applier.Resume()

		r.setState(StateDrain)
		if err := r.drain(ctx); err != nil {
			return r.abort(ctx, err)
		}

		r.setState(StateAnnounceOnline)
		if err := r.announceOnline(ctx); err != nil {
			return r.abort(ctx, err)
		}

		r.setState(StateIdle)
		return nil
	}
}

// selectDonor iterates the current view, preferring an ONLINE,
// non-local, non-rejected member. If none qualifies, the rejected set
// is reset once and retried, per spec.md section 4.6.
func (r *Recovery) selectDonor() (gcs.Member, error) {
	pick := func() (gcs.Member, bool) {
		view, ok := r.registry.View()
		if !ok {
			return gcs.Member{}, false
		}
		r.donorMu.Lock()
		defer r.donorMu.Unlock()
		for _, m := range view.Members {
			if m.UUID == r.cfg.LocalUUID {
				continue
			}
			if r.rejected[m.UUID] {
				continue
			}
			if r.registry.StatusOf(m.UUID) == member.StatusOnline {
				return m, true
			}
		}
		return gcs.Member{}, false
	}

	if m, ok := pick(); ok {
		return m, nil
	}
	r.donorMu.Lock()
	r.rejected = make(map[string]bool)
	r.donorMu.Unlock()
	if m, ok := pick(); ok {
		return m, nil
	}
	return gcs.Member{}, fmt.Errorf("recovery: no eligible donor found")
}

func (r *Recovery) connectDonor(ctx context.Context, viewID string, donor gcs.Member) error {
	if err := r.host.InitializeRepositories(ctx, engine.RepositoryGCSRecovery, 0); err != nil {
		return err
	}
	if err := r.host.InitializeConnectionParameters(ctx, donor.Host, donor.Port, r.cfg.RecoveryUser, r.cfg.RecoveryPassword, r.cfg.SSL, r.cfg.HeartbeatSeconds); err != nil {
		return err
	}
	if err := r.host.InitializeViewIDUntilCondition(ctx, viewID); err != nil {
		return err
	}
	return r.host.StartReplicationThreads(ctx, engine.ThreadIO|engine.ThreadSQL, true)
}

func (r *Recovery) awaitSnapshot(ctx context.Context) (certdb.Snapshot, error) {
	select {
	case snap := <-r.snapshotCh:
		return snap, nil
	case err := <-r.abortCh:
		return certdb.Snapshot{}, err
	case <-ctx.Done():
		return certdb.Snapshot{}, ctx.Err()
	case <-r.Halt.ReqStop.Chan:
		return certdb.Snapshot{}, fmt.Errorf("recovery: stop requested")
	}
}

func (r *Recovery) drain(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.DrainPollInterval)
	defer ticker.Stop()
	for {
		if r.applier.QueueDepth() <= r.cfg.DrainThreshold {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-r.Halt.ReqStop.Chan:
			return fmt.Errorf("recovery: stop requested during drain")
		}
	}
}

// EncodeRecoveryEnd builds the RECOVERY_END_MESSAGE wire format of
// spec.md section 6: [message_type=RECOVERY_END][uuid_length:4][uuid_bytes].
func EncodeRecoveryEnd(uuid string) []byte {
	buf := make([]byte, 1+4+len(uuid))
	buf[0] = byte(gcs.PayloadRecoveryEnd)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(uuid)))
	copy(buf[5:], uuid)
	return buf
}

// DecodeRecoveryEnd parses a RECOVERY_END_MESSAGE payload (the bytes
// after the GCS payload-type envelope has already dispatched on
// gcs.PayloadRecoveryEnd).
func DecodeRecoveryEnd(payload []byte) (uuid string, err error) {
	if len(payload) < 5 {
		return "", fmt.Errorf("recovery: short RECOVERY_END_MESSAGE")
	}
	n := binary.BigEndian.Uint32(payload[1:5])
	if uint32(len(payload)-5) < n {
		return "", fmt.Errorf("recovery: truncated RECOVERY_END_MESSAGE")
	}
	return string(payload[5 : 5+n]), nil
}

func (r *Recovery) announceOnline(ctx context.Context) error {
	msg := EncodeRecoveryEnd(r.cfg.LocalUUID)
	if err := r.svc.Broadcast(ctx, gcs.PayloadRecoveryEnd, msg); err != nil {
		return err
	}
	r.registry.SetStatus(r.cfg.LocalUUID, member.StatusOnline)
	return nil
}

func (r *Recovery) abort(ctx context.Context, cause error) error {
	r.setState(StateAbort)
	_ = r.svc.Leave(ctx)
	return cause
}

// Package certifier implements the conflict-detection state machine of
// spec.md section 4.2: write-set-based optimistic concurrency control
// under Snapshot Isolation, with a monotonic sequence number owned
// exclusively by this package.
package certifier

import (
	"fmt"
	"sync"

	"github.com/glycerine/groupcert/certdb"
	"github.com/glycerine/groupcert/engine"
	"github.com/glycerine/groupcert/stableset"
)

// NegativeSentinel is returned by Certify on internal error -- e.g. not
// initialized -- per spec.md section 4.2. It is distinct from the
// negative-but-not-error value 0.
const NegativeSentinel int64 = -1

// Certifier owns the certification database, the stable-set tracker, and
// next_seqno. Certify calls are serialized by mu: spec.md section 4.2
// requires that "no two concurrent certify calls may interleave", and in
// this design the applier is the pipeline's only caller anyway (spec.md
// section 5, ordering guarantee 2), so mu mostly just makes the donor
// snapshot export/install paths safe to call concurrently with certify.
// The garbage-collection path (HandleCertifierData) does not take mu; it
// relies on certdb.DB's and stableset.Tracker's own locks.
type Certifier struct {
	mu sync.Mutex

	db         *certdb.DB
	stable     *stableset.Tracker
	clusterSID string
	nextSeqno  int64
	ready      bool

	positiveCount int64
	negativeCount int64
}

// New returns a Certifier that is not yet ready to certify; call Init
// first.
func New() *Certifier {
	return &Certifier{
		db:     certdb.New(),
		stable: stableset.New(),
	}
}

// Init sets next_seqno = 1 + max(lastExecutedGno, lastDeliveredGno) and
// must be called before any Certify, per spec.md section 4.2.
func (c *Certifier) Init(lastExecutedGno, lastDeliveredGno int64, clusterSID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hi := lastExecutedGno
	if lastDeliveredGno > hi {
		hi = lastDeliveredGno
	}
	c.nextSeqno = hi + 1
	c.clusterSID = clusterSID
	c.ready = true
}

// Certify validates writeSet against snapshotVersion and either
// positively certifies (returning the assigned gno and mutating the
// database and next_seqno atomically) or negatively certifies (returning
// 0, no mutation). Returns NegativeSentinel if the certifier has not been
// initialized. write_set == nil is treated as an empty write-set, which
// always certifies positively per spec.md section 8's boundary behavior,
// not an error -- only a nil *slice with a non-nil sentinel distinguishes
// "no items" from "caller forgot to build a write-set", and Go's nil
// slice already reads as "no items" idiomatically.
func (c *Certifier) Certify(snapshotVersion int64, writeSet []engine.WriteSetItem) (gno int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		return NegativeSentinel, fmt.Errorf("certifier: Certify called before Init")
	}

	fps := make([]certdb.Fingerprint, len(writeSet))
	for i, item := range writeSet {
		fps[i] = certdb.FingerprintOf(item)
		if last, ok := c.db.Get(fps[i]); ok && last > snapshotVersion {
			c.negativeCount++
			return 0, nil
		}
	}

	gno = c.nextSeqno
	for _, fp := range fps {
		c.db.Set(fp, gno)
	}
	c.nextSeqno++
	c.positiveCount++
	return gno, nil
}

// ClusterSID returns the cluster identifier Init was called with.
func (c *Certifier) ClusterSID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clusterSID
}

// NextSeqno returns the current value of next_seqno, for status
// reporting.
func (c *Certifier) NextSeqno() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSeqno
}

// Counts returns the running positive/negative certification counters
// for status.Status.
func (c *Certifier) Counts() (positive, negative int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positiveCount, c.negativeCount
}

// DBSize returns the number of fingerprints currently tracked, for
// status.Status.
func (c *Certifier) DBSize() int {
	return c.db.Len()
}

// GetCertificationInfo returns an atomic snapshot of the certification
// database paired with next_seqno, for donor export during recovery
// (spec.md section 4.2).
func (c *Certifier) GetCertificationInfo() certdb.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Export(c.nextSeqno)
}

// SetCertificationInfo replaces the certification database and
// next_seqno wholesale. Per spec.md section 4.2, this is allowed only
// while the applier is suspended -- the caller (recovery) is responsible
// for that precondition; Certifier itself just performs the swap under
// its own lock so a concurrent status read never observes a half-written
// snapshot.
func (c *Certifier) SetCertificationInfo(s certdb.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.db.Install(s)
	c.nextSeqno = s.NextSeqno
}

// HandleCertifierData queues one member's encoded executed-set and runs
// garbage collection once every known member has contributed to the
// current round, per spec.md section 4.2.
func (c *Certifier) HandleCertifierData(memberUUID string, payload []byte) (gcRan bool, removed int, err error) {
	completed, err := c.stable.HandleCertifierData(memberUUID, payload)
	if err != nil || !completed {
		return false, 0, err
	}
	sid := c.ClusterSID()
	isStable := func(gno int64) bool {
		return c.stable.Contains(engine.GID{ClusterSID: sid, GNO: gno})
	}
	removed = c.db.GarbageCollect(isStable)
	return true, removed, nil
}

// HandleViewChange drops any half-complete intersection round and
// re-seeds the stable-set tracker's known-member list from the new view.
func (c *Certifier) HandleViewChange(memberUUIDs []string) {
	c.stable.HandleViewChange(memberUUIDs)
}

// StableSetSize returns the current stable set's cardinality, for
// status.Status.
func (c *Certifier) StableSetSize() int {
	return c.stable.Len()
}

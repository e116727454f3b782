// Package engine describes the host database engine that this module
// consumes but does not implement: the source of transaction events with
// declared write-sets and snapshot versions, and the target that replays
// them and that owns the replication-thread machinery recovery drives.
//
// Everything here is data or an interface; the storage engine, its binlog
// event model, and its thread API all live outside this module.
package engine

import "context"

// WriteSetItem is one opaque fingerprint-able unit a transaction touched.
// The core never interprets the bytes; it only hashes them for use as a
// certdb.Fingerprint key.
type WriteSetItem []byte

// GID is a global transaction identifier: a cluster id paired with a
// monotonic sequence number assigned by the certifier at positive
// certification time.
type GID struct {
	ClusterSID string
	GNO        int64
}

// IsZero reports whether g has never been assigned.
func (g GID) IsZero() bool {
	return g.GNO == 0 && g.ClusterSID == ""
}

// TransactionEvent is the opaque payload the core replicates: it is
// produced by GCS delivery and its Body is replayed verbatim by the apply
// handler. The GID assigned on positive certification travels on the
// GID_LOG pipeline event that follows it (pipeline.Event.GID); the
// pipeline does not write this struct's GID field.
type TransactionEvent struct {
	OriginUUID      string
	ThreadID        int64
	SnapshotVersion int64
	WriteSet        []WriteSetItem
	Body            []byte
	GID             GID
}

// Outcome is what the certifier hands back to the originating session
// thread via the certification latch: a positive GID to commit with, or
// a zero GID meaning rollback. See spec.md section 9, open question 2.
type Outcome struct {
	GID GID
	Err error
}

// Committed reports whether this outcome represents a successful
// certification (gno > 0) as opposed to a rollback or error.
func (o Outcome) Committed() bool {
	return o.Err == nil && o.GID.GNO > 0
}

// Host is the engine surface groupcert consumes: committing or rolling
// back originating sessions, reading local execution state, and driving
// the point-to-point replication threads recovery uses to stream from a
// donor.
type Host interface {
	// GetExecutedGTIDSet returns the locally executed GID set, used by
	// the stable-set broadcaster.
	GetExecutedGTIDSet(ctx context.Context) (map[GID]struct{}, error)
	// GetLastExecutedGno returns the highest gno this node has executed
	// for the given cluster sid, used to seed the certifier's
	// next_seqno on (re)join.
	GetLastExecutedGno(ctx context.Context, clusterSID string) (int64, error)
	// GetLastDeliveredGno returns the highest gno this node has seen
	// delivered (possibly not yet applied), also used to seed
	// next_seqno.
	GetLastDeliveredGno(ctx context.Context, clusterSID string) (int64, error)
	// SetTransactionCtx delivers a certification outcome to the
	// originating session so it can commit or roll back.
	SetTransactionCtx(ctx context.Context, threadID int64, outcome Outcome) error
	// IsOwnEventChannel reports whether threadID belongs to a session
	// local to this node (as opposed to a donor/applier thread).
	IsOwnEventChannel(threadID int64) bool
	// ApplyTransaction replays body verbatim against gid, as the last
	// stage of the pipeline for a certified, GID-stamped event. The
	// engine is free to apply it inline or hand it to its own relay-log
	// SQL thread; either way this call does not return until the event
	// is durably queued for application.
	ApplyTransaction(ctx context.Context, gid GID, body []byte) error

	ReplicationThreads
}

// ReplicationThreads is the subset of the engine's replication-thread API
// recovery drives directly: initializing the two relay-log-like stores
// (sql_applier, gcs_recovery), connecting to a donor, and tearing down.
type ReplicationThreads interface {
	InitializeRepositories(ctx context.Context, name string, index int) error
	InitializeConnectionParameters(ctx context.Context, host string, port int, user, password string, ssl bool, heartbeatSeconds float64) error
	InitializeViewIDUntilCondition(ctx context.Context, viewID string) error
	StartReplicationThreads(ctx context.Context, mask int, wait bool) error
	StopThreads(ctx context.Context, force bool, mask int) error
	PurgeRelayLogs(ctx context.Context) error
	PurgeMasterInfo(ctx context.Context) error
	CleanThreadRepositories(ctx context.Context) error
	IsIOThreadRunning(ctx context.Context) (bool, error)
	IsSQLThreadRunning(ctx context.Context) (bool, error)
}

// Relay-log-like store base names, per spec.md section 6.
const (
	RepositorySQLApplier  = "sql_applier"
	RepositoryGCSRecovery = "gcs_recovery"
)

// Thread-mask bits for StartReplicationThreads/StopThreads.
const (
	ThreadIO int = 1 << iota
	ThreadSQL
)

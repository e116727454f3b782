// Package status assembles the single user-visible structured status
// record of spec.md section 7: running state, view-id, member list with
// per-member status, and counters. It owns no state of its own -- it
// reads member.Registry, certifier.Certifier, and applier.Applier under
// their own locks, the same read-only-assembler shape the teacher uses
// for its admin status dump.
package status

import (
	"github.com/glycerine/groupcert/applier"
	"github.com/glycerine/groupcert/certifier"
	"github.com/glycerine/groupcert/member"
)

// Status is the point-in-time snapshot handed back to a caller of
// plugin.Controller.Status().
type Status struct {
	Running   bool
	ViewID    string
	Members   []member.MemberStatus
	QueueSize int

	CertifiedPositive int64
	CertifiedNegative int64
	CertDBSize        int
	StableSetSize     int
	NextSeqno         int64

	// MessagesSent/MessagesReceived/BytesSent/BytesReceived/MinMessageLen/
	// MaxMessageLen are counters the GCS binding maintains; groupcert
	// itself never touches the wire, so these are supplied by the host
	// and simply passed through for the final record.
	MessagesSent     int64
	MessagesReceived int64
	BytesSent        int64
	BytesReceived    int64
	MinMessageLen    int64
	MaxMessageLen    int64

	// LastCertifiedGNO is next_seqno - 1: the highest gno assigned so far,
	// whether by this node's own positive certifications or by the state
	// its certifier was seeded or installed with; 0 when next_seqno is 1.
	LastCertifiedGNO int64
}

// TransportCounters are the wire-level counters the GCS binding tracks;
// groupcert has no visibility into message framing itself.
type TransportCounters struct {
	MessagesSent     int64
	MessagesReceived int64
	BytesSent        int64
	BytesReceived    int64
	MinMessageLen    int64
	MaxMessageLen    int64
}

// Assemble builds a Status from the three components, per spec.md
// section 7's "single structured status record". From the applier it
// reads only QueueDepth(); tc is copied through unchanged.
func Assemble(running bool, reg *member.Registry, cert *certifier.Certifier, a *applier.Applier, tc TransportCounters) Status {
	snap := reg.Snapshot()
	positive, negative := cert.Counts()
	nextSeqno := cert.NextSeqno()
	lastGNO := nextSeqno - 1
	if lastGNO < 0 {
		lastGNO = 0
	}

	return Status{
		Running:           running,
		ViewID:            snap.ViewID,
		Members:           snap.Members,
		QueueSize:         a.QueueDepth(),
		CertifiedPositive: positive,
		CertifiedNegative: negative,
		CertDBSize:        cert.DBSize(),
		StableSetSize:     cert.StableSetSize(),
		NextSeqno:         nextSeqno,
		MessagesSent:      tc.MessagesSent,
		MessagesReceived:  tc.MessagesReceived,
		BytesSent:         tc.BytesSent,
		BytesReceived:     tc.BytesReceived,
		MinMessageLen:     tc.MinMessageLen,
		MaxMessageLen:     tc.MaxMessageLen,
		LastCertifiedGNO:  lastGNO,
	}
}

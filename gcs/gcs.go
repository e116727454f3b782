// Package gcs describes the group-communication service that this module
// consumes but does not implement: the totally-ordered broadcast and view
// management layer underneath the certification pipeline.
//
// Everything in this package is an interface or a plain data type. The
// real binding (sockets, TLS, retries) lives outside this module, on the
// host that embeds groupcert -- see gcs/simnet for the in-memory stand-in
// used by this module's own tests.
package gcs

import "context"

// PayloadType distinguishes the kinds of message groupcert exchanges over
// the GCS broadcast channel. Only these three values are produced or
// consumed by the core; plugin.Controller.OnMessage ignores any other
// payload type observed on delivery.
type PayloadType uint8

const (
	// PayloadTransaction carries an engine.TransactionEvent: ordinary
	// replicated work.
	PayloadTransaction PayloadType = iota + 1
	// PayloadCertificationEvent carries an encoded executed-GID-set
	// broadcast by the stable-set broadcaster (see stableset package).
	PayloadCertificationEvent
	// PayloadRecoveryEnd carries a RECOVERY_END_MESSAGE announcing that
	// a joiner has finished catching up and is about to go ONLINE.
	PayloadRecoveryEnd
)

// MemberRole mirrors the role a member plays in the cluster topology as
// reported by the view.
type MemberRole uint8

const (
	RolePrimary MemberRole = iota
	RoleSecondary
)

// Member is one entry in a View's membership list.
type Member struct {
	UUID string
	Host string
	Port int
	Role MemberRole
}

// View is an immutable snapshot of cluster membership, produced by GCS and
// installed simultaneously across all live members.
type View struct {
	ID      string
	Members []Member
	// LocalIdx indexes into Members for the node receiving this View.
	LocalIdx int
}

// Local returns the Member entry describing the node that received this
// view, and true if LocalIdx is valid.
func (v View) Local() (Member, bool) {
	if v.LocalIdx < 0 || v.LocalIdx >= len(v.Members) {
		return Member{}, false
	}
	return v.Members[v.LocalIdx], true
}

// ByUUID returns the member with the given uuid, if present in the view.
func (v View) ByUUID(uuid string) (Member, bool) {
	for _, m := range v.Members {
		if m.UUID == uuid {
			return m, true
		}
	}
	return Member{}, false
}

// Callbacks is implemented by the core and registered with the GCS
// binding. GCS invokes these from bounded callback contexts: they MUST
// NOT block on cluster-wide operations, per spec.md section 5. Core
// implementations only push into a synchronized queue or update
// in-memory state under a short-held lock.
type Callbacks interface {
	// OnMessage delivers one totally-ordered broadcast payload.
	OnMessage(payloadType PayloadType, payload []byte, senderUUID string)
	// OnView delivers a newly installed view.
	OnView(view View)
	// OnExchangedData delivers per-member metadata gathered at view
	// install time, keyed by member uuid.
	OnExchangedData(byMember map[string][]byte)
}

// Service is the GCS surface groupcert consumes. A real binding dials
// into the group transport; gcs/simnet provides a deterministic in-memory
// implementation for tests.
type Service interface {
	// Join registers cb to receive callbacks and joins group.
	Join(ctx context.Context, group string, cb Callbacks) error
	// Leave departs the group. Idempotent.
	Leave(ctx context.Context) error
	// Broadcast totally-orders payload against every other broadcast in
	// the group and eventually delivers it to every live member's
	// Callbacks.OnMessage, including the sender's own.
	Broadcast(ctx context.Context, payloadType PayloadType, payload []byte) error
	// CurrentView returns the most recently installed view.
	CurrentView() (View, bool)
}

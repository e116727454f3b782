// Package member implements the cluster view membership and per-member
// status registry of spec.md section 4.9: its view is replaced on GCS
// view-change callbacks, and member statuses are set on RECOVERY_END
// messages and by the local node's own recovery (RECOVERING, then
// ONLINE). It is read under a lock by recovery's donor selection and by
// status reporting.
package member

import (
	"sync"

	"github.com/glycerine/groupcert/gcs"
)

// Status is the per-member lifecycle state of spec.md section 3.
type Status int

const (
	StatusOffline Status = iota
	StatusRecovering
	StatusOnline
)

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "ONLINE"
	case StatusRecovering:
		return "RECOVERING"
	default:
		return "OFFLINE"
	}
}

// Registry holds the current view plus each member's status.
type Registry struct {
	mu        sync.RWMutex
	view      gcs.View
	hasView   bool
	localUUID string
	status    map[string]Status
}

// New returns an empty Registry for the node identified by localUUID.
func New(localUUID string) *Registry {
	return &Registry{
		localUUID: localUUID,
		status:    make(map[string]Status),
	}
}

// InstallView replaces the current view on a GCS view-change callback.
// Members present in the new view but missing from the status map
// default to OFFLINE; members absent from the new view are dropped.
func (r *Registry) InstallView(v gcs.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view = v
	r.hasView = true
	fresh := make(map[string]Status, len(v.Members))
	for _, m := range v.Members {
		if st, ok := r.status[m.UUID]; ok {
			fresh[m.UUID] = st
		} else {
			fresh[m.UUID] = StatusOffline
		}
	}
	r.status = fresh
}

// SetStatus records a member's status, e.g. as learned from its
// CERTIFICATION_EVENT/RECOVERY_END broadcasts, or as this node's own
// OFFLINE->RECOVERING->ONLINE transition on join (spec.md section 3).
func (r *Registry) SetStatus(uuid string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[uuid] = status
}

// StatusOf returns a member's last known status.
func (r *Registry) StatusOf(uuid string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status[uuid]
}

// View returns the currently installed view and whether one has ever
// been installed.
func (r *Registry) View() (gcs.View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view, r.hasView
}

// LocalUUID returns the identifier of the node this registry belongs to.
func (r *Registry) LocalUUID() string {
	return r.localUUID
}

// OnlineMembers returns the uuids of every member currently believed
// ONLINE, used by recovery's donor selection (spec.md section 4.6).
func (r *Registry) OnlineMembers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.status))
	for uuid, st := range r.status {
		if st == StatusOnline {
			out = append(out, uuid)
		}
	}
	return out
}

// MemberUUIDs returns every uuid currently in the installed view, for
// the stable-set tracker's known-member list.
func (r *Registry) MemberUUIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.view.Members))
	for _, m := range r.view.Members {
		out = append(out, m.UUID)
	}
	return out
}

// Snapshot is a point-in-time copy of membership and status, for
// status.Status assembly.
type Snapshot struct {
	ViewID  string
	Members []MemberStatus
}

// MemberStatus pairs a gcs.Member with its last known status.
type MemberStatus struct {
	gcs.Member
	Status Status
}

// Snapshot copies the current view and per-member status.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot{ViewID: r.view.ID}
	for _, m := range r.view.Members {
		s.Members = append(s.Members, MemberStatus{Member: m, Status: r.status[m.UUID]})
	}
	return s
}

// SoleMember reports whether the view contains only the local node --
// spec.md section 8's boundary behavior "view change with only one
// member (the local one)".
func (r *Registry) SoleMember() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.view.Members) == 1
}

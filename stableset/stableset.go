// Package stableset implements the stable-set tracker of spec.md section
// 4.2: the per-member executed-set registry that intersects members'
// broadcasts to compute the set of transactions executed everywhere, and
// drives certification-database garbage collection.
//
// The stable set itself is kept in a red-black tree
// (github.com/glycerine/rbtree, the same ordered-set structure the
// teacher uses for its ticketPQ in tube/ticketpq.go) ordered by
// (ClusterSID, GNO) so Encode always produces a deterministic byte
// stream -- useful for the round-trip property spec.md section 8
// requires of encode/decode.
package stableset

import (
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	rb "github.com/glycerine/rbtree"

	"github.com/glycerine/groupcert/engine"
)

func cmpGID(a, b rb.Item) int {
	av := a.(engine.GID)
	bv := b.(engine.GID)
	if av.ClusterSID != bv.ClusterSID {
		if av.ClusterSID < bv.ClusterSID {
			return -1
		}
		return 1
	}
	if av.GNO < bv.GNO {
		return -1
	}
	if av.GNO > bv.GNO {
		return 1
	}
	return 0
}

// Tracker holds the current stable set plus the in-flight intersection
// round's per-member contributions.
type Tracker struct {
	mu sync.Mutex

	stable *rb.Tree // ordered set of engine.GID believed executed everywhere

	knownMembers []string                       // uuids expected to contribute this round
	contributed  map[string]map[engine.GID]bool // uuid -> decoded executed set, this round
}

// New returns a Tracker with an empty stable set.
func New() *Tracker {
	return &Tracker{
		stable:      rb.NewTree(cmpGID),
		contributed: make(map[string]map[engine.GID]bool),
	}
}

// Contains reports whether gid is in the current stable set.
func (t *Tracker) Contains(gid engine.GID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, found := t.stable.FindGE_isEqual(gid)
	return found
}

// Len returns the size of the current stable set.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stable.Len()
}

// payload is the wire shape of one member's executed-set broadcast.
type payload struct {
	GIDs []engine.GID `json:"gids"`
}

// Encode produces the CERTIFICATION_EVENT broadcast payload for the
// local node's executed set, sorted for determinism.
func Encode(executed map[engine.GID]struct{}) ([]byte, error) {
	p := payload{GIDs: make([]engine.GID, 0, len(executed))}
	for g := range executed {
		p.GIDs = append(p.GIDs, g)
	}
	sort.Slice(p.GIDs, func(i, j int) bool {
		if p.GIDs[i].ClusterSID != p.GIDs[j].ClusterSID {
			return p.GIDs[i].ClusterSID < p.GIDs[j].ClusterSID
		}
		return p.GIDs[i].GNO < p.GIDs[j].GNO
	})
	return json.Marshal(p)
}

func decode(by []byte) (map[engine.GID]bool, error) {
	var p payload
	if err := json.Unmarshal(by, &p); err != nil {
		return nil, err
	}
	m := make(map[engine.GID]bool, len(p.GIDs))
	for _, g := range p.GIDs {
		m[g] = true
	}
	return m, nil
}

// SetKnownMembers replaces the set of members whose contribution is
// awaited this round, clearing any in-flight round -- called on every
// view change, per HandleViewChange below.
func (t *Tracker) SetKnownMembers(uuids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.knownMembers = append([]string(nil), uuids...)
	t.contributed = make(map[string]map[engine.GID]bool)
}

// HandleViewChange drops any half-complete intersection round, per
// spec.md section 4.2's handle_view_change, and re-seeds the known
// member set from the new view.
func (t *Tracker) HandleViewChange(uuids []string) {
	t.SetKnownMembers(uuids)
}

// HandleCertifierData queues one member's encoded executed-set. When
// every known member has contributed to the current round, it computes
// their intersection and merges it into the stable set. It does not run
// garbage collection itself; it returns whether a round completed so the
// caller can garbage-collect against the updated stable set.
func (t *Tracker) HandleCertifierData(memberUUID string, encoded []byte) (completed bool, err error) {
	decoded, err := decode(encoded)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	known := false
	for _, u := range t.knownMembers {
		if u == memberUUID {
			known = true
			break
		}
	}
	if !known {
		// a broadcast from a member outside the current view; ignore,
		// per spec.md section 4.2's failure model (lost/duplicate
		// broadcasts only delay gc, never violate safety).
		return false, nil
	}

	t.contributed[memberUUID] = decoded

	if len(t.contributed) < len(t.knownMembers) {
		return false, nil
	}

	// every known member has contributed: compute the intersection.
	var inter map[engine.GID]bool
	first := true
	for _, set := range t.contributed {
		if first {
			inter = make(map[engine.GID]bool, len(set))
			for g := range set {
				inter[g] = true
			}
			first = false
			continue
		}
		for g := range inter {
			if !set[g] {
				delete(inter, g)
			}
		}
	}

	for g := range inter {
		if _, found := t.stable.FindGE_isEqual(g); !found {
			t.stable.Insert(g)
		}
	}

	t.contributed = make(map[string]map[engine.GID]bool)
	return true, nil
}

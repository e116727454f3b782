// Package certdb implements the in-memory certification database of
// spec.md section 3/4.2: a mapping from write-set item fingerprint to the
// last gno that certified positively against that item.
//
// Fingerprints are produced by hashing the engine's opaque item bytes
// with BLAKE3 (github.com/glycerine/blake3, the same hash the teacher's
// tube/persistor.go uses for on-disk integrity checks), giving a
// fixed-width, comparable, map-friendly key regardless of the engine's
// native key encoding.
package certdb

import (
	"sync"

	"github.com/glycerine/blake3"
	json "github.com/goccy/go-json"

	"github.com/glycerine/groupcert/engine"
)

// Fingerprint is a content-addressed, fixed-width key for one write-set
// item.
type Fingerprint [32]byte

// FingerprintOf hashes an opaque write-set item with BLAKE3 into a
// 32-byte digest.
func FingerprintOf(item engine.WriteSetItem) Fingerprint {
	h := blake3.New(32, nil)
	h.Write(item)
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// entry is the JSON-friendly shape of one mapping used by Snapshot, since
// Fingerprint (a [32]byte array) does not marshal as a JSON object key.
type entry struct {
	FP  Fingerprint `json:"fp"`
	GNO int64       `json:"gno"`
}

// Snapshot is the atomic, exportable view of a certification database:
// the dense log the teacher's design notes (spec.md section 9) suggest
// pairing with a hash map for bulk export.
type Snapshot struct {
	Entries   []entry `json:"entries"`
	NextSeqno int64   `json:"next_seqno"`
}

// Encode serializes s with the engine's opaque-but-round-trippable
// encoding contract (spec.md section 8): github.com/goccy/go-json, the
// teacher's drop-in fast JSON encoder.
func (s Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode is the inverse of Encode.
func Decode(by []byte) (Snapshot, error) {
	var s Snapshot
	err := json.Unmarshal(by, &s)
	return s, err
}

// DB is the certification database. All mutation happens under mu; the
// certifier package is the only caller, and it serializes certify calls
// itself, but DB's own lock makes Export/Install/GarbageCollect safe to
// call from the GCS delivery goroutine (garbage collection on incoming
// certification data) and the recovery goroutine (snapshot install) too.
type DB struct {
	mu sync.Mutex
	m  map[Fingerprint]int64
}

// New returns an empty certification database.
func New() *DB {
	return &DB{m: make(map[Fingerprint]int64)}
}

// Get returns the last gno certified positively against fp, and whether
// any entry exists.
func (d *DB) Get(fp Fingerprint) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gno, ok := d.m[fp]
	return gno, ok
}

// Set records gno as the last certifier against fp, per the certification
// database invariant in spec.md section 3: gno must be the maximum ever
// assigned for this item, which the caller (certifier.certify) is
// responsible for guaranteeing by only calling Set from within a single
// serialized certify.
func (d *DB) Set(fp Fingerprint, gno int64) {
	d.mu.Lock()
	d.m[fp] = gno
	d.mu.Unlock()
}

// Len returns the number of distinct fingerprints currently tracked.
func (d *DB) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.m)
}

// GarbageCollect removes every entry whose gno is reported stable by
// isStable, per spec.md section 4.2: safe because any future transaction
// with snapshot_version >= the stable set's high-water mark will always
// win against this item regardless of whether the entry is still
// present. Returns the number of entries removed.
func (d *DB) GarbageCollect(isStable func(gno int64) bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for fp, gno := range d.m {
		if isStable(gno) {
			delete(d.m, fp)
			removed++
		}
	}
	return removed
}

// Export produces a Snapshot for donor transfer or on-disk persistence.
// nextSeqno is supplied by the caller (certifier.Certifier owns it, not
// DB) so the snapshot always pairs the database contents with the
// sequence counter that was in effect when they were read.
func (d *DB) Export(nextSeqno int64) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Snapshot{
		Entries:   make([]entry, 0, len(d.m)),
		NextSeqno: nextSeqno,
	}
	for fp, gno := range d.m {
		s.Entries = append(s.Entries, entry{FP: fp, GNO: gno})
	}
	return s
}

// Install replaces the database contents wholesale from a Snapshot,
// per spec.md section 4.2's set_certification_info: used by recovery
// when installing a donor snapshot, allowed only while the applier is
// suspended.
func (d *DB) Install(s Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m = make(map[Fingerprint]int64, len(s.Entries))
	for _, e := range s.Entries {
		d.m[e.FP] = e.GNO
	}
}

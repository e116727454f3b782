package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glycerine/groupcert/certdb"
)

// loadSnapshot reads and zstd-decompresses a previously persisted
// certification snapshot from path, the same "only load if the file
// actually has bytes in it" shape as the teacher's
// NewRaftStatePersistor in tube/persistor.go. A missing file is not an
// error: a node's first Start has nothing to restore.
func loadSnapshot(path string) (certdb.Snapshot, bool, error) {
	if path == "" {
		return certdb.Snapshot{}, false, nil
	}
	by, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return certdb.Snapshot{}, false, nil
		}
		return certdb.Snapshot{}, false, err
	}
	if len(by) == 0 {
		return certdb.Snapshot{}, false, nil
	}
	snap, err := certdb.DecodePersisted(by)
	if err != nil {
		return certdb.Snapshot{}, false, err
	}
	return snap, true, nil
}

// saveSnapshot zstd-compresses and atomically writes snap to path via
// the teacher's write-to-tmp-then-rename idiom (tube/persistor.go's
// save), so a crash mid-write never leaves a half-written snapshot file
// for the next Start to trip over.
func saveSnapshot(path string, snap certdb.Snapshot) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	by, err := certdb.EncodePersisted(snap)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, by, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("plugin: rename snapshot into place: %w", err)
	}
	return nil
}

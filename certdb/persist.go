package certdb

import (
	"github.com/klauspost/compress/zstd"
)

// snapshotCodec wraps a zstd encoder/decoder pair for on-disk
// certification-snapshot persistence, the same Compress/Decompress
// shape the teacher's zstdCompressor (zstd.go) wraps around
// github.com/klauspost/compress/zstd for its own wire payloads. Here it
// compresses a Snapshot's JSON encoding before it hits disk, so a
// restarting node can reload its certification database without
// replaying the full stable-set history from a donor.
type snapshotCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// newSnapshotCodec returns a ready-to-use codec. Close it when done.
func newSnapshotCodec() (*snapshotCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &snapshotCodec{enc: enc, dec: dec}, nil
}

func (c *snapshotCodec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// EncodePersisted serializes and zstd-compresses s for disk storage.
func EncodePersisted(s Snapshot) ([]byte, error) {
	by, err := s.Encode()
	if err != nil {
		return nil, err
	}
	c, err := newSnapshotCodec()
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.enc.EncodeAll(by, nil), nil
}

// DecodePersisted is the inverse of EncodePersisted.
func DecodePersisted(compressed []byte) (Snapshot, error) {
	c, err := newSnapshotCodec()
	if err != nil {
		return Snapshot{}, err
	}
	defer c.Close()
	by, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return Snapshot{}, err
	}
	return Decode(by)
}

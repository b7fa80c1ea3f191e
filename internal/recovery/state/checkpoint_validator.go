package state

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"time"

	"pidigits/internal/series"
)

// ComputeDigest returns the sha256 over the checkpoint content, every field
// except Digest itself, length-prefixed in schema order.
func (c Checkpoint) ComputeDigest() string {
	h := sha256.New()
	writeUint(h, uint64(c.SchemaVersion))
	writeUint(h, uint64(c.TargetDigitCount))
	writeUint(h, uint64(len(c.CompletedRanges)))
	for _, r := range c.CompletedRanges {
		writeUint(h, uint64(r.Lo))
		writeUint(h, uint64(r.Hi))
	}
	writeLenPrefixed(h, []byte(c.PartialP))
	writeLenPrefixed(h, []byte(c.PartialQ))
	writeLenPrefixed(h, []byte(c.PartialT))
	writeLenPrefixed(h, []byte(c.SavedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyTriple recomputes the prefix from scratch and compares it with the
// stored partial triple. It costs as much as the work the checkpoint saves,
// so it is opt-in.
func (c Checkpoint) VerifyTriple(ev *series.Evaluator) error {
	stored, err := c.Triple()
	if err != nil {
		return err
	}
	parts := make([]series.Triple, 0, len(c.CompletedRanges))
	for _, r := range c.CompletedRanges {
		t, err := ev.Range(r)
		if err != nil {
			return fmt.Errorf("recomputing %s: %w", r, err)
		}
		parts = append(parts, t)
	}
	want, err := ev.MergeAll(parts)
	if err != nil {
		return fmt.Errorf("merging recomputed ranges: %w", err)
	}
	if !want.Equal(stored) {
		return fmt.Errorf("partial triple does not match the merge of completed_ranges")
	}
	return nil
}

func writeUint(h hash.Hash, v uint64) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], v)
	_, _ = h.Write(n[:])
}

func writeLenPrefixed(h hash.Hash, b []byte) {
	writeUint(h, uint64(len(b)))
	_, _ = h.Write(b)
}

package engine

import (
	"fmt"
	"sync"

	"github.com/permgraph/permgraph/internal/index"
	"github.com/permgraph/permgraph/internal/keys"
	"github.com/permgraph/permgraph/pkg/schema"
	"github.com/permgraph/permgraph/pkg/tuple"
)

// Snapshot is the immutable pair of facts and schemas one batch evaluates
// against. The fact index is built once at construction; everything in a
// snapshot is read-only afterwards and safe to share across batches and
// goroutines.
type Snapshot struct {
	facts   []tuple.Fact
	schemas schema.Set
	index   *index.FactIndex

	fingerprintOnce sync.Once
	fingerprint     uint64
	fingerprintErr  error
}

// NewSnapshot builds a snapshot over the given facts and schemas. The fact
// slice and schema set are retained and must not be mutated afterwards.
func NewSnapshot(facts []tuple.Fact, schemas schema.Set) *Snapshot {
	return &Snapshot{
		facts:   facts,
		schemas: schemas,
		index:   index.New(facts),
	}
}

// Index returns the snapshot's fact index.
func (s *Snapshot) Index() *index.FactIndex {
	return s.index
}

// Schemas returns the snapshot's schema set.
func (s *Snapshot) Schemas() schema.Set {
	return s.schemas
}

// Fingerprint returns a stable hash over the snapshot's facts and schemas,
// computed on first use. Snapshots with identical contents share a
// fingerprint, which keys the cross-batch result cache; a caller invalidates
// that cache for changed data simply by building a new snapshot.
func (s *Snapshot) Fingerprint() (uint64, error) {
	s.fingerprintOnce.Do(func() {
		s.fingerprint, s.fingerprintErr = keys.SnapshotFingerprint(s.facts, s.schemas)
		if s.fingerprintErr != nil {
			s.fingerprintErr = fmt.Errorf("computing snapshot fingerprint: %w", s.fingerprintErr)
		}
	})
	return s.fingerprint, s.fingerprintErr
}

package keys

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/permgraph/permgraph/pkg/schema"
	"github.com/permgraph/permgraph/pkg/tuple"
)

// NewFactsHasher returns a hasher for a set of facts. It sorts the facts
// first to guarantee that two slices that are identical except for the
// ordering return the same hash.
func NewFactsHasher(facts ...tuple.Fact) *factsHasher {
	return &factsHasher{facts}
}

type factsHasher struct {
	facts []tuple.Fact
}

func (t *factsHasher) Append(h hasher) error {
	sortedFacts := make([]string, 0, len(t.facts))
	for _, fact := range t.facts {
		sortedFacts = append(sortedFacts, fact.String())
	}
	sort.Strings(sortedFacts)

	// prefix to avoid overlap with previous strings written
	if err := h.WriteString("/"); err != nil {
		return err
	}

	for _, fact := range sortedFacts {
		// fact with a separator at the end
		if err := h.WriteString(fact + ","); err != nil {
			return err
		}
	}

	return nil
}

// NewSchemaSetHasher returns a hasher for a schema set. Namespaces, relations
// and permissions are written in sorted name order so map iteration order
// never leaks into the hash; union branches and permission relation lists
// keep their declared order, which is significant.
func NewSchemaSetHasher(set schema.Set) *schemaSetHasher {
	return &schemaSetHasher{set}
}

type schemaSetHasher struct {
	set schema.Set
}

func (s *schemaSetHasher) Append(h hasher) error {
	objectTypes := make([]string, 0, len(s.set))
	for objectType := range s.set {
		objectTypes = append(objectTypes, objectType)
	}
	sort.Strings(objectTypes)

	if err := h.WriteString("/"); err != nil {
		return err
	}

	for _, objectType := range objectTypes {
		ns := s.set[objectType]

		if err := h.WriteString(objectType + "{"); err != nil {
			return err
		}

		relations := make([]string, 0, len(ns.Relations))
		for relation := range ns.Relations {
			relations = append(relations, relation)
		}
		sort.Strings(relations)

		for _, relation := range relations {
			if err := h.WriteString(relation + "=" + exprString(ns.Relations[relation]) + ";"); err != nil {
				return err
			}
		}

		permissions := make([]string, 0, len(ns.Permissions))
		for permission := range ns.Permissions {
			permissions = append(permissions, permission)
		}
		sort.Strings(permissions)

		for _, permission := range permissions {
			if err := h.WriteString(permission + "="); err != nil {
				return err
			}
			for _, relation := range ns.Permissions[permission] {
				if err := h.WriteString(relation + ","); err != nil {
					return err
				}
			}
			if err := h.WriteString(";"); err != nil {
				return err
			}
		}

		if err := h.WriteString("}"); err != nil {
			return err
		}
	}

	return nil
}

func exprString(expr schema.RelationExpr) string {
	switch e := expr.(type) {
	case schema.Direct:
		return "this"
	case schema.Union:
		out := "union("
		for _, branch := range e.Branches {
			out += branch + ","
		}
		return out + ")"
	case schema.TupleToUserset:
		return fmt.Sprintf("ttu(%s,%s)", e.Tupleset, e.Computed)
	default:
		return fmt.Sprintf("%#v", expr)
	}
}

// SnapshotFingerprint computes a stable uint64 over one snapshot's facts and
// schema set. Two snapshots with the same facts (in any order) and the same
// schemas share a fingerprint, which is what keys the cross-batch result
// cache.
func SnapshotFingerprint(facts []tuple.Fact, set schema.Set) (uint64, error) {
	h := NewCacheKeyHasher(xxhash.New())

	if err := NewFactsHasher(facts...).Append(h); err != nil {
		return 0, err
	}

	if err := NewSchemaSetHasher(set).Append(h); err != nil {
		return 0, err
	}

	return h.Key().ToUInt64(), nil
}

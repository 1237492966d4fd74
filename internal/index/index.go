// Package index provides an immutable in-memory index over one snapshot's
// relationship facts. Building the index is a single pass over the facts;
// afterwards it is read-only and may be shared across goroutines without
// synchronization.
package index

import (
	"github.com/permgraph/permgraph/pkg/tuple"
)

// UsersetEdge is a fact whose subject term is a userset: holders of Relation
// on Group are granted the indexed (object, relation).
type UsersetEdge struct {
	Group    tuple.Entity
	Relation string
}

// FactIndex answers the three lookups the evaluator needs, each O(1)
// amortized on the (object, relation) key.
type FactIndex struct {
	// object#relation -> set of plain subject strings ('type:id')
	direct map[string]map[string]struct{}

	// object#relation -> userset edges, in fact order
	usersets map[string][]UsersetEdge

	// subject#relation -> fact objects, in fact order. This is the tupleset
	// view: the fact (O, r, X) is found here under O#r when expanding a
	// tuple-to-userset on O.
	tuplesets map[string][]tuple.Entity
}

// New builds a FactIndex from the snapshot's facts in one O(F) pass.
func New(facts []tuple.Fact) *FactIndex {
	ix := &FactIndex{
		direct:    make(map[string]map[string]struct{}),
		usersets:  make(map[string][]UsersetEdge),
		tuplesets: make(map[string][]tuple.Entity),
	}

	for _, fact := range facts {
		objectKey := tuple.ObjectRelationKey(fact.Object, fact.Relation)

		if fact.SubjectRelation != "" {
			ix.usersets[objectKey] = append(ix.usersets[objectKey], UsersetEdge{
				Group:    fact.Subject,
				Relation: fact.SubjectRelation,
			})
			continue
		}

		subjects, ok := ix.direct[objectKey]
		if !ok {
			subjects = make(map[string]struct{})
			ix.direct[objectKey] = subjects
		}
		subjects[fact.Subject.String()] = struct{}{}

		// the same fact, seen from its subject, is a tupleset edge
		subjectKey := tuple.ObjectRelationKey(fact.Subject, fact.Relation)
		ix.tuplesets[subjectKey] = append(ix.tuplesets[subjectKey], fact.Object)
	}

	return ix
}

// HasDirect reports whether the fact (subject, relation, object) with a plain
// entity subject is present.
func (ix *FactIndex) HasDirect(subject tuple.Entity, relation string, object tuple.Entity) bool {
	subjects, ok := ix.direct[tuple.ObjectRelationKey(object, relation)]
	if !ok {
		return false
	}
	_, ok = subjects[subject.String()]
	return ok
}

// UsersetEdges returns the userset-subject facts granting (object, relation),
// in fact order.
func (ix *FactIndex) UsersetEdges(object tuple.Entity, relation string) []UsersetEdge {
	return ix.usersets[tuple.ObjectRelationKey(object, relation)]
}

// TuplesetTargets returns every X for which the fact (object, relation, X)
// exists, in fact order. Used to expand tuple-to-userset rewrites.
func (ix *FactIndex) TuplesetTargets(object tuple.Entity, relation string) []tuple.Entity {
	return ix.tuplesets[tuple.ObjectRelationKey(object, relation)]
}

// Package schema contains the per-object-type namespace configuration the
// engine expands checks against: relation rewrite rules and the relation
// lists that make up permissions.
package schema

// RelationExpr is a relation rewrite rule. It is one of Direct, Union, or
// TupleToUserset.
type RelationExpr interface {
	isRelationExpr()
}

// Direct is satisfied only by facts whose relation matches exactly.
type Direct struct{}

func (Direct) isRelationExpr() {}

// Union is satisfied if any branch relation, evaluated on the same
// (subject, object) pair, is satisfied. Branches keep their declared order so
// evaluation is reproducible.
type Union struct {
	Branches []string
}

func (Union) isRelationExpr() {}

// TupleToUserset is satisfied if a fact relates the object to some entity X
// via the Tupleset relation and the Computed relation holds between the
// original subject and X. It models inherited grants, e.g. a file inheriting
// a folder's viewer relation.
type TupleToUserset struct {
	Tupleset string
	Computed string
}

func (TupleToUserset) isRelationExpr() {}

// This returns the Direct rewrite.
func This() RelationExpr {
	return Direct{}
}

// UnionOf returns a Union over the given branch relations.
func UnionOf(branches ...string) RelationExpr {
	return Union{Branches: branches}
}

// TupleTo returns a TupleToUserset rewrite over the given tupleset and
// computed relations.
func TupleTo(tupleset, computed string) RelationExpr {
	return TupleToUserset{Tupleset: tupleset, Computed: computed}
}

// Namespace is the configuration of one object type: its relation rewrite
// rules and its permissions, each permission being the union of the listed
// relations in declared order.
type Namespace struct {
	Relations   map[string]RelationExpr
	Permissions map[string][]string
}

// Set maps object types to their namespace configuration. A Set is read-only
// for the lifetime of an evaluation snapshot and may be shared across
// goroutines without synchronization.
type Set map[string]*Namespace

// GetNamespace returns the namespace for the object type.
func (s Set) GetNamespace(objectType string) (*Namespace, error) {
	ns, ok := s[objectType]
	if !ok {
		return nil, &ObjectTypeUndefinedError{ObjectType: objectType}
	}
	return ns, nil
}

// GetRelation returns the rewrite rule for (objectType, relation).
func (s Set) GetRelation(objectType, relation string) (RelationExpr, error) {
	ns, err := s.GetNamespace(objectType)
	if err != nil {
		return nil, err
	}

	expr, ok := ns.Relations[relation]
	if !ok {
		return nil, &RelationUndefinedError{ObjectType: objectType, Relation: relation}
	}
	return expr, nil
}

// GetPermission returns the ordered relation list whose union constitutes
// (objectType, permission).
func (s Set) GetPermission(objectType, permission string) ([]string, error) {
	ns, err := s.GetNamespace(objectType)
	if err != nil {
		return nil, err
	}

	relations, ok := ns.Permissions[permission]
	if !ok {
		return nil, &PermissionUndefinedError{ObjectType: objectType, Permission: permission}
	}
	return relations, nil
}

// Validate walks every namespace and reports the first dangling reference: a
// union branch naming an undefined relation, a permission listing one, or a
// tuple-to-userset whose tupleset relation is undefined. The computed
// relation of a tuple-to-userset is resolved against the related object's
// type at evaluation time, so it cannot be validated here.
func (s Set) Validate() error {
	for objectType, ns := range s {
		for _, expr := range ns.Relations {
			switch e := expr.(type) {
			case Union:
				for _, branch := range e.Branches {
					if _, ok := ns.Relations[branch]; !ok {
						return &RelationUndefinedError{ObjectType: objectType, Relation: branch}
					}
				}
			case TupleToUserset:
				if _, ok := ns.Relations[e.Tupleset]; !ok {
					return &RelationUndefinedError{ObjectType: objectType, Relation: e.Tupleset}
				}
			}
		}

		for _, relations := range ns.Permissions {
			for _, relation := range relations {
				if _, ok := ns.Relations[relation]; !ok {
					return &RelationUndefinedError{ObjectType: objectType, Relation: relation}
				}
			}
		}
	}

	return nil
}

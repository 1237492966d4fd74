// Package tuple contains the entity and relationship-fact types the engine
// evaluates, plus code to build and split their canonical string forms.
package tuple

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	entityIDRegex = regexp.MustCompile(`^[^:#\s]+$`)
	relationRegex = regexp.MustCompile(`^[^:#@\s]+$`)
)

// Entity identifies any subject or object as a (type, id) pair.
type Entity struct {
	Type string
	ID   string
}

// NewEntity returns the Entity for the given type and id.
func NewEntity(entityType, id string) Entity {
	return Entity{Type: entityType, ID: id}
}

// String returns the canonical 'type:id' form of the entity.
func (e Entity) String() string {
	return e.Type + ":" + e.ID
}

// SplitEntity splits a 'type:id' string into its type and id. If no type is
// present, it returns the empty string and the original input.
func SplitEntity(s string) (string, string) {
	switch i := strings.IndexByte(s, ':'); i {
	case -1:
		return "", s
	case len(s) - 1:
		return s[0:i], ""
	default:
		return s[0:i], s[i+1:]
	}
}

// Fact is one relationship assertion: the subject holds the relation on the
// object. A non-empty SubjectRelation marks the subject term as a userset,
// i.e. "all entities holding SubjectRelation on Subject" rather than Subject
// itself.
type Fact struct {
	Subject         Entity
	SubjectRelation string
	Relation        string
	Object          Entity
}

// NewFact returns a Fact relating a plain entity subject to an object.
func NewFact(subject Entity, relation string, object Entity) Fact {
	return Fact{Subject: subject, Relation: relation, Object: object}
}

// NewUsersetFact returns a Fact whose subject term is the userset
// 'subject#subjectRelation'.
func NewUsersetFact(subject Entity, subjectRelation, relation string, object Entity) Fact {
	return Fact{Subject: subject, SubjectRelation: subjectRelation, Relation: relation, Object: object}
}

// SubjectString returns the canonical subject term: 'type:id' for a plain
// entity subject or 'type:id#relation' for a userset subject.
func (f Fact) SubjectString() string {
	if f.SubjectRelation != "" {
		return ToEntityRelationString(f.Subject, f.SubjectRelation)
	}
	return f.Subject.String()
}

// String converts a fact into its 'object#relation@subject' representation.
// It assumes the fact is valid (i.e. no forbidden characters).
func (f Fact) String() string {
	return fmt.Sprintf("%s#%s@%s", f.Object, f.Relation, f.SubjectString())
}

// ToEntityRelationString formats an entity/relation pair as an
// 'entity#relation' string.
func ToEntityRelationString(entity Entity, relation string) string {
	return fmt.Sprintf("%s#%s", entity, relation)
}

// ObjectRelationKey returns the canonical 'type:id#relation' key used by the
// fact index to group facts by (object, relation).
func ObjectRelationKey(object Entity, relation string) string {
	return ToEntityRelationString(object, relation)
}

// CheckKey returns the canonical 'object#relation@subject' key for one check
// triple. Identical triples always produce identical keys, which makes the
// key usable for memoization and cycle detection.
func CheckKey(subject Entity, relation string, object Entity) string {
	return fmt.Sprintf("%s#%s@%s", object, relation, subject)
}

// IsValidEntity determines if the entity has a non-empty type and id, neither
// containing ':', '#', or whitespace.
func IsValidEntity(e Entity) bool {
	return entityIDRegex.MatchString(e.Type) && entityIDRegex.MatchString(e.ID)
}

// IsValidRelation determines if a string s is a valid relation name. This
// means it is non-empty and does not contain any ':', '#', '@', or spaces.
func IsValidRelation(s string) bool {
	return relationRegex.MatchString(s)
}

// ValidateFact checks a fact's fields for forbidden characters. The
// SubjectRelation is only validated when set.
func ValidateFact(f Fact) error {
	if !IsValidEntity(f.Subject) {
		return &InvalidFactError{Fact: f, Cause: fmt.Sprintf("invalid subject '%s'", f.Subject)}
	}
	if f.SubjectRelation != "" && !IsValidRelation(f.SubjectRelation) {
		return &InvalidFactError{Fact: f, Cause: fmt.Sprintf("invalid subject relation '%s'", f.SubjectRelation)}
	}
	if !IsValidRelation(f.Relation) {
		return &InvalidFactError{Fact: f, Cause: fmt.Sprintf("invalid relation '%s'", f.Relation)}
	}
	if !IsValidEntity(f.Object) {
		return &InvalidFactError{Fact: f, Cause: fmt.Sprintf("invalid object '%s'", f.Object)}
	}
	return nil
}

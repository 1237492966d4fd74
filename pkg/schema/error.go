package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is the sentinel every namespace configuration defect
	// wraps. Callers use it to distinguish "the schema is broken" from an
	// ordinary access denial, which is always a plain false.
	ErrInvalidConfig = errors.New("invalid namespace configuration")

	ErrObjectTypeUndefined = fmt.Errorf("undefined object type: %w", ErrInvalidConfig)
	ErrRelationUndefined   = fmt.Errorf("undefined relation: %w", ErrInvalidConfig)
	ErrPermissionUndefined = fmt.Errorf("undefined permission: %w", ErrInvalidConfig)
)

// ObjectTypeUndefinedError is returned when a query or a fact references an
// object type with no namespace entry at all.
type ObjectTypeUndefinedError struct {
	ObjectType string
}

func (e *ObjectTypeUndefinedError) Error() string {
	return fmt.Sprintf("'%s' is an undefined object type", e.ObjectType)
}

func (e *ObjectTypeUndefinedError) Unwrap() error {
	return ErrObjectTypeUndefined
}

// RelationUndefinedError is returned when a relation name, referenced
// directly or via a union or tuple-to-userset branch, is not defined for the
// object type.
type RelationUndefinedError struct {
	ObjectType string
	Relation   string
}

func (e *RelationUndefinedError) Error() string {
	return fmt.Sprintf("'%s#%s' relation is undefined", e.ObjectType, e.Relation)
}

func (e *RelationUndefinedError) Unwrap() error {
	return ErrRelationUndefined
}

// PermissionUndefinedError is returned when a queried permission is not
// defined for the object type.
type PermissionUndefinedError struct {
	ObjectType string
	Permission string
}

func (e *PermissionUndefinedError) Error() string {
	return fmt.Sprintf("'%s#%s' permission is undefined", e.ObjectType, e.Permission)
}

func (e *PermissionUndefinedError) Unwrap() error {
	return ErrPermissionUndefined
}

// UndefinedObjectType extracts the object type named by a configuration
// error, or returns false if err is not one.
func UndefinedObjectType(err error) (string, bool) {
	var objectTypeErr *ObjectTypeUndefinedError
	if errors.As(err, &objectTypeErr) {
		return objectTypeErr.ObjectType, true
	}

	var relationErr *RelationUndefinedError
	if errors.As(err, &relationErr) {
		return relationErr.ObjectType, true
	}

	var permissionErr *PermissionUndefinedError
	if errors.As(err, &permissionErr) {
		return permissionErr.ObjectType, true
	}

	return "", false
}

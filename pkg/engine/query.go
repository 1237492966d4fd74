package engine

import (
	"fmt"
	"time"

	"github.com/permgraph/permgraph/pkg/tuple"
)

// Query is one permission check: does Subject hold Permission on Object.
type Query struct {
	Subject    tuple.Entity
	Permission string
	Object     tuple.Entity
}

// QueryKey is the flattened, comparable form of a query used to key the
// batch output mapping.
type QueryKey struct {
	SubjectType string
	SubjectID   string
	Permission  string
	ObjectType  string
	ObjectID    string
}

// Key returns the output-mapping key for the query.
func (q Query) Key() QueryKey {
	return QueryKey{
		SubjectType: q.Subject.Type,
		SubjectID:   q.Subject.ID,
		Permission:  q.Permission,
		ObjectType:  q.Object.Type,
		ObjectID:    q.Object.ID,
	}
}

// String returns the canonical 'object#permission@subject' form of the
// query, used for singleflight grouping and cross-batch cache keys.
func (q Query) String() string {
	return fmt.Sprintf("%s#%s@%s", q.Object, q.Permission, q.Subject)
}

// Outcome is the result of one query in a batch: either a boolean decision
// or the configuration error that prevented one. A false with a nil Err is
// an ordinary denial.
type Outcome struct {
	Allowed  bool
	Err      error
	Duration time.Duration
}

// Package graph implements the recursive check evaluator: given one
// snapshot's fact index and schema set, it resolves whether a subject holds a
// relation or permission on an object by expanding the relationship graph
// with memoization, cycle detection, and a bounded depth counter.
package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/permgraph/permgraph/internal/build"
	"github.com/permgraph/permgraph/pkg/tuple"
)

var tracer = otel.Tracer("internal/graph")

// DefaultMaxDepth bounds the recursion of one check. The bound is an explicit
// counter threaded through the evaluation, not a reliance on the call stack,
// so exceeding it resolves to false identically on every host.
const DefaultMaxDepth = 50

var (
	checkTotalCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "check_total_count",
		Help:      "The total number of calls to ResolveCheck.",
	})

	checkCacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "check_cache_hit_count",
		Help:      "The total number of ResolveCheck calls answered from the result cache.",
	})

	cyclesDetectedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "check_cycles_detected_count",
		Help:      "The total number of evaluation branches short-circuited by cycle detection.",
	})

	depthExceededCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "check_depth_exceeded_count",
		Help:      "The total number of evaluation branches abandoned at the depth bound.",
	})
)

// ResolveCheckRequest is one node of the evaluation tree: does Subject hold
// Relation on Object. VisitedPaths is the active recursion path of the
// current query and RemainingDepth the portion of the depth budget left.
type ResolveCheckRequest struct {
	Subject        tuple.Entity
	Relation       string
	Object         tuple.Entity
	VisitedPaths   map[string]struct{}
	RemainingDepth int
}

// ResolveCheckResponse carries the boolean outcome plus the metadata that
// decides whether the outcome may be shared through the result cache.
type ResolveCheckResponse struct {
	Allowed            bool
	ResolutionMetadata ResolveCheckResponseMetadata
}

// ResolveCheckResponseMetadata records whether a false outcome was produced
// by a cycle short-circuit or the depth bound. Such falses hold only for the
// call path that produced them, so they are withheld from the shared cache.
type ResolveCheckResponseMetadata struct {
	CycleDetected bool
	DepthExceeded bool
}

func (m ResolveCheckResponseMetadata) merge(other ResolveCheckResponseMetadata) ResolveCheckResponseMetadata {
	return ResolveCheckResponseMetadata{
		CycleDetected: m.CycleDetected || other.CycleDetected,
		DepthExceeded: m.DepthExceeded || other.DepthExceeded,
	}
}

// pathIndependent reports whether the response is a pure function of the
// snapshot and the check triple. Allowed outcomes always are: the graph
// operators are monotone, so a grant found via any path holds via every
// path. A false is path-independent only when no branch of its resolution
// was cut short by a cycle or the depth bound.
func (r *ResolveCheckResponse) pathIndependent() bool {
	return r.Allowed || (!r.ResolutionMetadata.CycleDetected && !r.ResolutionMetadata.DepthExceeded)
}

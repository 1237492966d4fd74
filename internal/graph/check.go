package graph

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/permgraph/permgraph/internal/index"
	"github.com/permgraph/permgraph/internal/keys"
	"github.com/permgraph/permgraph/pkg/logger"
	"github.com/permgraph/permgraph/pkg/schema"
	"github.com/permgraph/permgraph/pkg/tuple"
)

// Resolver evaluates checks against one snapshot's fact index and schema set.
// The index and schemas are read-only; the result cache is the only mutable
// shared structure and is safe for concurrent use.
type Resolver struct {
	index    *index.FactIndex
	schemas  schema.Set
	cache    *ResultCache
	logger   logger.Logger
	maxDepth int
}

type ResolverOption func(*Resolver)

// WithLogger sets the logger for the resolver.
func WithLogger(l logger.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithMaxDepth overrides the default recursion bound.
func WithMaxDepth(depth int) ResolverOption {
	return func(r *Resolver) {
		r.maxDepth = depth
	}
}

// NewResolver constructs a Resolver over the given snapshot structures. The
// cache is supplied by the caller so one cache can be shared across all the
// queries of a batch.
func NewResolver(ix *index.FactIndex, schemas schema.Set, cache *ResultCache, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		index:    ix,
		schemas:  schemas,
		cache:    cache,
		logger:   logger.NewNoopLogger(),
		maxDepth: DefaultMaxDepth,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// MaxDepth returns the resolver's recursion bound.
func (r *Resolver) MaxDepth() int {
	return r.maxDepth
}

// ResolvePermission reports whether the subject holds the permission on the
// object, resolving the permission's relation list in declared order and
// short-circuiting on the first relation that holds. A fresh visited set is
// allocated per call: cycle detection is per-query-path.
func (r *Resolver) ResolvePermission(ctx context.Context, subject tuple.Entity, permission string, object tuple.Entity) (*ResolveCheckResponse, error) {
	ctx, span := tracer.Start(ctx, "ResolvePermission", trace.WithAttributes(
		attribute.String("object", object.String()),
		attribute.String("permission", permission),
		attribute.String("subject", subject.String()),
	))
	defer span.End()

	relations, err := r.schemas.GetPermission(object.Type, permission)
	if err != nil {
		return nil, err
	}

	visited := make(map[string]struct{})
	meta := ResolveCheckResponseMetadata{}

	for _, relation := range relations {
		resp, err := r.ResolveCheck(ctx, &ResolveCheckRequest{
			Subject:        subject,
			Relation:       relation,
			Object:         object,
			VisitedPaths:   visited,
			RemainingDepth: r.maxDepth,
		})
		if err != nil {
			return nil, err
		}

		if resp.Allowed {
			span.SetAttributes(attribute.Bool("allowed", true))
			return resp, nil
		}

		meta = meta.merge(resp.ResolutionMetadata)
	}

	span.SetAttributes(attribute.Bool("allowed", false))
	return &ResolveCheckResponse{Allowed: false, ResolutionMetadata: meta}, nil
}

// ResolveCheck resolves one node of the evaluation tree. An exhausted depth
// budget or a revisit of a triple already on the current path resolves to
// false rather than an error; an undefined relation met during expansion
// aborts the query with a configuration error.
func (r *Resolver) ResolveCheck(ctx context.Context, req *ResolveCheckRequest) (*ResolveCheckResponse, error) {
	checkKey := tuple.CheckKey(req.Subject, req.Relation, req.Object)

	ctx, span := tracer.Start(ctx, "ResolveCheck", trace.WithAttributes(
		attribute.String("check_key", checkKey),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	checkTotalCounter.Inc()

	if req.RemainingDepth <= 0 {
		depthExceededCounter.Inc()
		span.SetAttributes(attribute.Bool("depth_exceeded", true))
		r.logger.WarnWithContext(ctx, "check depth exceeded", zap.String("check_key", checkKey))
		return &ResolveCheckResponse{
			ResolutionMetadata: ResolveCheckResponseMetadata{DepthExceeded: true},
		}, nil
	}

	keySum := keys.CheckKeySum(checkKey)
	if allowed, ok := r.cache.Get(keySum); ok {
		checkCacheHitCounter.Inc()
		span.SetAttributes(attribute.Bool("cached", true), attribute.Bool("allowed", allowed))
		return &ResolveCheckResponse{Allowed: allowed}, nil
	}

	if _, visited := req.VisitedPaths[checkKey]; visited {
		cyclesDetectedCounter.Inc()
		span.SetAttributes(attribute.Bool("cycle_detected", true))
		return &ResolveCheckResponse{
			ResolutionMetadata: ResolveCheckResponseMetadata{CycleDetected: true},
		}, nil
	}

	req.VisitedPaths[checkKey] = struct{}{}
	defer delete(req.VisitedPaths, checkKey)

	resp, err := r.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	// cycle- and depth-tainted falses hold only for this call path and must
	// not be shared through the cache
	if resp.pathIndependent() {
		r.cache.Set(keySum, resp.Allowed)
	}

	span.SetAttributes(attribute.Bool("allowed", resp.Allowed))
	return resp, nil
}

func (r *Resolver) resolve(ctx context.Context, req *ResolveCheckRequest) (*ResolveCheckResponse, error) {
	// a direct fact satisfies the relation with no expansion
	if r.index.HasDirect(req.Subject, req.Relation, req.Object) {
		return &ResolveCheckResponse{Allowed: true}, nil
	}

	meta := ResolveCheckResponseMetadata{}

	// indirect membership: facts granting the relation to a userset, e.g.
	// 'file:doc1#viewer@group:eng#member' holds for every member of eng
	for _, edge := range r.index.UsersetEdges(req.Object, req.Relation) {
		resp, err := r.ResolveCheck(ctx, &ResolveCheckRequest{
			Subject:        req.Subject,
			Relation:       edge.Relation,
			Object:         edge.Group,
			VisitedPaths:   req.VisitedPaths,
			RemainingDepth: req.RemainingDepth - 1,
		})
		if err != nil {
			return nil, err
		}
		if resp.Allowed {
			return resp, nil
		}
		meta = meta.merge(resp.ResolutionMetadata)
	}

	expr, err := r.schemas.GetRelation(req.Object.Type, req.Relation)
	if err != nil {
		return nil, err
	}

	switch e := expr.(type) {
	case schema.Direct:
		// exhausted by the fact lookups above

	case schema.Union:
		for _, branch := range e.Branches {
			resp, err := r.ResolveCheck(ctx, &ResolveCheckRequest{
				Subject:        req.Subject,
				Relation:       branch,
				Object:         req.Object,
				VisitedPaths:   req.VisitedPaths,
				RemainingDepth: req.RemainingDepth - 1,
			})
			if err != nil {
				return nil, err
			}
			if resp.Allowed {
				return resp, nil
			}
			meta = meta.merge(resp.ResolutionMetadata)
		}

	case schema.TupleToUserset:
		for _, target := range r.index.TuplesetTargets(req.Object, e.Tupleset) {
			resp, err := r.ResolveCheck(ctx, &ResolveCheckRequest{
				Subject:        req.Subject,
				Relation:       e.Computed,
				Object:         target,
				VisitedPaths:   req.VisitedPaths,
				RemainingDepth: req.RemainingDepth - 1,
			})
			if err != nil {
				return nil, err
			}
			if resp.Allowed {
				return resp, nil
			}
			meta = meta.merge(resp.ResolutionMetadata)
		}
	}

	return &ResolveCheckResponse{Allowed: false, ResolutionMetadata: meta}, nil
}

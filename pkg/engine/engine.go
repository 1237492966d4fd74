// Package engine is the public entry point of the permission evaluator: it
// assembles evaluation snapshots and fans batches of permission queries out
// over the recursive check resolver, sharing one fact index and one result
// cache per batch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Yiling-J/theine-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/permgraph/permgraph/internal/concurrency"
	"github.com/permgraph/permgraph/internal/graph"
	"github.com/permgraph/permgraph/pkg/logger"
	"github.com/permgraph/permgraph/pkg/schema"
)

var tracer = otel.Tracer("pkg/engine")

const (
	// DefaultMaxConcurrentChecks bounds the queries of one batch in flight
	// at once.
	DefaultMaxConcurrentChecks = 32

	// DefaultMaxChecksPerBatch bounds the size of one batch.
	DefaultMaxChecksPerBatch = 4096

	defaultSharedCacheCapacity = 10000
	defaultSharedCacheTTL      = 10 * time.Second
)

// ErrTooManyChecks is returned by BatchCheck when the batch exceeds the
// configured size limit.
var ErrTooManyChecks = errors.New("too many checks in batch")

// Engine evaluates batches of permission queries. An Engine holds no
// per-snapshot state and is safe for concurrent use; each BatchCheck
// invocation builds its own batch-scoped cache and visiting sets, so
// unrelated batches never share mutable state.
type Engine struct {
	logger              logger.Logger
	maxConcurrentChecks int
	maxChecksPerBatch   int
	maxDepth            int

	// sharedCache is the optional caller-opted-in cross-batch cache. It is
	// keyed by snapshot fingerprint, so stale entries die with their
	// snapshot, and TTL-bounded as a second line of defense.
	sharedCache         *theine.Cache[string, bool]
	sharedCacheTTL      time.Duration
	sharedCacheCapacity int64
	sharedCacheEnabled  bool
}

type EngineOption func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMaxConcurrentChecks bounds how many queries of one batch are evaluated
// concurrently.
func WithMaxConcurrentChecks(limit int) EngineOption {
	return func(e *Engine) {
		e.maxConcurrentChecks = limit
	}
}

// WithMaxChecksPerBatch bounds the number of queries accepted per batch.
func WithMaxChecksPerBatch(limit int) EngineOption {
	return func(e *Engine) {
		e.maxChecksPerBatch = limit
	}
}

// WithMaxDepth overrides the default recursion bound of every check.
func WithMaxDepth(depth int) EngineOption {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// WithSharedResultCache enables the cross-batch result cache. Entries are
// keyed by snapshot fingerprint and evicted after ttl; the caller
// invalidates the cache for changed facts by building a new snapshot. Zero
// values select the defaults.
func WithSharedResultCache(capacity int64, ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.sharedCacheEnabled = true
		if capacity > 0 {
			e.sharedCacheCapacity = capacity
		}
		if ttl > 0 {
			e.sharedCacheTTL = ttl
		}
	}
}

// NewEngine constructs an Engine.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		logger:              logger.NewNoopLogger(),
		maxConcurrentChecks: DefaultMaxConcurrentChecks,
		maxChecksPerBatch:   DefaultMaxChecksPerBatch,
		maxDepth:            graph.DefaultMaxDepth,
		sharedCacheTTL:      defaultSharedCacheTTL,
		sharedCacheCapacity: defaultSharedCacheCapacity,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.sharedCacheEnabled {
		cache, err := theine.NewBuilder[string, bool](e.sharedCacheCapacity).Build()
		if err != nil {
			return nil, fmt.Errorf("building shared result cache: %w", err)
		}
		e.sharedCache = cache
	}

	return e, nil
}

// Close releases the shared result cache, if one was enabled.
func (e *Engine) Close() {
	if e.sharedCache != nil {
		e.sharedCache.Close()
		e.sharedCache = nil
	}
}

// Check evaluates a single query against the snapshot. It is equivalent to a
// one-element BatchCheck.
func (e *Engine) Check(ctx context.Context, snap *Snapshot, query Query) (bool, error) {
	results, err := e.BatchCheck(ctx, snap, []Query{query})
	if err != nil {
		return false, err
	}

	outcome := results[query.Key()]
	return outcome.Allowed, outcome.Err
}

// BatchCheck evaluates the queries against the snapshot and returns exactly
// one outcome per query key. A query whose object type carries a schema
// defect reports the configuration error in its outcome; it never aborts the
// rest of the batch. Cancelling ctx abandons unevaluated queries with the
// context's error; outcomes already computed stay valid.
func (e *Engine) BatchCheck(ctx context.Context, snap *Snapshot, queries []Query) (map[QueryKey]Outcome, error) {
	ctx, span := tracer.Start(ctx, "BatchCheck", trace.WithAttributes(
		attribute.Int("query_count", len(queries)),
	))
	defer span.End()

	if len(queries) > e.maxChecksPerBatch {
		return nil, fmt.Errorf("%w: received %d, the maximum allowed is %d", ErrTooManyChecks, len(queries), e.maxChecksPerBatch)
	}

	var fingerprint uint64
	if e.sharedCache != nil {
		var err error
		fingerprint, err = snap.Fingerprint()
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()

	cache := graph.NewResultCache()
	resolver := graph.NewResolver(snap.Index(), snap.Schemas(), cache,
		graph.WithLogger(e.logger),
		graph.WithMaxDepth(e.maxDepth),
	)

	results := make(map[QueryKey]Outcome, len(queries))
	var mu sync.Mutex

	// object types with no namespace entry at all, discovered mid-batch;
	// later queries against them skip evaluation and report the same error
	var undefinedTypes sync.Map

	// identical queries in flight at the same time collapse to one
	// evaluation
	var group singleflight.Group

	pool := concurrency.NewPool(ctx, e.maxConcurrentChecks)
	for _, query := range queries {
		pool.Go(func(ctx context.Context) error {
			outcome := e.evaluate(ctx, resolver, &group, &undefinedTypes, fingerprint, query)

			mu.Lock()
			results[query.Key()] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = pool.Wait()

	e.logger.DebugWithContext(ctx, "batch check complete",
		zap.Int("queries", len(queries)),
		zap.Int("memoized_subproblems", cache.Len()),
		zap.Duration("duration", time.Since(start)),
	)

	return results, nil
}

func (e *Engine) evaluate(
	ctx context.Context,
	resolver *graph.Resolver,
	group *singleflight.Group,
	undefinedTypes *sync.Map,
	fingerprint uint64,
	query Query,
) Outcome {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return Outcome{Err: err, Duration: time.Since(start)}
	}

	if err, ok := undefinedTypes.Load(query.Object.Type); ok {
		return Outcome{Err: err.(error), Duration: time.Since(start)}
	}

	var sharedKey string
	if e.sharedCache != nil {
		sharedKey = strconv.FormatUint(fingerprint, 10) + "/" + query.String()
		if allowed, ok := e.sharedCache.Get(sharedKey); ok {
			return Outcome{Allowed: allowed, Duration: time.Since(start)}
		}
	}

	v, err, _ := group.Do(query.String(), func() (interface{}, error) {
		resp, err := resolver.ResolvePermission(ctx, query.Subject, query.Permission, query.Object)
		if err != nil {
			return nil, err
		}
		return resp.Allowed, nil
	})
	if err != nil {
		var objectTypeErr *schema.ObjectTypeUndefinedError
		if errors.As(err, &objectTypeErr) {
			undefinedTypes.LoadOrStore(objectTypeErr.ObjectType, err)
		}
		return Outcome{Err: err, Duration: time.Since(start)}
	}

	allowed := v.(bool)
	if e.sharedCache != nil {
		e.sharedCache.SetWithTTL(sharedKey, allowed, 1, e.sharedCacheTTL)
	}

	return Outcome{Allowed: allowed, Duration: time.Since(start)}
}

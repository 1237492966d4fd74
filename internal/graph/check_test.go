package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/permgraph/permgraph/internal/index"
	"github.com/permgraph/permgraph/internal/keys"
	"github.com/permgraph/permgraph/pkg/schema"
	"github.com/permgraph/permgraph/pkg/tuple"
)

var (
	alice = tuple.NewEntity("user", "alice")
	bob   = tuple.NewEntity("user", "bob")
	doc1  = tuple.NewEntity("file", "doc1")
)

func fileSchemas() schema.Set {
	return schema.Set{
		"file": {
			Relations: map[string]schema.RelationExpr{
				"owner":  schema.This(),
				"viewer": schema.UnionOf("owner"),
			},
			Permissions: map[string][]string{
				"view": {"viewer"},
				"edit": {"owner"},
			},
		},
	}
}

func newTestResolver(facts []tuple.Fact, schemas schema.Set, opts ...ResolverOption) *Resolver {
	return NewResolver(index.New(facts), schemas, NewResultCache(), opts...)
}

func TestResolvePermissionDirectGrant(t *testing.T) {
	r := newTestResolver(
		[]tuple.Fact{tuple.NewFact(alice, "owner", doc1)},
		fileSchemas(),
	)

	resp, err := r.ResolvePermission(context.Background(), alice, "view", doc1)
	require.NoError(t, err)
	require.True(t, resp.Allowed)

	resp, err = r.ResolvePermission(context.Background(), bob, "view", doc1)
	require.NoError(t, err)
	require.False(t, resp.Allowed)

	resp, err = r.ResolvePermission(context.Background(), alice, "edit", doc1)
	require.NoError(t, err)
	require.True(t, resp.Allowed)
}

func TestUnionEqualsOrOfBranches(t *testing.T) {
	schemas := schema.Set{
		"file": {
			Relations: map[string]schema.RelationExpr{
				"owner":  schema.This(),
				"editor": schema.This(),
				"viewer": schema.UnionOf("owner", "editor"),
			},
		},
	}

	facts := []tuple.Fact{
		tuple.NewFact(alice, "owner", doc1),
		tuple.NewFact(bob, "editor", doc1),
	}

	check := func(r *Resolver, subject tuple.Entity, relation string) bool {
		resp, err := r.ResolveCheck(context.Background(), &ResolveCheckRequest{
			Subject:        subject,
			Relation:       relation,
			Object:         doc1,
			VisitedPaths:   map[string]struct{}{},
			RemainingDepth: DefaultMaxDepth,
		})
		require.NoError(t, err)
		return resp.Allowed
	}

	for _, subject := range []tuple.Entity{alice, bob, tuple.NewEntity("user", "carol")} {
		// a fresh resolver per probe so memoization cannot couple the results
		viaUnion := check(newTestResolver(facts, schemas), subject, "viewer")
		viaBranches := check(newTestResolver(facts, schemas), subject, "owner") ||
			check(newTestResolver(facts, schemas), subject, "editor")
		require.Equal(t, viaBranches, viaUnion, "subject %s", subject)
	}
}

func TestIndirectMembershipThroughUserset(t *testing.T) {
	eng := tuple.NewEntity("group", "eng")

	schemas := fileSchemas()
	schemas["group"] = &schema.Namespace{
		Relations: map[string]schema.RelationExpr{
			"member": schema.This(),
		},
	}

	r := newTestResolver(
		[]tuple.Fact{
			tuple.NewUsersetFact(eng, "member", "viewer", doc1),
			tuple.NewFact(alice, "member", eng),
		},
		schemas,
	)

	resp, err := r.ResolvePermission(context.Background(), alice, "view", doc1)
	require.NoError(t, err)
	require.True(t, resp.Allowed)

	resp, err = r.ResolvePermission(context.Background(), bob, "view", doc1)
	require.NoError(t, err)
	require.False(t, resp.Allowed)
}

func TestTupleToUsersetInheritance(t *testing.T) {
	sub := tuple.NewEntity("folder", "sub")
	root := tuple.NewEntity("folder", "root")

	schemas := schema.Set{
		"folder": {
			Relations: map[string]schema.RelationExpr{
				"parent":           schema.This(),
				"viewer":           schema.This(),
				"inherited_viewer": schema.TupleTo("parent", "viewer"),
			},
		},
	}

	r := newTestResolver(
		[]tuple.Fact{
			tuple.NewFact(sub, "parent", root),
			tuple.NewFact(alice, "viewer", root),
		},
		schemas,
	)

	resp, err := r.ResolveCheck(context.Background(), &ResolveCheckRequest{
		Subject:        alice,
		Relation:       "inherited_viewer",
		Object:         sub,
		VisitedPaths:   map[string]struct{}{},
		RemainingDepth: DefaultMaxDepth,
	})
	require.NoError(t, err)
	require.True(t, resp.Allowed)

	resp, err = r.ResolveCheck(context.Background(), &ResolveCheckRequest{
		Subject:        bob,
		Relation:       "inherited_viewer",
		Object:         sub,
		VisitedPaths:   map[string]struct{}{},
		RemainingDepth: DefaultMaxDepth,
	})
	require.NoError(t, err)
	require.False(t, resp.Allowed)
}

func cyclicMembershipFixture() ([]tuple.Fact, schema.Set) {
	groupA := tuple.NewEntity("group", "a")
	groupB := tuple.NewEntity("group", "b")

	schemas := schema.Set{
		"group": {
			Relations: map[string]schema.RelationExpr{
				"member": schema.This(),
			},
		},
		"file": {
			Relations: map[string]schema.RelationExpr{
				"owner":  schema.This(),
				"viewer": schema.UnionOf("looped", "owner"),
				"looped": schema.This(),
			},
			Permissions: map[string][]string{
				"view": {"viewer"},
			},
		},
	}

	facts := []tuple.Fact{
		// group a's members include group b's members and vice versa
		tuple.NewUsersetFact(groupB, "member", "member", groupA),
		tuple.NewUsersetFact(groupA, "member", "member", groupB),
		// the looped relation resolves through the cyclic groups
		tuple.NewUsersetFact(groupA, "member", "looped", doc1),
		// a non-cyclic sibling grant in the same union
		tuple.NewFact(alice, "owner", doc1),
	}

	return facts, schemas
}

func TestCycleResolvesFalseWithoutAffectingSiblings(t *testing.T) {
	facts, schemas := cyclicMembershipFixture()
	r := newTestResolver(facts, schemas)

	// the cyclic branch alone terminates and denies
	resp, err := r.ResolveCheck(context.Background(), &ResolveCheckRequest{
		Subject:        bob,
		Relation:       "looped",
		Object:         doc1,
		VisitedPaths:   map[string]struct{}{},
		RemainingDepth: DefaultMaxDepth,
	})
	require.NoError(t, err)
	require.False(t, resp.Allowed)
	require.True(t, resp.ResolutionMetadata.CycleDetected)

	// the sibling direct grant in the same union still holds
	permResp, err := r.ResolvePermission(context.Background(), alice, "view", doc1)
	require.NoError(t, err)
	require.True(t, permResp.Allowed)
}

func TestCycleShortCircuitIsNotCached(t *testing.T) {
	facts, schemas := cyclicMembershipFixture()

	cache := NewResultCache()
	r := NewResolver(index.New(facts), schemas, cache)

	resp, err := r.ResolveCheck(context.Background(), &ResolveCheckRequest{
		Subject:        bob,
		Relation:       "looped",
		Object:         doc1,
		VisitedPaths:   map[string]struct{}{},
		RemainingDepth: DefaultMaxDepth,
	})
	require.NoError(t, err)
	require.False(t, resp.Allowed)

	// every triple on the cyclic resolution is path-dependent, so nothing
	// may have been memoized
	require.Zero(t, cache.Len())

	// the same triples remain evaluable later in the batch
	resp, err = r.ResolveCheck(context.Background(), &ResolveCheckRequest{
		Subject:        bob,
		Relation:       "looped",
		Object:         doc1,
		VisitedPaths:   map[string]struct{}{},
		RemainingDepth: DefaultMaxDepth,
	})
	require.NoError(t, err)
	require.False(t, resp.Allowed)
}

func deepFolderFixture(depth int) ([]tuple.Fact, schema.Set) {
	schemas := schema.Set{
		"folder": {
			Relations: map[string]schema.RelationExpr{
				"parent":    schema.This(),
				"owner":     schema.This(),
				"viewer":    schema.UnionOf("owner", "inherited"),
				"inherited": schema.TupleTo("parent", "viewer"),
			},
			Permissions: map[string][]string{
				"view": {"viewer"},
			},
		},
	}

	var facts []tuple.Fact
	for i := 0; i < depth; i++ {
		facts = append(facts, tuple.NewFact(
			tuple.NewEntity("folder", fmt.Sprintf("f%d", i)),
			"parent",
			tuple.NewEntity("folder", fmt.Sprintf("f%d", i+1)),
		))
	}
	facts = append(facts, tuple.NewFact(alice, "owner", tuple.NewEntity("folder", fmt.Sprintf("f%d", depth))))

	return facts, schemas
}

func TestDepthBound(t *testing.T) {
	t.Run("shallow_chain_resolves", func(t *testing.T) {
		facts, schemas := deepFolderFixture(5)
		r := newTestResolver(facts, schemas)

		resp, err := r.ResolvePermission(context.Background(), alice, "view", tuple.NewEntity("folder", "f0"))
		require.NoError(t, err)
		require.True(t, resp.Allowed)
	})

	t.Run("deep_chain_resolves_false", func(t *testing.T) {
		facts, schemas := deepFolderFixture(60)
		r := newTestResolver(facts, schemas)

		resp, err := r.ResolvePermission(context.Background(), alice, "view", tuple.NewEntity("folder", "f0"))
		require.NoError(t, err)
		require.False(t, resp.Allowed)
		require.True(t, resp.ResolutionMetadata.DepthExceeded)
	})

	t.Run("depth_exceeded_false_is_not_cached", func(t *testing.T) {
		facts, schemas := deepFolderFixture(60)
		cache := NewResultCache()
		r := NewResolver(index.New(facts), schemas, cache)

		_, err := r.ResolvePermission(context.Background(), alice, "view", tuple.NewEntity("folder", "f0"))
		require.NoError(t, err)

		// the viewer triples along the chain are depth-tainted and must not
		// be memoized; the owner probes are terminal falses and may be
		_, ok := cache.Get(keys.CheckKeySum(tuple.CheckKey(alice, "viewer", tuple.NewEntity("folder", "f0"))))
		require.False(t, ok)
		_, ok = cache.Get(keys.CheckKeySum(tuple.CheckKey(alice, "viewer", tuple.NewEntity("folder", "f10"))))
		require.False(t, ok)
	})
}

func TestConfigErrors(t *testing.T) {
	r := newTestResolver(
		[]tuple.Fact{tuple.NewFact(alice, "owner", doc1)},
		schema.Set{
			"file": {
				Relations: map[string]schema.RelationExpr{
					"owner":  schema.This(),
					"viewer": schema.UnionOf("owner", "editor"), // editor undefined
				},
				Permissions: map[string][]string{
					"view": {"viewer"},
				},
			},
		},
	)

	t.Run("undefined_permission", func(t *testing.T) {
		_, err := r.ResolvePermission(context.Background(), alice, "archive", doc1)
		require.ErrorIs(t, err, schema.ErrPermissionUndefined)
	})

	t.Run("undefined_object_type", func(t *testing.T) {
		_, err := r.ResolvePermission(context.Background(), alice, "view", tuple.NewEntity("report", "q3"))
		require.ErrorIs(t, err, schema.ErrObjectTypeUndefined)
	})

	t.Run("undefined_relation_in_union_branch", func(t *testing.T) {
		// bob has no direct grant, so expansion reaches the dangling branch
		_, err := r.ResolvePermission(context.Background(), bob, "view", doc1)
		require.ErrorIs(t, err, schema.ErrRelationUndefined)
	})
}

func TestNoPathResolvesFalseNotError(t *testing.T) {
	r := newTestResolver(nil, fileSchemas())

	resp, err := r.ResolvePermission(context.Background(), bob, "view", doc1)
	require.NoError(t, err)
	require.False(t, resp.Allowed)
	require.False(t, resp.ResolutionMetadata.CycleDetected)
	require.False(t, resp.ResolutionMetadata.DepthExceeded)
}

func TestMemoizationAcrossQueries(t *testing.T) {
	cache := NewResultCache()
	r := NewResolver(index.New([]tuple.Fact{tuple.NewFact(alice, "owner", doc1)}), fileSchemas(), cache)

	resp, err := r.ResolvePermission(context.Background(), alice, "view", doc1)
	require.NoError(t, err)
	require.True(t, resp.Allowed)
	require.NotZero(t, cache.Len())

	// the memoized triple answers without re-expansion
	sum := keys.CheckKeySum(tuple.CheckKey(alice, "owner", doc1))
	allowed, ok := cache.Get(sum)
	require.True(t, ok)
	require.True(t, allowed)

	resp, err = r.ResolvePermission(context.Background(), alice, "view", doc1)
	require.NoError(t, err)
	require.True(t, resp.Allowed)
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestResolver([]tuple.Fact{tuple.NewFact(alice, "owner", doc1)}, fileSchemas())

	_, err := r.ResolveCheck(ctx, &ResolveCheckRequest{
		Subject:        alice,
		Relation:       "owner",
		Object:         doc1,
		VisitedPaths:   map[string]struct{}{},
		RemainingDepth: DefaultMaxDepth,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCustomMaxDepth(t *testing.T) {
	facts, schemas := deepFolderFixture(10)
	r := newTestResolver(facts, schemas, WithMaxDepth(5))

	require.Equal(t, 5, r.MaxDepth())

	resp, err := r.ResolvePermission(context.Background(), alice, "view", tuple.NewEntity("folder", "f0"))
	require.NoError(t, err)
	require.False(t, resp.Allowed)
	require.True(t, resp.ResolutionMetadata.DepthExceeded)
}

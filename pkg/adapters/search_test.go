package adapters

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/vaultworker/internal/testutils"
	"github.com/jzx17/vaultworker/pkg/orchestrator"
	"github.com/jzx17/vaultworker/pkg/searchindex"
	"github.com/jzx17/vaultworker/pkg/types"
)

func TestSearch_WorkerAndLocalAgree(t *testing.T) {
	ctx := testutils.Context(t)
	a := NewSearchAdapter(newOrchestrator(t, nil), searchindex.New(), WithQueryCache(0, 0))

	n, rep, err := a.Index(ctx, vaultItems())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.False(t, rep.WorkerUsed, "nothing to mirror before the first worker query")

	for _, c := range []searchindex.Criteria{
		{Text: "mail"},
		{Text: "alice"},
		{Text: "maul", Fuzzy: true, MaxDistance: 1},
		{Tags: []string{"work"}},
		{Text: "example", Limit: 2},
	} {
		viaWorker, rep, err := a.Query(ctx, c, UseRoute(RouteWorker))
		require.NoError(t, err)
		assert.True(t, rep.WorkerUsed)

		viaLocal, rep, err := a.Query(ctx, c, UseRoute(RouteLocal))
		require.NoError(t, err)
		assert.False(t, rep.WorkerUsed)

		if diff := cmp.Diff(viaLocal, viaWorker); diff != "" {
			t.Errorf("query %+v: worker and local results differ (-local +worker):\n%s", c, diff)
		}
	}
}

func TestSearch_MirrorFollowsWrites(t *testing.T) {
	ctx := testutils.Context(t)
	a := NewSearchAdapter(newOrchestrator(t, nil), searchindex.New(), WithQueryCache(0, 0))
	_, _, err := a.Index(ctx, vaultItems())
	require.NoError(t, err)
	_, _, err = a.Query(ctx, searchindex.Criteria{Text: "mail"}, UseRoute(RouteWorker))
	require.NoError(t, err)

	_, rep, err := a.Index(ctx, []searchindex.Item{{ID: "5", Title: "Mail archive"}})
	require.NoError(t, err)
	assert.True(t, rep.WorkerUsed)

	removed, rep, err := a.Remove(ctx, []string{"1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, rep.WorkerUsed)

	hits, rep, err := a.Query(ctx, searchindex.Criteria{Text: "mail"}, UseRoute(RouteWorker))
	require.NoError(t, err)
	assert.True(t, rep.WorkerUsed)
	assert.ElementsMatch(t, []string{"3", "5"}, hitIDs(hits))
	assert.Equal(t, 4, a.Len())
}

func TestSearch_ReseedsNewInstance(t *testing.T) {
	ctx := testutils.Context(t)
	o := newOrchestrator(t, nil)
	a := NewSearchAdapter(o, searchindex.New(), WithQueryCache(0, 0))
	_, _, err := a.Index(ctx, vaultItems())
	require.NoError(t, err)

	hits, _, err := a.Query(ctx, searchindex.Criteria{Text: "bank"}, UseRoute(RouteWorker))
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, hitIDs(hits))

	require.NoError(t, o.Restart(ctx, types.WorkerTypeSearch))

	// the write lands while the new instance has no mirror yet
	_, rep, err := a.Index(ctx, []searchindex.Item{{ID: "6", Title: "Bank card"}})
	require.NoError(t, err)
	assert.False(t, rep.WorkerUsed)

	hits, rep, err = a.Query(ctx, searchindex.Criteria{Text: "bank"}, UseRoute(RouteWorker))
	require.NoError(t, err)
	assert.True(t, rep.WorkerUsed)
	assert.ElementsMatch(t, []string{"2", "6"}, hitIDs(hits))
}

func TestSearch_Cache(t *testing.T) {
	ctx := testutils.Context(t)
	a := NewSearchAdapter(nil, searchindex.New())
	_, _, err := a.Index(ctx, vaultItems())
	require.NoError(t, err)

	c := searchindex.Criteria{Text: "Mail", Tags: []string{"work"}}
	first, rep, err := a.Query(ctx, c)
	require.NoError(t, err)
	assert.False(t, rep.Cached)

	second, rep, err := a.Query(ctx, searchindex.Criteria{Text: "mail", Tags: []string{"WORK"}})
	require.NoError(t, err)
	assert.True(t, rep.Cached, "normalized criteria share a cache entry")
	assert.Equal(t, first, second)

	_, _, err = a.Index(ctx, []searchindex.Item{{ID: "7", Title: "Mail relay", Tags: []string{"work"}}})
	require.NoError(t, err)
	third, rep, err := a.Query(ctx, c)
	require.NoError(t, err)
	assert.False(t, rep.Cached, "writes invalidate cached results")
	assert.Len(t, third, len(first)+1)
}

func TestSearch_Heuristic(t *testing.T) {
	ctx := testutils.Context(t)
	a := NewSearchAdapter(newOrchestrator(t, nil), searchindex.New(), WithThreshold(8), WithQueryCache(0, 0))
	_, _, err := a.Index(ctx, vaultItems()[:1])
	require.NoError(t, err)

	_, rep, err := a.Query(ctx, searchindex.Criteria{Text: "mail"})
	require.NoError(t, err)
	assert.False(t, rep.WorkerUsed, "small index, simple query")

	_, _, err = a.Index(ctx, vaultItems()[1:2])
	require.NoError(t, err)
	_, rep, err = a.Query(ctx, searchindex.Criteria{Text: "mail", Fuzzy: true})
	require.NoError(t, err)
	assert.True(t, rep.WorkerUsed, "fuzzy queries switch at a quarter of the threshold")

	_, rep, err = a.Query(ctx, searchindex.Criteria{Text: "mail"})
	require.NoError(t, err)
	assert.False(t, rep.WorkerUsed)

	for n := 0; n < 6; n++ {
		_, _, err = a.Index(ctx, []searchindex.Item{{ID: string(rune('a' + n)), Title: "filler"}})
		require.NoError(t, err)
	}
	_, rep, err = a.Query(ctx, searchindex.Criteria{Text: "mail"})
	require.NoError(t, err)
	assert.True(t, rep.WorkerUsed, "large index")
}

func TestSearch_UnresponsiveWorkerFallsBack(t *testing.T) {
	ctx := testutils.Context(t)
	cfg := orchestrator.DefaultConfig()
	cfg.HealthCheckInterval = 20 * time.Millisecond
	cfg.ProbeTimeout = 20 * time.Millisecond
	cfg.ProbeRetryDelay = 5 * time.Millisecond
	o := newOrchestrator(t, cfg)
	h := &hangingHandler{Handler: &SearchHandler{Index: searchindex.New()}}
	register(t, o, types.WorkerTypeSearch, h)

	a := NewSearchAdapter(o, searchindex.New(), WithQueryCache(0, 0))
	_, _, err := a.Index(ctx, vaultItems())
	require.NoError(t, err)
	_, rep, err := a.Query(ctx, searchindex.Criteria{Text: "mail"}, UseRoute(RouteWorker))
	require.NoError(t, err)
	require.True(t, rep.WorkerUsed)

	h.hung.Store(true)
	h.pings.Store(true)
	o.Health().Start()
	require.Eventually(t, func() bool { return !o.IsHealthy(types.WorkerTypeSearch) }, 2*time.Second, 5*time.Millisecond)

	hits, rep, err := a.Query(ctx, searchindex.Criteria{Text: "mail"}, UseRoute(RouteWorker))
	require.NoError(t, err)
	assert.False(t, rep.WorkerUsed)
	assert.Equal(t, ReasonUnavailable, rep.FallbackReason)
	assert.ElementsMatch(t, []string{"1", "3"}, hitIDs(hits))
}

func hitIDs(hits []searchindex.Hit) []string {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids
}

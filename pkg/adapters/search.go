package adapters

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/orchestrator"
	"github.com/jzx17/vaultworker/pkg/searchindex"
	"github.com/jzx17/vaultworker/pkg/types"
)

// DefaultSearchThreshold is the index size from which every query prefers the worker. Fuzzy and
// multi-term queries switch at a quarter of it.
const DefaultSearchThreshold = 500

// SearchIndex is the search collaborator. searchindex.Index implements it.
type SearchIndex interface {
	Index(items []searchindex.Item) int
	Replace(items []searchindex.Item) int
	Remove(ids []string) int
	Len() int
	Items() []searchindex.Item
	Query(c searchindex.Criteria) []searchindex.Hit
}

// SearchAdapter owns the authoritative local index and keeps a mirror of it inside the search
// worker. Writes always land locally first; the worker copy is re-seeded in full whenever the
// serving instance changes.
type SearchAdapter struct {
	base
	local SearchIndex
	cache *ttlcache.Cache[string, []searchindex.Hit]

	// version changes on every write so cached results of an older index are never served
	version atomic.Uint64

	mirrorMu sync.Mutex
	mirrored string
}

// NewSearchAdapter creates a search adapter around local. o may be nil.
func NewSearchAdapter(o *orchestrator.Orchestrator, local SearchIndex, opts ...Option) *SearchAdapter {
	s := newSettings(DefaultSearchThreshold, opts)
	a := &SearchAdapter{
		base:  newBase(o, types.WorkerTypeSearch, s),
		local: local,
	}
	if s.cacheTTL > 0 {
		cacheOpts := []ttlcache.Option[string, []searchindex.Hit]{
			ttlcache.WithTTL[string, []searchindex.Hit](s.cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, []searchindex.Hit](),
		}
		if s.cacheCapacity > 0 {
			cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, []searchindex.Hit](s.cacheCapacity))
		}
		a.cache = ttlcache.New(cacheOpts...)
	}
	return a
}

// Index adds items locally and forwards them to the worker mirror
func (a *SearchAdapter) Index(ctx context.Context, items []searchindex.Item) (int, Report, error) {
	a.mirrorMu.Lock()
	defer a.mirrorMu.Unlock()

	n := a.local.Index(items)
	a.invalidate()
	rep := a.forward(ctx, ops.Index{Items: items}, func(ctx context.Context) (*types.ExecMetrics, error) {
		_, m, err := orchestrator.Call[ops.Indexed](ctx, a.o, a.workerType, ops.Index{Items: items}, a.sendConfig(call{}))
		return m, err
	})
	return n, rep, nil
}

// Remove deletes items locally and from the worker mirror
func (a *SearchAdapter) Remove(ctx context.Context, ids []string) (int, Report, error) {
	a.mirrorMu.Lock()
	defer a.mirrorMu.Unlock()

	n := a.local.Remove(ids)
	a.invalidate()
	rep := a.forward(ctx, ops.Remove{IDs: ids}, func(ctx context.Context) (*types.ExecMetrics, error) {
		_, m, err := orchestrator.Call[ops.Removed](ctx, a.o, a.workerType, ops.Remove{IDs: ids}, a.sendConfig(call{}))
		return m, err
	})
	return n, rep, nil
}

// Len returns the number of locally indexed items
func (a *SearchAdapter) Len() int {
	return a.local.Len()
}

// Query runs criteria on the worker when the index is large or the query expensive, otherwise on
// the local index. Results are cached until the next write.
func (a *SearchAdapter) Query(ctx context.Context, criteria searchindex.Criteria, opts ...CallOption) ([]searchindex.Hit, Report, error) {
	start := a.clock.Now()
	key := a.cacheKey(criteria)
	if a.cache != nil {
		if item := a.cache.Get(key); item != nil {
			return item.Value(), Report{Cached: true, Duration: a.clock.Since(start)}, nil
		}
	}

	c := newCall(opts)
	c.prepare = func(ctx context.Context) error { return a.ensureMirror(ctx, c) }
	res, rep, err := run(ctx, &a.base, c, c.decide(a.shouldUseWorker(criteria)), ops.Query{Criteria: criteria},
		func() (ops.QueryResult, error) {
			return ops.QueryResult{Hits: a.local.Query(criteria)}, nil
		})
	if err != nil {
		return nil, rep, err
	}
	if a.cache != nil {
		a.cache.Set(key, res.Hits, ttlcache.DefaultTTL)
	}
	return res.Hits, rep, nil
}

func (a *SearchAdapter) shouldUseWorker(c searchindex.Criteria) bool {
	n := a.local.Len()
	if n >= a.threshold {
		return true
	}
	expensive := c.Fuzzy || len(c.Terms()) > 2
	return expensive && n >= a.threshold/4
}

// ensureMirror makes sure the serving instance holds a full copy of the local index
func (a *SearchAdapter) ensureMirror(ctx context.Context, c call) error {
	a.mirrorMu.Lock()
	defer a.mirrorMu.Unlock()

	if !a.o.AutoInitialize(ctx, a.workerType, a.local.Len()) {
		return &types.WorkerError{
			Kind:       types.KindUnavailable,
			WorkerType: a.workerType,
			Operation:  types.OpQuery,
			Cause:      fmt.Errorf("instance is %s", a.o.State(a.workerType)),
		}
	}
	id := a.o.InstanceID(a.workerType)
	if id == a.mirrored {
		return nil
	}

	items := a.local.Items()
	if _, _, err := orchestrator.Call[ops.Indexed](ctx, a.o, a.workerType, ops.Index{Items: items, Replace: true}, a.sendConfig(c)); err != nil {
		return err
	}
	if a.o.InstanceID(a.workerType) == id {
		a.mirrored = id
	}
	a.logger.Debug("search mirror seeded", zap.String("instance_id", id), zap.Int("items", len(items)))
	return nil
}

// forward applies a write to the mirror when it is current. A failed write drops the mirror so
// the next worker query re-seeds it. Callers hold mirrorMu.
func (a *SearchAdapter) forward(ctx context.Context, req ops.Request, send func(context.Context) (*types.ExecMetrics, error)) Report {
	start := a.clock.Now()
	if a.o == nil || a.mirrored == "" || a.o.InstanceID(a.workerType) != a.mirrored || !a.o.IsHealthy(a.workerType) {
		return Report{Duration: a.clock.Since(start)}
	}

	metrics, err := send(ctx)
	if err != nil {
		a.mirrored = ""
		if ctx.Err() == nil {
			a.fellBack(req.Operation(), ReasonMirror, err)
		}
		return Report{Duration: a.clock.Since(start), FallbackReason: ReasonMirror}
	}
	return Report{WorkerUsed: true, WorkerMetrics: metrics, Duration: a.clock.Since(start)}
}

func (a *SearchAdapter) invalidate() {
	a.version.Add(1)
	if a.cache != nil {
		a.cache.DeleteAll()
	}
}

func (a *SearchAdapter) cacheKey(c searchindex.Criteria) string {
	tags := append([]string(nil), c.Tags...)
	sort.Strings(tags)
	return fmt.Sprintf("%d|%s|%s|%t|%d|%d",
		a.version.Load(), strings.Join(c.Terms(), " "), strings.ToLower(strings.Join(tags, ",")), c.Fuzzy, c.MaxDistance, c.Limit)
}

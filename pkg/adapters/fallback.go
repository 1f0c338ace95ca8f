// Package adapters are the call sites consumers use for encryption, search and file work. Each
// adapter decides per operation whether a worker is worth it, tries the worker, and falls back
// to running the same collaborator on the calling goroutine when the worker is unavailable,
// times out or faults. Operation errors are never hidden by a fallback.
package adapters

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/orchestrator"
	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/worker"
)

// Route overrides the per-operation worker heuristic
type Route int

const (
	// RouteAuto lets the adapter decide
	RouteAuto Route = iota
	// RouteWorker tries the worker regardless of the heuristic; transport failures still fall back
	RouteWorker
	// RouteLocal never touches the worker
	RouteLocal
)

// String returns the string representation of the route
func (r Route) String() string {
	switch r {
	case RouteAuto:
		return "auto"
	case RouteWorker:
		return "worker"
	case RouteLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Fallback reasons reported when a worker attempt was abandoned
const (
	ReasonNoOrchestrator = "no_orchestrator"
	ReasonUnavailable    = "unavailable"
	ReasonTimeout        = "timeout"
	ReasonFault          = "fault"
	ReasonTerminated     = "terminated"
	ReasonInitialization = "initialization"
	ReasonMirror         = "mirror_failed"
)

// Report tells the caller which path served an operation
type Report struct {
	// WorkerUsed is true when the result came from a worker
	WorkerUsed bool

	// Cached is true when the result came from the adapter cache without running anything
	Cached bool

	// Duration is the wall time of the whole call, fallback included
	Duration time.Duration

	// WorkerMetrics are the execution metrics returned by the worker, nil on the local path
	WorkerMetrics *types.ExecMetrics

	// FallbackReason is set when a worker attempt failed and the local path ran instead. It is
	// empty when the heuristic chose the local path up front.
	FallbackReason string
}

// Option configures an adapter
type Option func(*settings)

type settings struct {
	logger    *zap.Logger
	clock     types.Clock
	send      *worker.SendConfig
	threshold int
	warnEvery time.Duration

	cacheTTL      time.Duration
	cacheCapacity uint64
}

// WithLogger sets the adapter logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used for durations and cache expiry decisions
func WithClock(clock types.Clock) Option {
	return func(s *settings) {
		s.clock = types.OrRealClock(clock)
	}
}

// WithSendConfig sets the timeout and retry budget of worker calls
func WithSendConfig(cfg *worker.SendConfig) Option {
	return func(s *settings) {
		s.send = cfg
	}
}

// WithThreshold sets the size from which the adapter prefers the worker. Its unit depends on
// the adapter: bytes for encryption and files, indexed items for search.
func WithThreshold(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.threshold = n
		}
	}
}

// WithFallbackWarnInterval limits fallback warnings to one per interval; 0 logs every fallback
func WithFallbackWarnInterval(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.warnEvery = d
		}
	}
}

// WithQueryCache configures the search result cache. A zero ttl disables it.
func WithQueryCache(ttl time.Duration, capacity uint64) Option {
	return func(s *settings) {
		s.cacheTTL = ttl
		s.cacheCapacity = capacity
	}
}

func newSettings(threshold int, opts []Option) settings {
	s := settings{
		logger:        zap.NewNop(),
		clock:         types.NewRealClock(),
		threshold:     threshold,
		warnEvery:     10 * time.Second,
		cacheTTL:      30 * time.Second,
		cacheCapacity: 256,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// CallOption adjusts a single adapter call
type CallOption func(*call)

type call struct {
	route    Route
	priority types.Priority

	// prepare runs before the worker request; an error abandons the worker path
	prepare func(ctx context.Context) error
}

// UseRoute overrides the adapter heuristic for one call
func UseRoute(r Route) CallOption {
	return func(c *call) {
		c.route = r
	}
}

// WithPriority sets the admission priority of the worker request
func WithPriority(p types.Priority) CallOption {
	return func(c *call) {
		c.priority = p
	}
}

func newCall(opts []CallOption) call {
	var c call
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// decide applies the route override to the heuristic outcome
func (c call) decide(heuristic bool) bool {
	switch c.route {
	case RouteWorker:
		return true
	case RouteLocal:
		return false
	default:
		return heuristic
	}
}

// base holds what every adapter needs to reach its worker type and to fall back
type base struct {
	o          *orchestrator.Orchestrator
	workerType types.WorkerType
	settings
	warn *rate.Limiter
}

func newBase(o *orchestrator.Orchestrator, wt types.WorkerType, s settings) base {
	limit := rate.Inf
	if s.warnEvery > 0 {
		limit = rate.Every(s.warnEvery)
	}
	s.logger = s.logger.With(zap.String("worker_type", wt.String()))
	return base{
		o:          o,
		workerType: wt,
		settings:   s,
		warn:       rate.NewLimiter(limit, 1),
	}
}

func (b *base) sendConfig(c call) *worker.SendConfig {
	cfg := worker.DefaultSendConfig()
	if b.send != nil {
		cp := *b.send
		cfg = &cp
	}
	cfg.Priority = c.priority
	return cfg
}

// run executes req on the worker when useWorker is set and falls back to local on transport
// errors. Operation errors and caller cancellation are returned as they are.
func run[R ops.Result](ctx context.Context, b *base, c call, useWorker bool, req ops.Request, local func() (R, error)) (R, Report, error) {
	start := b.clock.Now()
	var rep Report

	if useWorker {
		res, metrics, reason, err := tryWorker[R](ctx, b, c, req)
		if reason == "" {
			rep.WorkerUsed = true
			rep.WorkerMetrics = metrics
			rep.Duration = b.clock.Since(start)
			return res, rep, err
		}
		rep.FallbackReason = reason
		b.fellBack(req.Operation(), reason, err)
	}

	res, err := local()
	rep.Duration = b.clock.Since(start)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		// same shape the worker path reports
		return res, rep, types.AsOperationError(err)
	}
	return res, rep, err
}

// tryWorker returns a non-empty reason when the local path must take over
func tryWorker[R ops.Result](ctx context.Context, b *base, c call, req ops.Request) (R, *types.ExecMetrics, string, error) {
	var zero R
	if b.o == nil {
		return zero, nil, ReasonNoOrchestrator, nil
	}
	if c.prepare != nil {
		if err := c.prepare(ctx); err != nil {
			if ctx.Err() != nil {
				return zero, nil, "", err
			}
			if types.IsTransportError(err) {
				return zero, nil, fallbackReason(err), err
			}
			return zero, nil, ReasonMirror, err
		}
	}
	res, metrics, err := orchestrator.Call[R](ctx, b.o, b.workerType, req, b.sendConfig(c))
	if err == nil || !types.IsTransportError(err) || ctx.Err() != nil {
		return res, metrics, "", err
	}
	return zero, nil, fallbackReason(err), err
}

func fallbackReason(err error) string {
	var werr *types.WorkerError
	if errors.As(err, &werr) {
		switch werr.Kind {
		case types.KindTimeout:
			return ReasonTimeout
		case types.KindFault:
			return ReasonFault
		case types.KindTerminated:
			return ReasonTerminated
		case types.KindInitialization:
			return ReasonInitialization
		}
	}
	if errors.Is(err, types.ErrWorkerFault) {
		return ReasonFault
	}
	return ReasonUnavailable
}

// fellBack records a fallback. Warnings are rate limited so a dead worker does not flood the log.
func (b *base) fellBack(op types.Operation, reason string, err error) {
	if b.o != nil {
		b.o.Metrics().Fallback(b.workerType, op, reason)
	}
	if b.warn.Allow() {
		b.logger.Warn("worker unavailable, running locally",
			zap.String("operation", string(op)),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	b.logger.Debug("worker unavailable, running locally",
		zap.String("operation", string(op)),
		zap.String("reason", reason))
}

// Package engine wires the core subsystems into the incremental context
// engine: the dependency analyzer and graph, the bounded context cache, the
// I/O optimizer, and the incremental updater. A ChangeSource feeds it file
// events; rebuilt contexts flow to registered ContextSinks.
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/contextfs/contextfs/internal/analyzer"
	"github.com/contextfs/contextfs/internal/cache"
	"github.com/contextfs/contextfs/internal/config"
	"github.com/contextfs/contextfs/internal/depgraph"
	"github.com/contextfs/contextfs/internal/ioopt"
	"github.com/contextfs/contextfs/internal/metrics"
	"github.com/contextfs/contextfs/internal/updater"
	"github.com/contextfs/contextfs/pkg/errors"
	"github.com/contextfs/contextfs/pkg/types"
	"github.com/contextfs/contextfs/pkg/utils"
)

// Engine owns the core components and their lifecycle.
type Engine struct {
	root    string
	cfg     *config.Configuration
	logger  *zap.Logger
	graph   *depgraph.Graph
	cache   *cache.ContextCache
	io      *ioopt.Optimizer
	analyze *analyzer.Analyzer
	update  *updater.Updater
	metrics *metrics.Collector

	mu        sync.Mutex
	source    types.ChangeSource
	stopCh    chan struct{}
	wg        sync.WaitGroup
	destroyed atomic.Bool
}

// New builds an engine for the project rooted at root. A nil configuration
// uses the defaults; a nil logger silences the engine.
func New(root string, cfg *config.Configuration, logger *zap.Logger) (*Engine, error) {
	normalizedRoot, err := utils.NormalizePath(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePathInvalid, "invalid project root", err).
			WithComponent("engine")
	}
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "configuration rejected", err).
			WithComponent("engine")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	graph := depgraph.New()

	contextCache := cache.New(&cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.Cache.MaxBytes,
		OnEvict: func(key string, _ any) {
			logger.Debug("context evicted", zap.String("path", key))
		},
	})

	io := ioopt.New(&cfg.IO, logger)
	an := analyzer.New(cfg.Analyzer, graph, io, logger)
	up := updater.New(&updater.Config{
		MaxConcurrentUpdates: cfg.Updater.MaxConcurrentUpdates,
		UpdateTimeout:        cfg.Updater.UpdateTimeout,
	}, contextCache, graph, an, io, logger)

	collector, err := metrics.NewCollector(&cfg.Monitoring.Metrics, logger)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternalError, "metrics setup failed", err).
			WithComponent("engine")
	}

	return &Engine{
		root:    normalizedRoot,
		cfg:     cfg,
		logger:  logger,
		graph:   graph,
		cache:   contextCache,
		io:      io,
		analyze: an,
		update:  up,
		metrics: collector,
		stopCh:  make(chan struct{}),
	}, nil
}

// Root returns the normalized project root.
func (e *Engine) Root() string {
	return e.root
}

// Graph returns the dependency graph.
func (e *Engine) Graph() *depgraph.Graph {
	return e.graph
}

// AddSink registers a sink notified after every successful update.
func (e *Engine) AddSink(sink types.ContextSink) {
	e.update.AddSink(sink)
}

// Scan performs the full project scan that cold start requires: the graph is
// rebuilt from disk, and metrics gauges refreshed.
func (e *Engine) Scan(ctx context.Context) (*types.ScanResult, error) {
	if e.destroyed.Load() {
		return nil, errors.NewError(errors.ErrCodeEngineDestroyed, "engine destroyed").
			WithComponent("engine").WithOperation("scan")
	}

	result, err := e.analyze.ScanProject(ctx, e.root)
	if err != nil {
		return nil, err
	}

	e.refreshGauges()
	return result, nil
}

// Start subscribes the engine to a change source and serves its events until
// Destroy or source exhaustion.
func (e *Engine) Start(ctx context.Context, source types.ChangeSource) error {
	if e.destroyed.Load() {
		return errors.NewError(errors.ErrCodeEngineDestroyed, "engine destroyed").
			WithComponent("engine").WithOperation("start")
	}

	e.mu.Lock()
	if e.source != nil {
		e.mu.Unlock()
		return errors.NewError(errors.ErrCodeAlreadyStarted, "engine already has a change source").
			WithComponent("engine")
	}
	e.source = source
	e.mu.Unlock()

	if err := source.Start(ctx); err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case event, ok := <-source.Events():
				if !ok {
					return
				}
				e.HandleChange(ctx, event)
			}
		}
	}()
	return nil
}

// HandleChange applies one change event. Created and Modified cascade; a
// Deleted event removes the file's context and graph node, then refreshes
// its former dependents.
func (e *Engine) HandleChange(ctx context.Context, event types.ChangeEvent) *types.UpdateResult {
	if e.destroyed.Load() {
		return &types.UpdateResult{Errors: []string{"engine destroyed"}}
	}
	if !utils.WithinRoot(e.root, event.Path) {
		// The engine only owns its project tree; foreign paths are dropped.
		e.logger.Debug("change event outside project root ignored",
			zap.String("path", event.Path))
		return &types.UpdateResult{Success: true}
	}

	e.logger.Debug("change event",
		zap.String("kind", event.Kind.String()),
		zap.String("path", event.Path))

	var result *types.UpdateResult
	switch event.Kind {
	case types.ChangeCreated, types.ChangeModified:
		result = e.ProcessUpdate(ctx, &types.UpdateRequest{
			Type:    types.UpdateCascade,
			Path:    event.Path,
			Reason:  event.Kind.String(),
			Options: types.DefaultUpdateOptions(),
		})

	case types.ChangeDeleted:
		affected := e.graph.AffectedFiles(event.Path)
		e.update.Forget(event.Path)
		e.io.InvalidatePreload(event.Path)
		e.graph.RemoveNode(event.Path)

		if len(affected) > 0 {
			opts := types.DefaultUpdateOptions()
			opts.OptimizeOrder = true
			result = e.ProcessUpdate(ctx, &types.UpdateRequest{
				Type:    types.UpdateBatch,
				Paths:   affected,
				Reason:  "dependency deleted",
				Options: opts,
			})
		} else {
			result = &types.UpdateResult{Success: true}
		}
	}

	e.refreshGauges()
	return result
}

// ProcessUpdate runs one update request through the updater, recording
// metrics.
func (e *Engine) ProcessUpdate(ctx context.Context, req *types.UpdateRequest) *types.UpdateResult {
	result := e.update.ProcessUpdate(ctx, req)
	e.metrics.RecordUpdate(req.Type.String(), result.Success, result.Duration)
	for range result.Errors {
		e.metrics.RecordError(string(errors.ErrCodeOperationFailed))
	}
	return result
}

// GetContext returns the cached context for path, touching its recency.
func (e *Engine) GetContext(path string) (*types.FileContext, bool) {
	value, ok := e.cache.Get(path)
	e.metrics.RecordCacheLookup(ok)
	if !ok {
		return nil, false
	}
	fileCtx, isCtx := value.(*types.FileContext)
	return fileCtx, isCtx
}

// Preload warms the I/O optimizer's preload cache.
func (e *Engine) Preload(paths ...string) int {
	return e.io.Preload(paths...)
}

// DetectCycles reports the graph's cyclic components.
func (e *Engine) DetectCycles() []types.CyclicDependency {
	return e.graph.DetectCycles()
}

// ExportDot emits the dependency graph in DOT form.
func (e *Engine) ExportDot() string {
	return e.graph.ToDot()
}

// Stats bundles the component statistics.
type Stats struct {
	Graph   types.GraphStats     `json:"graph"`
	Cache   types.CacheStats     `json:"cache"`
	Updater types.UpdaterStats   `json:"updater"`
	IO      ioopt.OptimizerStats `json:"io"`
}

// Stats returns a snapshot across all components.
func (e *Engine) Stats() Stats {
	return Stats{
		Graph:   e.graph.Stats(),
		Cache:   e.cache.Stats(),
		Updater: e.update.Stats(),
		IO:      e.io.Stats(),
	}
}

// Percentiles reports the updater's rolling duration percentiles.
func (e *Engine) Percentiles() types.PercentileReport {
	return e.update.Percentiles()
}

// ComponentHealth is one entry of the engine health snapshot.
type ComponentHealth struct {
	Component string `json:"component"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
}

// Health reports a lightweight per-component status.
func (e *Engine) Health() []ComponentHealth {
	destroyed := e.destroyed.Load()
	return []ComponentHealth{
		{Component: "engine", Healthy: !destroyed},
		{Component: "graph", Healthy: true},
		{Component: "cache", Healthy: e.cache.CurrentBytes() <= e.cfg.Cache.MaxBytes},
		{Component: "io", Healthy: e.io.QueueDepth() < e.cfg.IO.MaxQueueSize},
	}
}

// StartMetrics serves the Prometheus endpoint when enabled.
func (e *Engine) StartMetrics(ctx context.Context) error {
	return e.metrics.Start(ctx)
}

// Destroy shuts the engine down: the change source stops, pending I/O is
// flushed, and all caches and statistics are cleared. Later calls fail
// immediately.
func (e *Engine) Destroy(ctx context.Context) error {
	if !e.destroyed.CompareAndSwap(false, true) {
		return nil
	}

	close(e.stopCh)

	e.mu.Lock()
	source := e.source
	e.mu.Unlock()
	if source != nil {
		if err := source.Stop(); err != nil {
			e.logger.Warn("change source stop failed", zap.Error(err))
		}
	}
	e.wg.Wait()

	e.update.Destroy()
	if err := e.io.Destroy(); err != nil {
		e.logger.Warn("io optimizer shutdown failed", zap.Error(err))
	}
	e.cache.Clear()

	if err := e.metrics.Stop(ctx); err != nil {
		e.logger.Warn("metrics shutdown failed", zap.Error(err))
	}

	e.logger.Info("engine destroyed")
	return nil
}

func (e *Engine) refreshGauges() {
	graphStats := e.graph.Stats()
	e.metrics.SetGraphShape(graphStats.TotalNodes, graphStats.TotalEdges)
	e.metrics.SetCacheBytes(e.cache.CurrentBytes())
	e.metrics.SetQueueDepth(e.io.QueueDepth())
}

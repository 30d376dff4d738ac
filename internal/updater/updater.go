// Package updater orchestrates change-driven context refresh: it dispatches
// single, batch, cascade, and smart update requests, skips unchanged inputs
// by content hash, bounds concurrency with a permit set, and feeds rebuilt
// contexts to the bounded cache and the registered sinks.
package updater

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contextfs/contextfs/internal/analyzer"
	"github.com/contextfs/contextfs/internal/cache"
	"github.com/contextfs/contextfs/internal/depgraph"
	"github.com/contextfs/contextfs/pkg/errors"
	"github.com/contextfs/contextfs/pkg/types"
)

// destroyedMessage is the exact error surfaced after Destroy.
const destroyedMessage = "engine destroyed"

// Config represents incremental updater configuration
type Config struct {
	MaxConcurrentUpdates int           `yaml:"max_concurrent_updates"`
	UpdateTimeout        time.Duration `yaml:"update_timeout"`
}

// Updater is the incremental update orchestrator.
type Updater struct {
	cfg      Config
	cache    *cache.ContextCache
	graph    *depgraph.Graph
	analyzer *analyzer.Analyzer
	reader   types.FileReader
	logger   *zap.Logger

	permits chan struct{}

	mu     sync.Mutex
	hashes map[string]string
	sinks  []types.ContextSink

	stats     *Stats
	destroyed atomic.Bool
}

// New creates an incremental updater. The analyzer may be nil when graph
// edges are maintained elsewhere.
func New(cfg *Config, contextCache *cache.ContextCache, graph *depgraph.Graph,
	an *analyzer.Analyzer, reader types.FileReader, logger *zap.Logger) *Updater {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.MaxConcurrentUpdates <= 0 {
		cfg.MaxConcurrentUpdates = 5
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Updater{
		cfg:      *cfg,
		cache:    contextCache,
		graph:    graph,
		analyzer: an,
		reader:   reader,
		logger:   logger,
		permits:  make(chan struct{}, cfg.MaxConcurrentUpdates),
		hashes:   make(map[string]string),
		stats:    NewStats(),
	}
}

// AddSink registers a context sink notified after every successful update.
func (u *Updater) AddSink(sink types.ContextSink) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sinks = append(u.sinks, sink)
}

// ProcessUpdate executes one update request and returns its result. After
// Destroy the call returns immediately without attempting work.
func (u *Updater) ProcessUpdate(ctx context.Context, req *types.UpdateRequest) *types.UpdateResult {
	result := &types.UpdateResult{RequestID: uuid.NewString()}

	if u.destroyed.Load() {
		result.Errors = []string{destroyedMessage}
		return result
	}

	start := time.Now()

	switch req.Type {
	case types.UpdateSingle:
		u.processSingleInto(ctx, req.Path, req.Options, result)
	case types.UpdateBatch:
		u.processBatchInto(ctx, req.Paths, req.Options, result)
	case types.UpdateCascade:
		u.processCascadeInto(ctx, req.Path, req.Options, result)
	case types.UpdateSmart:
		u.processSmartInto(ctx, req.Path, req.Options, result)
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("unknown update type %d", req.Type))
	}

	result.Duration = time.Since(start)
	result.Success = len(result.Errors) == 0
	u.stats.Record(result)

	u.logger.Debug("update processed",
		zap.String("request_id", result.RequestID),
		zap.String("type", req.Type.String()),
		zap.String("reason", req.Reason),
		zap.Bool("success", result.Success),
		zap.Int("processed", result.ProcessedCount),
		zap.Int("skipped", result.SkippedCount),
		zap.Duration("duration", result.Duration))

	return result
}

// Stats returns aggregate updater statistics.
func (u *Updater) Stats() types.UpdaterStats {
	var memory int64
	if u.cache != nil {
		memory = u.cache.CurrentBytes()
	}
	return u.stats.Snapshot(memory)
}

// Percentiles reports the rolling duration window percentiles.
func (u *Updater) Percentiles() types.PercentileReport {
	return u.stats.Percentiles()
}

// Destroy shuts the updater down: the hash cache, the permit set, and the
// statistics are cleared, and every later ProcessUpdate fails immediately.
func (u *Updater) Destroy() {
	if !u.destroyed.CompareAndSwap(false, true) {
		return
	}

	u.mu.Lock()
	u.hashes = make(map[string]string)
	u.mu.Unlock()

	// Drain whatever permits are still held.
	for {
		select {
		case <-u.permits:
		default:
			u.stats.Reset()
			return
		}
	}
}

// processSingleInto refreshes one file's context.
func (u *Updater) processSingleInto(ctx context.Context, path string, opts types.UpdateOptions, result *types.UpdateResult) {
	if err := u.updateFile(ctx, path, opts, result); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
}

// processBatchInto refreshes a list of files sequentially, optionally in
// dependency order.
func (u *Updater) processBatchInto(ctx context.Context, paths []string, opts types.UpdateOptions, result *types.UpdateResult) {
	if opts.OptimizeOrder && u.graph != nil {
		paths = topologicalOrder(u.graph, paths)
		result.UpdateOrder = paths
	}

	for _, path := range paths {
		if err := u.updateFile(ctx, path, opts, result); err != nil {
			result.Errors = append(result.Errors, err.Error())
			if !opts.ContinueOnError {
				return
			}
		}
	}
}

// processCascadeInto refreshes a file plus everything reverse-reachable from
// it, in dependency order.
func (u *Updater) processCascadeInto(ctx context.Context, path string, opts types.UpdateOptions, result *types.UpdateResult) {
	paths := []string{path}
	if u.graph != nil {
		paths = append(paths, u.graph.AffectedFiles(path)...)

		for _, cycle := range u.graph.DetectCycles() {
			if cycleTouches(cycle.Cycle, paths) {
				result.Warnings = append(result.Warnings, cycle.Description)
			}
		}
	}

	opts.OptimizeOrder = true
	u.processBatchInto(ctx, paths, opts, result)
}

// processSmartInto serves from the cache when it is still valid, otherwise
// falls back to a single update.
func (u *Updater) processSmartInto(ctx context.Context, path string, opts types.UpdateOptions, result *types.UpdateResult) {
	if opts.UseCache && u.cacheValid(ctx, path, opts.ValidateCache) {
		result.SkippedCount++
		result.CacheHitCount++
		return
	}
	u.processSingleInto(ctx, path, opts, result)
}

// updateFile performs the per-file work under a permit and the per-file
// timeout: read, hash, optional unchanged-skip, graph reparse, cache store,
// sink notification.
func (u *Updater) updateFile(ctx context.Context, path string, opts types.UpdateOptions, result *types.UpdateResult) error {
	info, err := u.reader.Stat(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileNotFound, "file does not exist", err).
			WithComponent("updater").WithPath(path)
	}

	fctx, cancel := context.WithTimeout(ctx, u.cfg.UpdateTimeout)
	defer cancel()

	if err := u.acquirePermit(fctx); err != nil {
		return u.asTimeout(err, fctx, path)
	}
	defer u.releasePermit()

	readResult, err := u.reader.ReadFile(fctx, path)
	if err != nil {
		return u.asTimeout(err, fctx, path)
	}

	sum := md5.Sum(readResult.Content)
	hash := hex.EncodeToString(sum[:])

	if opts.SkipUnchanged && u.cache != nil {
		if prev, ok := u.cache.Peek(path); ok {
			if fileCtx, isCtx := prev.(*types.FileContext); isCtx && fileCtx.Hash == hash {
				result.SkippedCount++
				u.setHash(path, hash)
				return nil
			}
		}
	}

	fileCtx := &types.FileContext{
		Content: readResult.Content,
		Hash:    hash,
		ModTime: info.ModTime(),
		Size:    int64(len(readResult.Content)),
	}

	if u.analyzer != nil {
		u.analyzer.AnalyzeContent(path, fileCtx.Content, fileCtx.Size, fileCtx.ModTime)
	} else if u.graph != nil {
		u.graph.AddNode(path, fileCtx.Size, fileCtx.ModTime)
	}

	if u.cache != nil {
		if putErr := u.cache.Put(path, fileCtx, fileCtx.Size); putErr != nil {
			// A context too large for the cache still counts as processed.
			result.Warnings = append(result.Warnings, putErr.Error())
		}
	}
	u.setHash(path, hash)

	result.UpdatedFiles = append(result.UpdatedFiles, path)
	result.ProcessedCount++

	u.notifySinks(types.ContextUpdate{
		Path:    path,
		Hash:    fileCtx.Hash,
		Size:    fileCtx.Size,
		ModTime: fileCtx.ModTime,
		Content: fileCtx.Content,
	})
	return nil
}

// cacheValid reports whether the cached context for path can be served
// without recomputation. An invalid entry is removed before returning.
func (u *Updater) cacheValid(ctx context.Context, path string, validate bool) bool {
	if u.cache == nil {
		return false
	}
	prev, ok := u.cache.Get(path)
	if !ok {
		return false
	}
	fileCtx, isCtx := prev.(*types.FileContext)
	if !isCtx {
		u.invalidate(path)
		return false
	}
	if !validate {
		return true
	}

	if _, err := u.reader.Stat(path); err != nil {
		u.invalidate(path)
		return false
	}

	readResult, err := u.reader.ReadFile(ctx, path)
	if err != nil {
		// A failed validity read is recovered by treating the entry as
		// invalid and recomputing.
		u.invalidate(path)
		return false
	}

	sum := md5.Sum(readResult.Content)
	if hex.EncodeToString(sum[:]) != fileCtx.Hash {
		u.invalidate(path)
		return false
	}
	return true
}

func (u *Updater) invalidate(path string) {
	u.cache.Remove(path)
	u.mu.Lock()
	delete(u.hashes, path)
	u.mu.Unlock()
}

// Forget drops all cached knowledge of path: the context cache entry and the
// recorded hash. Used when a file is deleted.
func (u *Updater) Forget(path string) {
	if u.cache != nil {
		u.cache.Remove(path)
	}
	u.mu.Lock()
	delete(u.hashes, path)
	u.mu.Unlock()
}

func (u *Updater) setHash(path, hash string) {
	u.mu.Lock()
	u.hashes[path] = hash
	u.mu.Unlock()
}

// acquirePermit blocks until a concurrency permit is available or the
// context ends.
func (u *Updater) acquirePermit(ctx context.Context) error {
	select {
	case u.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeOperationCanceled, "no permit acquired", ctx.Err())
	}
}

// releasePermit returns a permit. The non-blocking receive keeps release
// safe after Destroy drained the set.
func (u *Updater) releasePermit() {
	select {
	case <-u.permits:
	default:
	}
}

// asTimeout converts a context-deadline failure into the timeout error kind;
// other errors pass through.
func (u *Updater) asTimeout(err error, fctx context.Context, path string) error {
	if fctx.Err() == context.DeadlineExceeded {
		return errors.NewError(errors.ErrCodeOperationTimeout, "file update exceeded timeout").
			WithComponent("updater").WithPath(path).WithCause(err)
	}
	return err
}

func (u *Updater) notifySinks(update types.ContextUpdate) {
	u.mu.Lock()
	sinks := make([]types.ContextSink, len(u.sinks))
	copy(sinks, u.sinks)
	u.mu.Unlock()

	for _, sink := range sinks {
		sink.OnContextUpdated(update)
	}
}

// cycleTouches reports whether a cycle shares any node with the update set.
func cycleTouches(cycle, paths []string) bool {
	set := make(map[string]struct{}, len(cycle))
	for _, c := range cycle {
		set[c] = struct{}{}
	}
	for _, p := range paths {
		if _, ok := set[p]; ok {
			return true
		}
	}
	return false
}

package ioopt

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contextfs/contextfs/pkg/errors"
	"github.com/contextfs/contextfs/pkg/types"
)

// BatcherStats tracks coalescing statistics
type BatcherStats struct {
	CoalescedReads   uint64 `json:"coalesced_reads"`
	CoalescedWrites  uint64 `json:"coalesced_writes"`
	SupersededWrites uint64 `json:"superseded_writes"`
	BatchesExecuted  uint64 `json:"batches_executed"`
	Flushes          uint64 `json:"flushes"`
}

// BatcherConfig represents coalescing configuration
type BatcherConfig struct {
	BatchWindow time.Duration `yaml:"batch_window"`
}

// readBatch holds the waiters attached to one in-flight read.
type readBatch struct {
	waiters []chan readOutcome
}

// writeOutcome carries the result of one coalesced write to its waiter.
type writeOutcome struct {
	result *types.WriteResult
	err    error
}

// writeRequest is one write held in an open batch.
type writeRequest struct {
	data      []byte
	timestamp time.Time
	seq       uint64
	resultCh  chan writeOutcome
}

// writeBatch accumulates writes to one path within the batch window.
type writeBatch struct {
	path  string
	mode  types.WriteMode
	timer *time.Timer
	reqs  []*writeRequest
}

// Batcher coalesces concurrent reads and rapid writes to the same path.
//
// Reads coalesce onto an in-flight read: the file is read once and the same
// byte snapshot is delivered to every waiter, all but the first marked as
// served from cache. Writes accumulate in a sliding window; append batches
// preserve request-timestamp order, overwrite batches are linearized
// last-arrival-wins with superseded requests reporting zero bytes written.
type Batcher struct {
	mu           sync.Mutex
	window       time.Duration
	queue        *ReadQueue
	logger       *zap.Logger
	readBatches  map[string]*readBatch
	writeBatches map[string]*writeBatch
	writeSeq     uint64
	wg           sync.WaitGroup
	stopped      bool

	stats BatcherStats
}

// NewBatcher creates a new coalescing batcher on top of a read queue
func NewBatcher(config *BatcherConfig, queue *ReadQueue, logger *zap.Logger) *Batcher {
	if config == nil {
		config = &BatcherConfig{}
	}
	if config.BatchWindow <= 0 {
		config.BatchWindow = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Batcher{
		window:       config.BatchWindow,
		queue:        queue,
		logger:       logger,
		readBatches:  make(map[string]*readBatch),
		writeBatches: make(map[string]*writeBatch),
	}
}

// Read performs a coalescing read of path. Concurrent reads of the same path
// share one underlying read; later joiners are marked FromCache.
func (b *Batcher) Read(ctx context.Context, path string, priority int) (*types.ReadResult, error) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, errors.NewError(errors.ErrCodeEngineDestroyed, "batcher stopped").
			WithComponent("ioopt").WithOperation("read")
	}

	ch := make(chan readOutcome, 1)
	if batch, exists := b.readBatches[path]; exists {
		batch.waiters = append(batch.waiters, ch)
		b.stats.CoalescedReads++
		b.mu.Unlock()
	} else {
		batch := &readBatch{waiters: []chan readOutcome{ch}}
		b.readBatches[path] = batch
		b.mu.Unlock()

		b.wg.Add(1)
		go b.executeRead(ctx, path, priority)
	}

	select {
	case outcome := <-ch:
		return outcome.result, outcome.err
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "read canceled", ctx.Err()).
			WithComponent("ioopt").WithPath(path)
	}
}

func (b *Batcher) executeRead(ctx context.Context, path string, priority int) {
	defer b.wg.Done()

	result, err := b.queue.Read(ctx, path, priority)

	b.mu.Lock()
	batch := b.readBatches[path]
	delete(b.readBatches, path)
	b.stats.BatchesExecuted++
	b.mu.Unlock()

	if batch == nil {
		return
	}
	for i, ch := range batch.waiters {
		if err != nil {
			ch <- readOutcome{err: err}
			continue
		}
		res := *result
		res.FromCache = i > 0
		ch <- readOutcome{result: &res}
	}
}

// Write submits a write for coalescing. The call blocks until the batch
// containing the request executes (window expiry or flush).
func (b *Batcher) Write(ctx context.Context, path string, data []byte, mode types.WriteMode) (*types.WriteResult, error) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, errors.NewError(errors.ErrCodeEngineDestroyed, "batcher stopped").
			WithComponent("ioopt").WithOperation("write")
	}

	b.writeSeq++
	req := &writeRequest{
		data:      data,
		timestamp: time.Now(),
		seq:       b.writeSeq,
		resultCh:  make(chan writeOutcome, 1),
	}

	batch, exists := b.writeBatches[path]
	if exists && batch.mode != mode {
		// A mode switch closes the open batch before starting a new one.
		b.detachAndRunLocked(batch)
		exists = false
	}

	if exists {
		batch.reqs = append(batch.reqs, req)
		batch.timer.Reset(b.window) // sliding window
		b.stats.CoalescedWrites++
	} else {
		batch = &writeBatch{path: path, mode: mode, reqs: []*writeRequest{req}}
		batch.timer = time.AfterFunc(b.window, func() {
			b.fireBatch(path, batch)
		})
		b.writeBatches[path] = batch
	}
	b.mu.Unlock()

	select {
	case outcome := <-req.resultCh:
		return outcome.result, outcome.err
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "write canceled", ctx.Err()).
			WithComponent("ioopt").WithPath(path)
	}
}

// Flush forces all pending write batches to execute immediately and waits
// for them to finish.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	b.stats.Flushes++
	for _, batch := range b.writeBatches {
		b.detachAndRunLocked(batch)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeOperationCanceled, "flush canceled", ctx.Err()).
			WithComponent("ioopt").WithOperation("flush")
	}
}

// Stop flushes pending batches and rejects future work.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	for _, batch := range b.writeBatches {
		b.detachAndRunLocked(batch)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

// Stats returns current batcher statistics
func (b *Batcher) Stats() BatcherStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// detachAndRunLocked removes a batch from the map and executes it
// asynchronously. Callers hold b.mu.
func (b *Batcher) detachAndRunLocked(batch *writeBatch) {
	if b.writeBatches[batch.path] != batch {
		return // already fired
	}
	batch.timer.Stop()
	delete(b.writeBatches, batch.path)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.executeWriteBatch(batch)
	}()
}

// fireBatch is the timer callback for window expiry.
func (b *Batcher) fireBatch(path string, batch *writeBatch) {
	b.mu.Lock()
	if b.writeBatches[path] != batch {
		b.mu.Unlock()
		return // flushed or superseded before the timer fired
	}
	delete(b.writeBatches, path)
	b.wg.Add(1)
	b.mu.Unlock()

	defer b.wg.Done()
	b.executeWriteBatch(batch)
}

func (b *Batcher) executeWriteBatch(batch *writeBatch) {
	start := time.Now()
	batched := len(batch.reqs) > 1

	b.mu.Lock()
	b.stats.BatchesExecuted++
	b.mu.Unlock()

	// Request-timestamp order, stable for identical stamps.
	sort.SliceStable(batch.reqs, func(i, j int) bool {
		if !batch.reqs[i].timestamp.Equal(batch.reqs[j].timestamp) {
			return batch.reqs[i].timestamp.Before(batch.reqs[j].timestamp)
		}
		return batch.reqs[i].seq < batch.reqs[j].seq
	})

	switch batch.mode {
	case types.WriteAppend:
		b.executeAppend(batch, batched, start)
	case types.WriteOverwrite:
		b.executeOverwrite(batch, batched, start)
	}
}

func (b *Batcher) executeAppend(batch *writeBatch, batched bool, start time.Time) {
	file, err := os.OpenFile(batch.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		b.failAll(batch, err)
		return
	}

	for _, req := range batch.reqs {
		n, writeErr := file.Write(req.data)
		if writeErr != nil {
			req.resultCh <- writeOutcome{err: errors.FromOSError(writeErr, batch.path).
				WithComponent("ioopt").WithOperation("write")}
			continue
		}
		req.resultCh <- writeOutcome{result: &types.WriteResult{
			BytesWritten: n,
			Batched:      batched,
			WriteTime:    time.Since(start),
		}}
	}

	if closeErr := file.Close(); closeErr != nil {
		b.logger.Warn("append batch close failed",
			zap.String("path", batch.path), zap.Error(closeErr))
	}
}

func (b *Batcher) executeOverwrite(batch *writeBatch, batched bool, start time.Time) {
	winner := batch.reqs[len(batch.reqs)-1]

	if err := os.WriteFile(batch.path, winner.data, 0o644); err != nil {
		b.failAll(batch, err)
		return
	}

	elapsed := time.Since(start)
	for _, req := range batch.reqs {
		written := 0
		if req == winner {
			written = len(winner.data)
		} else {
			b.mu.Lock()
			b.stats.SupersededWrites++
			b.mu.Unlock()
		}
		req.resultCh <- writeOutcome{result: &types.WriteResult{
			BytesWritten: written,
			Batched:      batched,
			WriteTime:    elapsed,
		}}
	}
}

func (b *Batcher) failAll(batch *writeBatch, cause error) {
	engErr := errors.FromOSError(cause, batch.path).WithComponent("ioopt").WithOperation("write")
	for _, req := range batch.reqs {
		req.resultCh <- writeOutcome{err: engErr}
	}
}

package ioopt

import (
	"container/heap"
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contextfs/contextfs/pkg/errors"
	"github.com/contextfs/contextfs/pkg/retry"
	"github.com/contextfs/contextfs/pkg/types"
)

// Read priorities. Lower numbers execute first.
const (
	PriorityHigh   = 0
	PriorityNormal = 5
	PriorityLow    = 9
)

// readOutcome carries the result of one queued read to its waiter.
type readOutcome struct {
	result *types.ReadResult
	err    error
}

// readRequest is one entry in the priority queue.
type readRequest struct {
	path     string
	priority int
	seq      uint64 // insertion order, breaks priority ties
	ctx      context.Context
	resultCh chan readOutcome
	index    int // heap bookkeeping
}

// requestHeap orders requests by priority, then insertion order.
type requestHeap []*readRequest

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	req := x.(*readRequest)
	req.index = len(*h)
	*h = append(*h, req)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return req
}

// QueueStats tracks read queue statistics
type QueueStats struct {
	Enqueued      uint64        `json:"enqueued"`
	Completed     uint64        `json:"completed"`
	Failed        uint64        `json:"failed"`
	Rejected      uint64        `json:"rejected"`
	Retries       uint64        `json:"retries"`
	TotalReadTime time.Duration `json:"total_read_time"`
}

// QueueConfig represents read queue configuration
type QueueConfig struct {
	MaxConcurrentReads int           `yaml:"max_concurrent_reads"`
	MaxQueueSize       int           `yaml:"max_queue_size"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
}

// ReadQueue executes file reads with bounded concurrency. Requests are held
// in a priority list (lower number first, ties broken by insertion order) and
// rejected synchronously once the queue holds MaxQueueSize requests,
// counting those currently executing.
type ReadQueue struct {
	mu      sync.Mutex
	pending requestHeap
	active  int
	seq     uint64
	stopped bool

	maxConcurrent int
	maxQueueSize  int

	retryPolicy retry.Policy
	logger      *zap.Logger
	wg          sync.WaitGroup

	stats QueueStats
}

// NewReadQueue creates a new read queue
func NewReadQueue(config *QueueConfig, logger *zap.Logger) *ReadQueue {
	if config == nil {
		config = &QueueConfig{}
	}
	if config.MaxConcurrentReads <= 0 {
		config.MaxConcurrentReads = 10
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = 1000
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReadQueue{
		pending:       requestHeap{},
		maxConcurrent: config.MaxConcurrentReads,
		maxQueueSize:  config.MaxQueueSize,
		retryPolicy:   retry.Policy{Retries: config.MaxRetries, Delay: config.RetryDelay},
		logger:        logger,
	}
}

// Enqueue submits a read request. The returned channel receives exactly one
// outcome. Saturation is reported synchronously with a QueueFull error.
func (q *ReadQueue) Enqueue(ctx context.Context, path string, priority int) (<-chan readOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return nil, errors.NewError(errors.ErrCodeEngineDestroyed, "read queue stopped").
			WithComponent("ioopt").WithOperation("enqueue")
	}
	if len(q.pending)+q.active >= q.maxQueueSize {
		q.stats.Rejected++
		return nil, errors.NewError(errors.ErrCodeQueueFull, "read queue saturated").
			WithComponent("ioopt").WithOperation("enqueue").WithPath(path)
	}

	q.seq++
	req := &readRequest{
		path:     path,
		priority: priority,
		seq:      q.seq,
		ctx:      ctx,
		resultCh: make(chan readOutcome, 1),
	}
	heap.Push(&q.pending, req)
	q.stats.Enqueued++

	q.dispatchLocked()
	return req.resultCh, nil
}

// Read is a convenience wrapper that enqueues and waits for the outcome.
func (q *ReadQueue) Read(ctx context.Context, path string, priority int) (*types.ReadResult, error) {
	ch, err := q.Enqueue(ctx, path, priority)
	if err != nil {
		return nil, err
	}

	select {
	case outcome := <-ch:
		return outcome.result, outcome.err
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrCodeOperationCanceled, "read canceled", ctx.Err()).
			WithComponent("ioopt").WithPath(path)
	}
}

// Stats returns current queue statistics
func (q *ReadQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Depth returns the number of requests held, including executing ones.
func (q *ReadQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + q.active
}

// Stop rejects future work, cancels queued requests, and waits for in-flight
// reads to finish.
func (q *ReadQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true

	// Drain queued requests with a cancellation outcome.
	for q.pending.Len() > 0 {
		req := heap.Pop(&q.pending).(*readRequest)
		req.resultCh <- readOutcome{err: errors.NewError(errors.ErrCodeOperationCanceled, "read queue stopped").
			WithComponent("ioopt").WithPath(req.path)}
	}
	q.mu.Unlock()

	q.wg.Wait()
}

// dispatchLocked starts workers while concurrency budget remains.
func (q *ReadQueue) dispatchLocked() {
	for q.active < q.maxConcurrent && q.pending.Len() > 0 {
		req := heap.Pop(&q.pending).(*readRequest)
		q.active++
		q.wg.Add(1)
		go q.execute(req)
	}
}

func (q *ReadQueue) execute(req *readRequest) {
	defer q.wg.Done()

	start := time.Now()
	var content []byte

	attempts := 0
	err := q.retryPolicy.Do(req.ctx, func(context.Context) error {
		attempts++
		data, readErr := os.ReadFile(req.path)
		if readErr != nil {
			return errors.FromOSError(readErr, req.path).WithComponent("ioopt").WithOperation("read")
		}
		content = data
		return nil
	})

	readTime := time.Since(start)
	outcome := readOutcome{}
	if err != nil {
		outcome.err = err
		q.logger.Debug("read failed",
			zap.String("path", req.path),
			zap.Duration("read_time", readTime),
			zap.Error(err))
	} else {
		outcome.result = &types.ReadResult{
			Content:  content,
			Size:     int64(len(content)),
			ReadTime: readTime,
		}
	}
	req.resultCh <- outcome

	q.mu.Lock()
	q.active--
	if attempts > 1 {
		q.stats.Retries += uint64(attempts - 1)
	}
	if err != nil {
		q.stats.Failed++
	} else {
		q.stats.Completed++
		q.stats.TotalReadTime += readTime
	}
	if !q.stopped {
		q.dispatchLocked()
	}
	q.mu.Unlock()
}

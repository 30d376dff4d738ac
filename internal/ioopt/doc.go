// Package ioopt implements the engine's optimized I/O path: a priority read
// queue with bounded concurrency and retry, coalescing of concurrent reads
// and rapid writes to the same path, and a preload cache validated against
// file modification times.
//
// The external surface is the Optimizer, which consults the preload cache
// first, falls back to the coalescing read path, and opportunistically warms
// the preload cache from successful reads. Writes pass through the coalescing
// batcher; append-mode writes preserve request order while overwrite-mode
// writes are linearized last-arrival-wins.
package ioopt

package ioopt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextfs/contextfs/internal/config"
	"github.com/contextfs/contextfs/pkg/errors"
	"github.com/contextfs/contextfs/pkg/types"
)

func newTestOptimizer(t *testing.T) *Optimizer {
	t.Helper()
	cfg := config.NewDefault().IO
	cfg.BatchWindow = 10 * time.Millisecond
	cfg.RetryDelay = time.Millisecond
	o := New(&cfg, nil)
	t.Cleanup(func() { _ = o.Destroy() })
	return o
}

func TestOptimizerReadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.ts", "export const a = 1")

	o := newTestOptimizer(t)

	result, err := o.ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "export const a = 1", string(result.Content))
	assert.False(t, result.FromCache)
}

func TestOptimizerSecondReadHitsPreload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.ts", "cached content")

	o := newTestOptimizer(t)

	first, err := o.ReadFile(context.Background(), path)
	require.NoError(t, err)
	require.False(t, first.FromCache)

	// The successful read warmed the preload cache.
	second, err := o.ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Zero(t, second.ReadTime)
	assert.Equal(t, "cached content", string(second.Content))

	assert.Equal(t, uint64(1), o.Stats().PreloadHits)
}

func TestOptimizerPreloadWarming(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeTestFile(t, dir, "a.ts", "a")
	b := writeTestFile(t, dir, "b.ts", "b")

	o := newTestOptimizer(t)

	loaded := o.Preload(a, b, "/missing.ts")
	assert.Equal(t, 2, loaded)

	result, err := o.ReadFile(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, result.FromCache)
}

func TestOptimizerWriteInvalidatesPreload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.ts", "v1")

	o := newTestOptimizer(t)

	_, err := o.ReadFile(context.Background(), path)
	require.NoError(t, err)

	_, err = o.WriteFile(context.Background(), path, []byte("v2"), types.WriteOverwrite)
	require.NoError(t, err)

	result, err := o.ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(result.Content))
}

func TestOptimizerStat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.ts", "abc")

	o := newTestOptimizer(t)

	info, err := o.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())

	_, err = o.Stat("/missing.ts")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFileNotFound))
}

func TestOptimizerDestroy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.ts", "x")

	o := newTestOptimizer(t)
	require.NoError(t, o.Destroy())

	_, err := o.ReadFile(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeEngineDestroyed))

	_, err = o.WriteFile(context.Background(), path, []byte("y"), types.WriteAppend)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeEngineDestroyed))

	// Destroy is idempotent.
	require.NoError(t, o.Destroy())
}

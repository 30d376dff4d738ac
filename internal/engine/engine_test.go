package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextfs/contextfs/internal/config"
	"github.com/contextfs/contextfs/internal/watcher"
	"github.com/contextfs/contextfs/pkg/types"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()

	dir := t.TempDir()
	cfg := config.NewDefault()
	cfg.IO.BatchWindow = 10 * time.Millisecond
	cfg.IO.RetryDelay = time.Millisecond

	e, err := New(dir, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Destroy(context.Background()) })
	return e, dir
}

func writeChain(t *testing.T, dir string) (main, app, header, button, utils string) {
	t.Helper()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	utils = write("utils.ts", `export const noop = () => {}`)
	button = write("button.tsx", `import { noop } from './utils';`)
	header = write("header.tsx", `import Button from './button';`)
	app = write("app.tsx", `import Header from './header';`)
	main = write("main.ts", `import App from './app';`)
	return
}

func TestEngineScanAndQuery(t *testing.T) {
	t.Parallel()

	e, dir := newTestEngine(t)
	main, _, _, _, utils := writeChain(t, dir)

	result, err := e.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.FilesScanned)
	assert.Empty(t, result.Errors)

	assert.Len(t, e.Graph().AffectedFiles(utils), 4)
	assert.Equal(t, 4, e.Graph().DependencyDepth(main, utils))
	assert.Empty(t, e.DetectCycles())
	assert.Contains(t, e.ExportDot(), "digraph")
}

func TestEngineModifiedCascade(t *testing.T) {
	t.Parallel()

	e, dir := newTestEngine(t)
	main, app, header, button, utils := writeChain(t, dir)

	_, err := e.Scan(context.Background())
	require.NoError(t, err)

	result := e.HandleChange(context.Background(), types.ChangeEvent{
		Kind:      types.ChangeModified,
		Path:      utils,
		Timestamp: time.Now(),
	})

	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.ElementsMatch(t, []string{utils, button, header, app, main}, result.UpdatedFiles)
	assert.Equal(t, []string{utils, button, header, app, main}, result.UpdateOrder)

	// The rebuilt context is queryable.
	fileCtx, ok := e.GetContext(utils)
	require.True(t, ok)
	assert.NotEmpty(t, fileCtx.Hash)
	assert.Equal(t, int64(len("export const noop = () => {}")), fileCtx.Size)
}

func TestEngineDeleteRefreshesDependents(t *testing.T) {
	t.Parallel()

	e, dir := newTestEngine(t)
	main, app, header, button, utils := writeChain(t, dir)

	_, err := e.Scan(context.Background())
	require.NoError(t, err)

	// Populate the cache first.
	require.True(t, e.HandleChange(context.Background(), types.ChangeEvent{
		Kind: types.ChangeModified, Path: utils,
	}).Success)
	_, cached := e.GetContext(utils)
	require.True(t, cached)

	// Break button's import so the refresh still succeeds, then delete utils.
	require.NoError(t, os.WriteFile(button, []byte("export const Button = 1"), 0o644))
	require.NoError(t, os.Remove(utils))

	result := e.HandleChange(context.Background(), types.ChangeEvent{
		Kind: types.ChangeDeleted, Path: utils,
	})

	require.True(t, result.Success, "errors: %v", result.Errors)
	// Only button actually changed; the other dependents skip by hash.
	assert.Equal(t, []string{button}, result.UpdatedFiles)
	assert.Equal(t, 3, result.SkippedCount)
	assert.ElementsMatch(t, []string{button, header, app, main}, result.UpdateOrder)

	assert.False(t, e.Graph().HasNode(utils))
	_, stillCached := e.GetContext(utils)
	assert.False(t, stillCached)
}

func TestEngineChannelSourceFlow(t *testing.T) {
	t.Parallel()

	e, dir := newTestEngine(t)
	_, _, _, _, utils := writeChain(t, dir)

	_, err := e.Scan(context.Background())
	require.NoError(t, err)

	var updates []types.ContextUpdate
	done := make(chan struct{}, 16)
	e.AddSink(types.ContextSinkFunc(func(update types.ContextUpdate) {
		updates = append(updates, update)
		done <- struct{}{}
	}))

	source := watcher.NewChannelSource(8)
	require.NoError(t, e.Start(context.Background(), source))
	require.True(t, source.Post(types.ChangeModified, utils))

	// Five files rebuild on the cascade.
	for i := 0; i < 5; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d sink notifications", i)
		}
	}
	assert.GreaterOrEqual(t, len(updates), 5)
}

func TestEngineSmartUpdateThroughFacade(t *testing.T) {
	t.Parallel()

	e, dir := newTestEngine(t)
	_, _, _, _, utils := writeChain(t, dir)

	opts := types.UpdateOptions{UseCache: true, ValidateCache: true}
	first := e.ProcessUpdate(context.Background(), &types.UpdateRequest{
		Type: types.UpdateSmart, Path: utils, Options: opts,
	})
	require.True(t, first.Success)
	assert.Equal(t, 1, first.ProcessedCount)

	second := e.ProcessUpdate(context.Background(), &types.UpdateRequest{
		Type: types.UpdateSmart, Path: utils, Options: opts,
	})
	require.True(t, second.Success)
	assert.Equal(t, 1, second.SkippedCount)
	assert.Equal(t, 1, second.CacheHitCount)
}

func TestEngineStatsAndHealth(t *testing.T) {
	t.Parallel()

	e, dir := newTestEngine(t)
	writeChain(t, dir)

	_, err := e.Scan(context.Background())
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, 5, stats.Graph.TotalNodes)
	assert.Equal(t, 4, stats.Graph.TotalEdges)

	for _, h := range e.Health() {
		assert.True(t, h.Healthy, "component %s unhealthy", h.Component)
	}
}

func TestEngineDestroy(t *testing.T) {
	t.Parallel()

	e, dir := newTestEngine(t)
	_, _, _, _, utils := writeChain(t, dir)
	_, err := e.Scan(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.Destroy(context.Background()))

	result := e.ProcessUpdate(context.Background(), &types.UpdateRequest{
		Type: types.UpdateSingle, Path: utils,
	})
	assert.False(t, result.Success)
	assert.Equal(t, []string{"engine destroyed"}, result.Errors)

	_, scanErr := e.Scan(context.Background())
	assert.Error(t, scanErr)

	// Destroy is idempotent.
	require.NoError(t, e.Destroy(context.Background()))
}

func TestEngineIgnoresOutOfRootEvents(t *testing.T) {
	t.Parallel()

	e, dir := newTestEngine(t)
	writeChain(t, dir)
	_, err := e.Scan(context.Background())
	require.NoError(t, err)

	outside := filepath.Join(filepath.Dir(dir), "elsewhere.ts")
	result := e.HandleChange(context.Background(), types.ChangeEvent{
		Kind: types.ChangeModified, Path: outside, Timestamp: time.Now(),
	})

	require.True(t, result.Success)
	assert.Empty(t, result.UpdatedFiles)
	assert.Zero(t, e.Stats().Updater.TotalUpdates, "foreign paths must not reach the updater")
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefault()
	cfg.Cache.MaxBytes = 0

	_, err := New(t.TempDir(), cfg, nil)
	assert.Error(t, err)
}

func TestEnginePreloadWarming(t *testing.T) {
	t.Parallel()

	e, dir := newTestEngine(t)
	_, _, _, _, utils := writeChain(t, dir)

	assert.Equal(t, 1, e.Preload(utils))
	assert.Equal(t, 0, e.Preload(filepath.Join(dir, "missing.ts")))
}

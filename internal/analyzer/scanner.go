package analyzer

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/contextfs/contextfs/pkg/types"
	"github.com/contextfs/contextfs/pkg/utils"
)

// ScanProject recursively walks root, parsing every retained source file and
// rebuilding the graph's edges. Ignored paths are skipped, unresolved
// references dropped, and per-file read errors recorded without aborting the
// scan. Nodes from a previous scan that the walk no longer encounters are
// removed.
func (a *Analyzer) ScanProject(ctx context.Context, root string) (*types.ScanResult, error) {
	start := time.Now()

	normalizedRoot, err := utils.NormalizePath(root)
	if err != nil {
		return nil, err
	}

	result := &types.ScanResult{}
	seen := make(map[string]struct{})

	walkErr := filepath.WalkDir(normalizedRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(normalizedRoot, path)
		if relErr != nil {
			rel = path
		}

		if d.IsDir() {
			if path == normalizedRoot {
				return nil
			}
			if a.dirDepth(rel) >= a.cfg.MaxDepth {
				return filepath.SkipDir
			}
			if a.shouldIgnoreDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !a.hasRecognizedExtension(path) {
			return nil
		}
		if a.shouldIgnoreFile(rel) {
			return nil
		}

		seen[path] = struct{}{}
		if _, analyzeErr := a.AnalyzeFile(ctx, path); analyzeErr != nil {
			result.Errors = append(result.Errors, analyzeErr.Error())
			a.logger.Warn("scan: file skipped",
				zap.String("path", path), zap.Error(analyzeErr))
			return nil
		}
		result.FilesScanned++
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, walkErr
		}
		result.Errors = append(result.Errors, walkErr.Error())
	}

	// A rescan is the only point where nodes disappear: drop everything the
	// walk no longer produced.
	for _, existing := range a.graph.Nodes() {
		if _, stillPresent := seen[existing]; !stillPresent {
			a.graph.RemoveNode(existing)
		}
	}

	result.Cycles = a.graph.DetectCycles()
	result.Duration = time.Since(start)

	a.logger.Info("project scan complete",
		zap.String("root", normalizedRoot),
		zap.Int("files", result.FilesScanned),
		zap.Int("errors", len(result.Errors)),
		zap.Int("cycles", len(result.Cycles)),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// dirDepth counts path segments of a root-relative directory path.
func (a *Analyzer) dirDepth(rel string) int {
	if rel == "." || rel == "" {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// shouldIgnoreFile matches a root-relative file path against the configured
// glob patterns. `**` spans path segments, `*` stays within one, `?` matches
// a single character.
func (a *Analyzer) shouldIgnoreFile(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range a.cfg.IgnorePatterns {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}

// shouldIgnoreDir decides whether a whole directory subtree can be pruned:
// a pattern of the form <prefix>/** matching the directory itself covers
// everything below it.
func (a *Analyzer) shouldIgnoreDir(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range a.cfg.IgnorePatterns {
		if strings.HasSuffix(pattern, "/**") {
			prefix := strings.TrimSuffix(pattern, "/**")
			if matched, err := doublestar.Match(prefix, rel); err == nil && matched {
				return true
			}
		}
	}
	return false
}

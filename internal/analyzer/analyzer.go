// Package analyzer extracts module references from source files, resolves
// them to on-disk paths, and keeps the dependency graph in sync through full
// project scans and incremental reparses.
//
// The recognizer is intentionally lexical, not a parser: it scans for static
// imports, dynamic imports, and CommonJS requires simultaneously and
// tolerates false positives from strings inside comments. Unresolved
// references are dropped silently after a resolution attempt.
package analyzer

import (
	"context"
	"os"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/contextfs/contextfs/internal/config"
	"github.com/contextfs/contextfs/internal/depgraph"
	"github.com/contextfs/contextfs/pkg/types"
)

var (
	// Static imports: `import defaultExport from "x"`, `import {a, b} from "x"`,
	// `import * as ns from "x"`, and side-effect `import "x"`.
	staticImportRe = regexp.MustCompile(`import\s+(?:[\w${},*\s]+from\s+)?["']([^"']+)["']`)

	// Dynamic imports: `import("x")`.
	dynamicImportRe = regexp.MustCompile(`import\s*\(\s*["']([^"']+)["']\s*\)`)

	// CommonJS requires: `require("x")`.
	requireRe = regexp.MustCompile(`require\s*\(\s*["']([^"']+)["']\s*\)`)
)

// Analyzer parses source files for module references and maintains the
// dependency graph.
type Analyzer struct {
	cfg    config.AnalyzerConfig
	graph  *depgraph.Graph
	reader types.FileReader
	logger *zap.Logger
}

// directReader is the fallback FileReader reading straight from the OS.
type directReader struct{}

func (directReader) ReadFile(_ context.Context, path string) (*types.ReadResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &types.ReadResult{Content: content, Size: int64(len(content))}, nil
}

func (directReader) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// New creates a dependency analyzer. A nil reader falls back to direct OS
// reads; the engine wires the I/O optimizer in instead.
func New(cfg config.AnalyzerConfig, graph *depgraph.Graph, reader types.FileReader, logger *zap.Logger) *Analyzer {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = config.NewDefault().Analyzer.Extensions
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 50
	}
	if reader == nil {
		reader = directReader{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Analyzer{
		cfg:    cfg,
		graph:  graph,
		reader: reader,
		logger: logger,
	}
}

// Graph returns the graph this analyzer maintains.
func (a *Analyzer) Graph() *depgraph.Graph {
	return a.graph
}

// ExtractReferences scans text content for module reference strings using
// the three lexical patterns, deduplicated. Static imports come first, then
// dynamic imports, then require calls, each group in text order. Bare
// specifiers are dropped when external references are excluded.
func (a *Analyzer) ExtractReferences(content []byte) []string {
	text := string(content)

	var refs []string
	seen := make(map[string]struct{})
	collect := func(matches [][]string) {
		for _, m := range matches {
			ref := m[1]
			if _, dup := seen[ref]; dup {
				continue
			}
			if a.cfg.ExcludeExternal && isExternalReference(ref) {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}

	collect(staticImportRe.FindAllStringSubmatch(text, -1))
	collect(dynamicImportRe.FindAllStringSubmatch(text, -1))
	collect(requireRe.FindAllStringSubmatch(text, -1))

	return refs
}

// isExternalReference reports whether ref names a bare specifier rather than
// a relative or absolute filesystem reference.
func isExternalReference(ref string) bool {
	if len(ref) == 0 {
		return true
	}
	if ref[0] == '/' {
		return false
	}
	if len(ref) >= 2 && ref[:2] == "./" {
		return false
	}
	if len(ref) >= 3 && ref[:3] == "../" {
		return false
	}
	return true
}

// AnalyzeFile re-extracts references from one file, refreshes its node, and
// replaces its forward edge set, leaving reverse edges consistent. Other
// nodes are not re-parsed. The resolved dependency paths are returned.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) ([]string, error) {
	result, err := a.reader.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}

	var size int64
	modTime := zeroTime
	if info, statErr := a.reader.Stat(path); statErr == nil {
		size = info.Size()
		modTime = info.ModTime()
	} else {
		size = result.Size
	}

	return a.AnalyzeContent(path, result.Content, size, modTime), nil
}

// AnalyzeContent updates the graph from already-read file bytes, for callers
// that hold the content anyway.
func (a *Analyzer) AnalyzeContent(path string, content []byte, size int64, modTime time.Time) []string {
	refs := a.ExtractReferences(content)
	resolved := a.resolveAll(refs, path)

	a.graph.AddNode(path, size, modTime)
	a.graph.SetDependencies(path, resolved)

	return resolved
}

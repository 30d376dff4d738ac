package analyzer

import (
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/contextfs/contextfs/pkg/utils"
)

var zeroTime time.Time

// ResolveReference turns a module reference into an absolute on-disk path:
//
//  1. A reference already carrying a recognized extension wins if the file
//     exists.
//  2. Otherwise each configured extension is appended in order.
//  3. Otherwise index.<ext> inside the referenced directory is tried.
//
// The boolean reports whether resolution succeeded.
func (a *Analyzer) ResolveReference(ref, baseDir string) (string, bool) {
	var resolved string
	if filepath.IsAbs(ref) {
		resolved = filepath.Clean(ref)
	} else {
		resolved = filepath.Clean(filepath.Join(baseDir, ref))
	}

	if a.hasRecognizedExtension(resolved) && utils.FileExists(resolved) {
		return resolved, true
	}

	for _, ext := range a.cfg.Extensions {
		candidate := resolved + ext
		if utils.FileExists(candidate) {
			return candidate, true
		}
	}

	for _, ext := range a.cfg.Extensions {
		candidate := filepath.Join(resolved, "index"+ext)
		if utils.FileExists(candidate) {
			return candidate, true
		}
	}

	return "", false
}

// resolveAll resolves refs against the importing file's directory, dropping
// what cannot be resolved.
func (a *Analyzer) resolveAll(refs []string, importer string) []string {
	baseDir := filepath.Dir(importer)

	resolved := make([]string, 0, len(refs))
	for _, ref := range refs {
		target, ok := a.ResolveReference(ref, baseDir)
		if !ok {
			a.logger.Debug("unresolved reference",
				zap.String("importer", importer), zap.String("ref", ref))
			continue
		}
		resolved = append(resolved, target)
	}
	return resolved
}

func (a *Analyzer) hasRecognizedExtension(path string) bool {
	ext := filepath.Ext(path)
	if ext == "" {
		return false
	}
	for _, recognized := range a.cfg.Extensions {
		if strings.EqualFold(ext, recognized) {
			return true
		}
	}
	return false
}

// Package existence checks that artifacts an agent claims to have produced
// are really on disk inside the workspace.
package existence

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qorelogic/sentinel/internal/types"
)

// Result IDs
const (
	NoWorkspaceID = "EXS000"
	MissingID     = "EXS001"
	TraversalID   = "EXS002"
)

// Engine validates claims against one workspace root
type Engine struct {
	root string
}

// New returns an Engine for root. An empty root yields a single degraded
// EXS000 result for every claim.
func New(root string) *Engine {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		if resolved, err := filepath.EvalSymlinks(root); err == nil {
			root = resolved
		}
	}
	return &Engine{root: root}
}

// Root returns the resolved workspace root
func (e *Engine) Root() string {
	return e.root
}

// ValidateClaim returns one result per claimed path: EXS002 when the path
// escapes the workspace, otherwise EXS001, matched when the file is missing
func (e *Engine) ValidateClaim(paths []string) []types.HeuristicResult {
	if e.root == "" {
		return []types.HeuristicResult{{
			PatternID: NoWorkspaceID,
			Matched:   true,
			Severity:  types.SeverityMedium,
			Location:  &types.Location{Snippet: "No workspace root available"},
		}}
	}

	results := make([]types.HeuristicResult, 0, len(paths))
	for _, claimed := range paths {
		abs, inside := e.resolve(claimed)
		if !inside {
			results = append(results, types.HeuristicResult{
				PatternID: TraversalID,
				Matched:   true,
				Severity:  types.SeverityCritical,
				Location:  &types.Location{Snippet: "Path traversal detected: " + claimed},
			})
			continue
		}

		result := types.HeuristicResult{PatternID: MissingID, Severity: types.SeverityCritical}
		if _, err := os.Stat(abs); err != nil {
			result.Matched = true
			result.Location = &types.Location{Snippet: fmt.Sprintf("Claimed file missing: %s", claimed)}
		}
		results = append(results, result)
	}
	return results
}

// resolve joins claimed onto the root and reports whether the result stays
// inside it, following symlinks for paths that exist
func (e *Engine) resolve(claimed string) (string, bool) {
	abs := claimed
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(e.root, claimed)
	}
	abs = filepath.Clean(abs)
	if !within(e.root, abs) {
		return abs, false
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil && !within(e.root, resolved) {
		return resolved, false
	}
	return abs, true
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

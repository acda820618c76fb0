package heuristics

import (
	"fmt"
	"path/filepath"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"

	"github.com/qorelogic/sentinel/internal/types"
)

func isGoMod(path string) bool {
	return filepath.Base(path) == "go.mod"
}

// analyzeGoMod emits one result for each dependency check: local replace
// directives (DEP001), pre-release or pseudo-version requirements (DEP002)
// and an unparseable file (DEP003).
func analyzeGoMod(path string, content []byte) []types.HeuristicResult {
	localReplace := types.HeuristicResult{PatternID: LocalReplaceID, Severity: types.SeverityHigh}
	unstable := types.HeuristicResult{PatternID: UnstableVersionID, Severity: types.SeverityLow}
	parseErr := types.HeuristicResult{PatternID: ModParseErrorID, Severity: types.SeverityMedium}

	f, err := modfile.Parse(path, content, nil)
	if err != nil {
		parseErr.Matched = true
		parseErr.Location = &types.Location{Line: 1, Column: 1, Snippet: truncate(err.Error(), maxSnippet)}
		return []types.HeuristicResult{localReplace, unstable, parseErr}
	}

	for _, r := range f.Replace {
		if modfile.IsDirectoryPath(r.New.Path) {
			localReplace.Matched = true
			localReplace.Location = syntaxLocation(r.Syntax, fmt.Sprintf("replace %s => %s", r.Old.Path, r.New.Path))
			break
		}
	}

	for _, r := range f.Require {
		v := r.Mod.Version
		if module.IsPseudoVersion(v) || semver.Prerelease(v) != "" {
			unstable.Matched = true
			unstable.Location = syntaxLocation(r.Syntax, fmt.Sprintf("require %s %s", r.Mod.Path, v))
			break
		}
	}

	return []types.HeuristicResult{localReplace, unstable, parseErr}
}

func syntaxLocation(line *modfile.Line, snippet string) *types.Location {
	loc := &types.Location{Line: 1, Column: 1, Snippet: truncate(snippet, maxSnippet)}
	if line != nil {
		loc.Line = line.Start.Line
		loc.Column = line.Start.LineRune
	}
	return loc
}

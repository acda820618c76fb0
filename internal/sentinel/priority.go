package sentinel

import (
	"path/filepath"
	"strings"

	"github.com/qorelogic/sentinel/internal/types"
)

// DefaultCodeExtensions are the file types the daemon audits on change
var DefaultCodeExtensions = []string{
	".ts", ".js", ".tsx", ".jsx", ".py", ".go", ".rs", ".java", ".c", ".cpp", ".h", ".cs",
}

var (
	criticalHints = []string{"auth", "password", "crypto", "secret"}
	highHints     = []string{"api", "service", "controller"}
	lowHints      = []string{"test", "spec"}
)

// PriorityForPath ranks a changed file by how sensitive its path looks
func PriorityForPath(path string) types.Priority {
	lower := strings.ToLower(path)
	switch {
	case containsAny(lower, criticalHints):
		return types.PriorityCritical
	case containsAny(lower, highHints):
		return types.PriorityHigh
	case containsAny(lower, lowHints):
		return types.PriorityLow
	}
	return types.PriorityNormal
}

// isCodeFile reports whether path has one of exts. go.mod is always
// audited for dependency checks.
func isCodeFile(path string, exts []string) bool {
	if filepath.Base(path) == "go.mod" {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Package heuristics runs regex pattern checks, a complexity estimate and
// go.mod dependency checks over file content.
package heuristics

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/types"
)

// Complexity thresholds for the synthetic CMP001 result
const (
	ComplexityMedium = 10
	ComplexityHigh   = 20
)

// DefaultMaxScanBytes bounds how much content patterns are run against
const DefaultMaxScanBytes = 1 << 20

const maxSnippet = 100

// Config configures an Engine
type Config struct {
	// Patterns defaults to DefaultPatterns()
	Patterns     []types.HeuristicPattern
	MaxScanBytes int
	Logger       zerolog.Logger
}

type compiledPattern struct {
	types.HeuristicPattern
	re *regexp.Regexp
}

// Engine evaluates a fixed set of compiled patterns. Analyze has no side
// effects and is safe for concurrent use.
type Engine struct {
	maxScan int
	logger  zerolog.Logger

	mu       sync.RWMutex
	patterns []*compiledPattern
}

// New compiles cfg.Patterns, dropping any that fail validation
func New(cfg Config) *Engine {
	if cfg.Patterns == nil {
		cfg.Patterns = DefaultPatterns()
	}
	if cfg.MaxScanBytes <= 0 {
		cfg.MaxScanBytes = DefaultMaxScanBytes
	}
	e := &Engine{
		maxScan: cfg.MaxScanBytes,
		logger:  cfg.Logger.With().Str("component", "heuristics").Logger(),
	}
	seen := make(map[string]bool)
	for _, p := range cfg.Patterns {
		if seen[p.ID] {
			e.logger.Warn().Str("pattern", p.ID).Msg("duplicate pattern id ignored")
			continue
		}
		re, err := compile(p)
		if err != nil {
			e.logger.Warn().Err(err).Str("pattern", p.ID).Msg("dropping invalid pattern")
			continue
		}
		seen[p.ID] = true
		e.patterns = append(e.patterns, &compiledPattern{HeuristicPattern: p, re: re})
	}
	return e
}

// Patterns returns copies of the loaded patterns
func (e *Engine) Patterns() []types.HeuristicPattern {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.HeuristicPattern, len(e.patterns))
	for i, p := range e.patterns {
		out[i] = p.HeuristicPattern
	}
	return out
}

// SetEnabled toggles a pattern and reports whether it exists
func (e *Engine) SetEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.patterns {
		if p.ID == id {
			p.Enabled = enabled
			return true
		}
	}
	return false
}

// Analyze returns exactly one result per enabled pattern, followed by any
// synthetic complexity and go.mod results. Nil content yields unmatched
// pattern results only.
func (e *Engine) Analyze(path string, content []byte) []types.HeuristicResult {
	text := string(content)
	scan := text
	if len(scan) > e.maxScan {
		scan = scan[:e.maxScan]
	}

	e.mu.RLock()
	results := make([]types.HeuristicResult, 0, len(e.patterns)+1)
	for _, p := range e.patterns {
		if !p.Enabled {
			continue
		}
		result := types.HeuristicResult{PatternID: p.ID, Severity: p.Severity}
		if scan != "" {
			if loc := p.re.FindStringIndex(scan); loc != nil {
				result.Matched = true
				result.Location = locate(scan, loc[0])
			}
		}
		results = append(results, result)
	}
	e.mu.RUnlock()

	if scan == "" {
		return results
	}

	if c := Complexity(scan); c > ComplexityMedium {
		severity := types.SeverityMedium
		if c > ComplexityHigh {
			severity = types.SeverityHigh
		}
		results = append(results, types.HeuristicResult{
			PatternID: ComplexityPatternID,
			Matched:   true,
			Severity:  severity,
			Location:  &types.Location{Line: 1, Column: 1, Snippet: fmt.Sprintf("Cyclomatic complexity: %d", c)},
		})
	}

	if isGoMod(path) {
		results = append(results, analyzeGoMod(path, content)...)
	}
	return results
}

// locate converts a byte offset into a 1-based line/column and the trimmed
// line as snippet
func locate(content string, offset int) *types.Location {
	lineStart := strings.LastIndexByte(content[:offset], '\n') + 1
	lineEnd := strings.IndexByte(content[lineStart:], '\n')
	if lineEnd < 0 {
		lineEnd = len(content)
	} else {
		lineEnd += lineStart
	}
	return &types.Location{
		Line:    strings.Count(content[:offset], "\n") + 1,
		Column:  utf8.RuneCountInString(content[lineStart:offset]) + 1,
		Snippet: truncate(strings.TrimSpace(content[lineStart:lineEnd]), maxSnippet),
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

var branchTokens = []*regexp.Regexp{
	regexp.MustCompile(`\bif\s*\(`),
	regexp.MustCompile(`\belse\s+if\s*\(`),
	regexp.MustCompile(`\bfor\s*\(`),
	regexp.MustCompile(`\bwhile\s*\(`),
	regexp.MustCompile(`\bswitch\s*\(`),
	regexp.MustCompile(`\bcase\s+`),
	regexp.MustCompile(`\bcatch\s*\(`),
	regexp.MustCompile(`\?\s*[^:\n]+\s*:`),
	regexp.MustCompile(`&&`),
	regexp.MustCompile(`\|\|`),
	// Go forms without parentheses
	regexp.MustCompile(`\bif\s+[^(\s]`),
	regexp.MustCompile(`\bfor\s+[^(\s{]`),
	regexp.MustCompile(`\bfor\s*\{`),
	regexp.MustCompile(`\bswitch\s+[^(\s{]`),
	regexp.MustCompile(`\bswitch\s*\{`),
	regexp.MustCompile(`\bselect\s*\{`),
}

// Complexity approximates cyclomatic complexity as one plus the number of
// branching tokens
func Complexity(content string) int {
	complexity := 1
	for _, re := range branchTokens {
		complexity += len(re.FindAllStringIndex(content, -1))
	}
	return complexity
}
